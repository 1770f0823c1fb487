package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"whisper-desk/internal/bootstrap"
)

func newDeleteCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <model>",
		Aliases: []string{"rm"},
		Short:   "Delete a downloaded model from disk",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withServices(cmd.Context(), func(s *bootstrap.Services) error {
				result, err := s.Lifecycle.RequestDelete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !result.Confirmed {
					fmt.Fprintln(r.out, "aborted")
					return nil
				}
				fmt.Fprintf(r.out, "deleted %s, freed %s\n", result.ModelID, humanize.Bytes(uint64(result.FreedBytes)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&r.assumeYes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newSelectCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "select <model>",
		Short: "Select the downloaded model used for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withServices(cmd.Context(), func(s *bootstrap.Services) error {
				if err := s.Lifecycle.RequestSelect(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(r.out, "selected %s\n", args[0])
				return nil
			})
		},
	}
}

func newHistoryCommand(r *runner) *cobra.Command {
	var (
		modelID string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent model downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withServices(cmd.Context(), func(s *bootstrap.Services) error {
				if s.History == nil {
					return fmt.Errorf("download history is not available")
				}
				records, err := s.History.List(cmd.Context(), modelID, limit)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(r.out, "no downloads recorded")
					return nil
				}
				tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FINISHED\tMODEL\tOUTCOME\tRECEIVED\tDURATION\tREASON")
				for _, rec := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						humanize.Time(rec.FinishedAt),
						rec.ModelID,
						rec.Outcome,
						humanize.Bytes(uint64(rec.BytesReceived)),
						rec.Duration().Round(100*time.Millisecond),
						rec.Reason,
					)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "only show downloads of this model")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of rows")
	return cmd
}

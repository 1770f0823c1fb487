package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"whisper-desk/internal/bootstrap"
	"whisper-desk/internal/models"
)

func newDownloadCommand(r *runner) *cobra.Command {
	var selectAfter bool
	cmd := &cobra.Command{
		Use:   "download <model>",
		Short: "Download a model; Ctrl-C cancels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return r.withServices(ctx, func(s *bootstrap.Services) error {
				id := args[0]
				handle, err := s.Downloads.Start(id, nil)
				if errors.Is(err, models.ErrAlreadyDownloaded) {
					fmt.Fprintf(r.out, "%s is already downloaded\n", id)
					return selectIf(r, s, id, selectAfter)
				}
				if err != nil {
					return err
				}
				if err := followDownload(ctx, r, s, id, handle); err != nil {
					return err
				}
				return selectIf(r, s, id, selectAfter)
			})
		},
	}
	cmd.Flags().BoolVar(&selectAfter, "select", false, "select the model once it is on disk")
	return cmd
}

// followDownload renders progress for the download of modelID until it ends.
// Without a handle it follows whatever session the orchestrator reports. A
// done ctx cancels the download.
func followDownload(ctx context.Context, r *runner, s *bootstrap.Services, modelID string, handle *models.Handle) error {
	var events <-chan models.SessionEvent
	if handle != nil {
		events = handle.Events()
	} else {
		ch := make(chan models.SessionEvent, 64)
		unsubscribe := s.Downloads.Subscribe(func(ev models.SessionEvent) {
			if ev.ModelID != modelID {
				return
			}
			select {
			case ch <- ev:
			default:
			}
		})
		defer unsubscribe()
		if !s.Downloads.IsActive(modelID) {
			return nil
		}
		events = ch
	}

	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	cancelled := ctx.Done()
	for {
		select {
		case <-cancelled:
			s.Downloads.Cancel(modelID)
			cancelled = nil
		case ev, ok := <-events:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			if ev.Kind == models.SessionEventProgress {
				fmt.Fprintf(r.out, "\r%s", progressLine(modelID, ev.Progress))
				continue
			}
			fmt.Fprintln(r.out)
			return outcomeError(modelID, *ev.Outcome)
		case <-poll.C:
			// Subscribed listeners may drop ticks; never wait on a finished session.
			if handle == nil && !s.Downloads.IsActive(modelID) {
				fmt.Fprintln(r.out)
				return nil
			}
		}
	}
}

func progressLine(modelID string, p models.Progress) string {
	line := fmt.Sprintf("%s %5.1f%% %s", modelID, p.Fraction*100, humanize.Bytes(uint64(p.BytesReceived)))
	if p.BytesTotal > 0 {
		line += " / " + humanize.Bytes(uint64(p.BytesTotal))
	}
	if p.BytesPerSecond > 0 {
		line += fmt.Sprintf(" (%s/s)", humanize.Bytes(uint64(p.BytesPerSecond)))
	}
	return line
}

func outcomeError(modelID string, outcome models.Outcome) error {
	switch outcome.Kind {
	case models.OutcomeSucceeded:
		return nil
	case models.OutcomeCancelled:
		return fmt.Errorf("download %s cancelled", modelID)
	default:
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("download %s failed: %s", modelID, outcome.Reason)
	}
}

func selectIf(r *runner, s *bootstrap.Services, modelID string, enabled bool) error {
	if !enabled {
		return nil
	}
	if err := s.Lifecycle.RequestSelect(modelID); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "selected %s\n", modelID)
	return nil
}

package cli

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"whisper-desk/internal/bootstrap"
	"whisper-desk/internal/domain"
)

var errChecksFailed = errors.New("one or more checks failed")

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func newCheckCommand(r *runner) *cobra.Command {
	var fix string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check model storage and the selected model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withServices(cmd.Context(), func(s *bootstrap.Services) error {
				if fix != "" {
					msg, err := s.FixDiagnostic(fix)
					if err != nil {
						return fmt.Errorf("fix %s: %w", fix, err)
					}
					fmt.Fprintln(r.out, msg)
					// A fix may have started a download; let it finish.
					if info, ok := s.Downloads.Active(); ok {
						if err := followDownload(cmd.Context(), r, s, info.ModelID, nil); err != nil {
							return err
						}
					}
				}

				report := s.Diagnose()
				for _, item := range report.Items {
					fmt.Fprintf(r.out, "%-6s %-16s %s\n", statusTag(item.Status), item.ID, item.Message)
					if item.Hint != "" && item.Status != domain.DiagnosticStatusPass {
						fmt.Fprintf(r.out, "       hint: %s\n", item.Hint)
					}
				}
				if report.HasFailures {
					return errChecksFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fix, "fix", "", "apply the automatic fix for a check id before reporting")
	return cmd
}

func statusTag(s domain.DiagnosticStatus) string {
	switch s {
	case domain.DiagnosticStatusPass:
		return passStyle.Render("ok")
	case domain.DiagnosticStatusWarn:
		return warnStyle.Render("warn")
	default:
		return errorStyle.Render("fail")
	}
}

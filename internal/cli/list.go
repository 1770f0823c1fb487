package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"whisper-desk/internal/bootstrap"
	"whisper-desk/internal/picker"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	idStyle     = lipgloss.NewStyle().Width(16)
	nameStyle   = lipgloss.NewStyle().Width(18)
	sizeStyle   = lipgloss.NewStyle().Width(10).Align(lipgloss.Right)
	statusStyle = lipgloss.NewStyle().Width(16).PaddingLeft(2)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	badgeStyles = map[picker.Badge]lipgloss.Style{
		picker.BadgeSelected:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		picker.BadgeFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		picker.BadgeRecommended: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		picker.BadgeDownloaded:  lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

func newListCommand(r *runner) *cobra.Command {
	var (
		filter string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known models and their local status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withServices(cmd.Context(), func(s *bootstrap.Services) error {
				active, downloading := s.Downloads.Active()
				view := picker.Filter(picker.Project(s.Catalog.Snapshot(), active, downloading), filter)
				if asJSON {
					enc := json.NewEncoder(r.out)
					enc.SetIndent("", "  ")
					return enc.Encode(view)
				}
				renderView(r.out, view)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "fuzzy filter on model id or name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the picker view as JSON")
	return cmd
}

func renderView(w io.Writer, view picker.View) {
	if len(view.Rows) == 0 {
		fmt.Fprintln(w, "no matching models")
		return
	}
	fmt.Fprintln(w, headerStyle.Render(
		idStyle.Render("ID")+nameStyle.Render("NAME")+sizeStyle.Render("SIZE")+statusStyle.Render("STATUS")+"BADGE"))
	for _, row := range view.Rows {
		line := idStyle.Render(row.ID) +
			nameStyle.Render(row.DisplayName) +
			sizeStyle.Render(row.SizeLabel) +
			statusStyle.Render(statusLabel(row)) +
			renderBadge(row.Badge)
		fmt.Fprintln(w, line)
		if row.Error != "" {
			fmt.Fprintln(w, "  "+errorStyle.Render(row.Error))
		}
	}
}

func statusLabel(row picker.Row) string {
	status := strings.ReplaceAll(string(row.Status), "_", " ")
	if row.Progress != nil {
		status = fmt.Sprintf("%s %d%%", status, int(row.Progress.Fraction*100))
	}
	return status
}

func renderBadge(b picker.Badge) string {
	style, ok := badgeStyles[b]
	if !ok {
		return ""
	}
	return style.Render(string(b))
}

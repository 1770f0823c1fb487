// Package picker projects the model catalog into the rows the model picker renders.
package picker

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"whisper-desk/internal/domain"
	"whisper-desk/internal/models"
)

// Badge is the single highlight shown next to a model.
type Badge string

const (
	BadgeNone        Badge = ""
	BadgeSelected    Badge = "selected"
	BadgeFailed      Badge = "failed"
	BadgeRecommended Badge = "recommended"
	BadgeDownloaded  Badge = "downloaded"
)

// Action is a user operation offered on a row.
type Action string

const (
	ActionSelect   Action = "select"
	ActionDownload Action = "download"
	ActionDelete   Action = "delete"
	ActionCancel   Action = "cancel"
)

// Row is one model in the picker.
type Row struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"displayName"`
	Description string             `json:"description,omitempty"`
	Status      domain.ModelStatus `json:"status"`
	Badge       Badge              `json:"badge,omitempty"`
	Actions     []Action           `json:"actions"`
	SizeLabel   string             `json:"sizeLabel,omitempty"`
	Progress    *models.Progress   `json:"progress,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Can reports whether action is enabled on the row.
func (r Row) Can(action Action) bool {
	for _, a := range r.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// View is the full picker state.
type View struct {
	Version        uint64 `json:"version"`
	Rows           []Row  `json:"rows"`
	DownloadActive bool   `json:"downloadActive"`
}

// Project builds the picker view from a catalog snapshot and the active
// download, if any. It has no side effects.
func Project(snap models.Snapshot, active models.SessionInfo, downloading bool) View {
	view := View{
		Version:        snap.Version,
		Rows:           make([]Row, 0, len(snap.Entries)),
		DownloadActive: downloading,
	}
	for _, e := range snap.Entries {
		view.Rows = append(view.Rows, projectRow(e, active, downloading))
	}
	return view
}

func projectRow(e models.Entry, active models.SessionInfo, downloading bool) Row {
	d, st := e.Descriptor, e.State
	row := Row{
		ID:          d.ID,
		DisplayName: d.DisplayName,
		Description: d.Description,
		Status:      st.Status,
		Badge:       badgeFor(d, st),
		Actions:     []Action{},
		SizeLabel:   sizeLabel(d, st),
	}
	if row.DisplayName == "" {
		row.DisplayName = d.ID
	}

	switch st.Status {
	case domain.ModelStatusDownloaded:
		if !st.Selected {
			row.Actions = append(row.Actions, ActionSelect)
		}
		row.Actions = append(row.Actions, ActionDelete)
	case domain.ModelStatusDownloading:
		if downloading && active.ModelID == d.ID {
			p := active.Progress
			row.Progress = &p
			row.Actions = append(row.Actions, ActionCancel)
		}
	case domain.ModelStatusFailed:
		row.Error = st.LastError
		if !downloading {
			row.Actions = append(row.Actions, ActionDownload)
		}
	default:
		if !downloading {
			row.Actions = append(row.Actions, ActionDownload)
		}
	}
	return row
}

func badgeFor(d domain.ModelDescriptor, st domain.ModelRuntimeState) Badge {
	switch {
	case st.Selected:
		return BadgeSelected
	case st.Status == domain.ModelStatusFailed:
		return BadgeFailed
	case d.Recommended:
		return BadgeRecommended
	case st.Status == domain.ModelStatusDownloaded:
		return BadgeDownloaded
	default:
		return BadgeNone
	}
}

// sizeLabel prefers the size on disk and falls back to the approximate
// download size.
func sizeLabel(d domain.ModelDescriptor, st domain.ModelRuntimeState) string {
	if st.Status == domain.ModelStatusDownloaded && st.DownloadedSizeBytes > 0 {
		return humanize.Bytes(uint64(st.DownloadedSizeBytes))
	}
	if d.SizeEstimateBytes > 0 {
		return "~" + humanize.Bytes(uint64(d.SizeEstimateBytes))
	}
	return ""
}

// Filter keeps the rows whose id or display name fuzzily matches query,
// ignoring case. An empty query returns the view unchanged.
func Filter(view View, query string) View {
	query = strings.TrimSpace(query)
	if query == "" {
		return view
	}
	rows := make([]Row, 0, len(view.Rows))
	for _, r := range view.Rows {
		if fuzzy.MatchFold(query, r.ID) || fuzzy.MatchFold(query, r.DisplayName) {
			rows = append(rows, r)
		}
	}
	view.Rows = rows
	return view
}

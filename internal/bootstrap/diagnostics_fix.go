package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"whisper-desk/internal/domain"
	"whisper-desk/internal/models"
)

// ErrNoAutomaticFix is returned for diagnostics that need the user.
var ErrNoAutomaticFix = errors.New("no automatic fix for this check")

// FixDiagnostic applies the automatic fix for one diagnostic item and
// describes what it did. Fixing the selected model may start a download.
func (s *Services) FixDiagnostic(itemID string) (string, error) {
	id := strings.TrimSpace(itemID)
	switch {
	case id == "models_dir":
		dir := s.Storage.Primary()
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create models directory: %w", err)
		}
		return "created " + dir, nil

	case id == "catalog_file":
		settings := s.Settings()
		settings.CatalogFile = ""
		if _, err := s.UpdateSettings(settings); err != nil {
			return "", err
		}
		return "cleared the model manifest; restart to reload the model list", nil

	case strings.HasPrefix(id, "extra_dir_"):
		return s.dropExtraDir(strings.TrimPrefix(id, "extra_dir_"))

	case id == "selected_model":
		return s.fixSelectedModel()

	default:
		return "", fmt.Errorf("%w: %s", ErrNoAutomaticFix, id)
	}
}

func (s *Services) dropExtraDir(index string) (string, error) {
	i, err := strconv.Atoi(index)
	settings := s.Settings()
	if err != nil || i < 0 || i >= len(settings.ExtraModelDirs) {
		return "", fmt.Errorf("%w: extra_dir_%s", ErrNoAutomaticFix, index)
	}
	dropped := settings.ExtraModelDirs[i]
	dirs := append([]string{}, settings.ExtraModelDirs[:i]...)
	settings.ExtraModelDirs = append(dirs, settings.ExtraModelDirs[i+1:]...)
	if _, err := s.UpdateSettings(settings); err != nil {
		return "", err
	}
	return "removed " + dropped + " from model locations", nil
}

// fixSelectedModel selects a downloaded model, preferring the recommended
// one, or downloads the model that should be selected.
func (s *Services) fixSelectedModel() (string, error) {
	snap := s.Catalog.Snapshot()
	want := s.Settings().SelectedModel

	if entry, ok := snap.Get(want); ok && want != "" {
		switch entry.State.Status {
		case domain.ModelStatusDownloaded:
			if err := s.Lifecycle.RequestSelect(want); err != nil {
				return "", err
			}
			return "selected " + entry.Descriptor.DisplayName, nil
		case domain.ModelStatusDownloading:
			return "already downloading " + entry.Descriptor.DisplayName, nil
		default:
			if _, err := s.Downloads.Start(want, nil); err != nil {
				return "", err
			}
			return "downloading " + entry.Descriptor.DisplayName, nil
		}
	}

	var candidate, recommended *models.Entry
	for i := range snap.Entries {
		e := &snap.Entries[i]
		if e.Descriptor.Recommended && recommended == nil {
			recommended = e
		}
		if e.State.Status != domain.ModelStatusDownloaded {
			continue
		}
		if candidate == nil || (e.Descriptor.Recommended && !candidate.Descriptor.Recommended) {
			candidate = e
		}
	}

	if candidate != nil {
		if err := s.Lifecycle.RequestSelect(candidate.Descriptor.ID); err != nil {
			return "", err
		}
		return "selected " + candidate.Descriptor.DisplayName, nil
	}
	if recommended == nil {
		return "", fmt.Errorf("%w: no model available", ErrNoAutomaticFix)
	}
	if _, err := s.Downloads.Start(recommended.Descriptor.ID, nil); err != nil {
		return "", err
	}
	return "downloading " + recommended.Descriptor.DisplayName, nil
}

// InstallOrFixDiagnostic applies the automatic fix for one diagnostic item and
// returns the refreshed report.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	message, err := a.services.FixDiagnostic(itemID)
	if err != nil {
		return a.GetDiagnostics(), err
	}
	a.log.WithField("check", itemID).Info(message)
	return a.RefreshDiagnostics(), nil
}

package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"whisper-desk/internal/domain"
)

// DeleteResult reports what a delete request did.
type DeleteResult struct {
	ModelID    string `json:"modelId"`
	Confirmed  bool   `json:"confirmed"`
	Deleted    bool   `json:"deleted"`
	FreedBytes int64  `json:"freedBytes,omitempty"`
}

// Lifecycle exposes the user-facing catalog mutations: delete and select.
type Lifecycle struct {
	catalog   *Catalog
	downloads *Orchestrator
	remover   Remover
	confirm   Confirmer
	log       logrus.FieldLogger
}

// NewLifecycle wires lifecycle operations to their collaborators.
func NewLifecycle(catalog *Catalog, downloads *Orchestrator, remover Remover, confirm Confirmer, log logrus.FieldLogger) *Lifecycle {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Lifecycle{
		catalog:   catalog,
		downloads: downloads,
		remover:   remover,
		confirm:   confirm,
		log:       log,
	}
}

// RequestDelete removes a downloaded model after confirmation. A declined
// prompt leaves everything unchanged and returns a result with Confirmed false.
//
// If the catalog cannot be re-enumerated after a successful removal the call
// returns ErrCatalogUnavailable; the rest of the catalog stays stale but the
// removed entry itself is marked not downloaded and loses any selection.
func (l *Lifecycle) RequestDelete(ctx context.Context, modelID string) (DeleteResult, error) {
	result := DeleteResult{ModelID: modelID}

	entry, err := l.deletable(modelID)
	if err != nil {
		return result, err
	}

	confirmed, err := l.confirm.Confirm(ctx, deletePrompt(entry))
	if err != nil {
		return result, fmt.Errorf("confirm delete: %w", err)
	}
	if !confirmed {
		l.log.WithField("model", modelID).Debug("model delete declined")
		return result, nil
	}
	result.Confirmed = true

	// The dialog may have been open for a while; check again.
	entry, err = l.deletable(modelID)
	if err != nil {
		return result, err
	}

	freed, err := l.remover.Remove(ctx, entry.Descriptor)
	l.catalog.invalidate()
	if err != nil {
		return result, fmt.Errorf("delete model %s: %w", modelID, err)
	}
	result.Deleted = true
	result.FreedBytes = freed
	l.log.WithFields(logrus.Fields{"model": modelID, "freed": freed}).Info("model deleted")

	if _, err := l.catalog.Refresh(ctx); err != nil {
		l.catalog.markRemoved(modelID)
		return result, err
	}
	return result, nil
}

// RequestSelect makes modelID the active model for transcription.
func (l *Lifecycle) RequestSelect(modelID string) error {
	entry, err := l.catalog.Get(modelID)
	if err != nil {
		return err
	}
	if entry.State.Status != domain.ModelStatusDownloaded {
		return fmt.Errorf("%w: %s", ErrModelNotReady, modelID)
	}
	if err := l.catalog.SetSelected(modelID); err != nil {
		// Lost a race with a refresh that removed the model.
		if errors.Is(err, ErrUnknownModel) {
			return fmt.Errorf("%w: %s", ErrModelNotReady, modelID)
		}
		return err
	}
	l.log.WithField("model", modelID).Info("model selected")
	return nil
}

func (l *Lifecycle) deletable(modelID string) (Entry, error) {
	if l.downloads != nil && l.downloads.IsActive(modelID) {
		return Entry{}, fmt.Errorf("%w: %s", ErrDeleteWhileDownloading, modelID)
	}
	entry, err := l.catalog.Get(modelID)
	if err != nil {
		return Entry{}, err
	}
	switch entry.State.Status {
	case domain.ModelStatusDownloading:
		return Entry{}, fmt.Errorf("%w: %s", ErrDeleteWhileDownloading, modelID)
	case domain.ModelStatusDownloaded:
		return entry, nil
	default:
		return Entry{}, fmt.Errorf("%w: %s", ErrModelNotReady, modelID)
	}
}

func deletePrompt(entry Entry) Prompt {
	msg := fmt.Sprintf("Delete %s from this computer?", entry.Descriptor.DisplayName)
	if size := entry.State.DownloadedSizeBytes; size > 0 {
		msg = fmt.Sprintf("Delete %s (%s) from this computer?", entry.Descriptor.DisplayName, humanize.Bytes(uint64(size)))
	}
	if entry.State.Selected {
		msg += " It is the model currently used for transcription."
	}
	return Prompt{
		Title:        "Delete model",
		Message:      msg + " You can download it again later.",
		ConfirmLabel: "Delete",
		CancelLabel:  "Cancel",
	}
}

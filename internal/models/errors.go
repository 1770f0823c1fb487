package models

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogUnavailable is returned when the enumeration source fails.
	// The previous snapshot stays in place.
	ErrCatalogUnavailable = errors.New("model catalog unavailable")

	// ErrNotFound is returned for ids missing from the current catalog.
	ErrNotFound = errors.New("model not found")

	// ErrUnknownModel is returned when selecting a model that is not downloaded.
	ErrUnknownModel = errors.New("unknown model")

	// ErrAlreadyDownloading is returned when a download is already running anywhere.
	ErrAlreadyDownloading = errors.New("a model download is already in progress")

	// ErrAlreadyDownloaded is returned when starting a download for a model on disk.
	ErrAlreadyDownloaded = errors.New("model already downloaded")

	// ErrDeleteWhileDownloading guards deletion of a model under transfer.
	ErrDeleteWhileDownloading = errors.New("cannot delete a model while it is downloading")

	// ErrModelNotReady is returned when an operation needs a downloaded model.
	ErrModelNotReady = errors.New("model is not downloaded")
)

// TransferError is the terminal error of a failed download.
type TransferError struct {
	ModelID string
	Reason  string
	Err     error
}

// Error formats the failure for logs and the picker row.
func (e *TransferError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("download %s failed: %s", e.ModelID, e.Reason)
}

// Unwrap exposes the transport error.
func (e *TransferError) Unwrap() error {
	return e.Err
}

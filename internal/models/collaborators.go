package models

import (
	"context"

	"whisper-desk/internal/domain"
)

// LocalModel is one row reported by the enumeration source.
type LocalModel struct {
	ID         string `json:"id"`
	Downloaded bool   `json:"downloaded"`
	SizeBytes  int64  `json:"sizeBytes,omitempty"`
}

// Enumerator lists the models that exist and whether they are on disk.
type Enumerator interface {
	ListModels(ctx context.Context) ([]LocalModel, error)
}

// DescriptorSource resolves static metadata for a model id.
type DescriptorSource interface {
	Lookup(id string) (domain.ModelDescriptor, bool)
}

// Transferer moves a model's bytes to local storage. It returns the final size
// on success and an error wrapping context.Canceled when ctx is cancelled.
// report is called from the transferring goroutine only.
type Transferer interface {
	Transfer(ctx context.Context, model domain.ModelDescriptor, report func(Progress)) (int64, error)
}

// Remover deletes a model from local storage and reports the bytes freed.
type Remover interface {
	Remove(ctx context.Context, model domain.ModelDescriptor) (int64, error)
}

// Prompt is the content of a yes/no confirmation.
type Prompt struct {
	Title        string
	Message      string
	ConfirmLabel string
	CancelLabel  string
}

// Confirmer asks the user to confirm a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt Prompt) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt Prompt) (bool, error) {
	return f(ctx, prompt)
}

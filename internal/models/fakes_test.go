package models

import (
	"context"
	"sync"
	"testing"
	"time"

	"whisper-desk/internal/domain"
	"whisper-desk/internal/logging"
)

// fakeSource is an in-memory enumeration source.
type fakeSource struct {
	mu     sync.Mutex
	models []LocalModel
	err    error
	calls  int
}

// ListModels returns the configured rows or error.
func (f *fakeSource) ListModels(context.Context) ([]LocalModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]LocalModel, len(f.models))
	copy(out, f.models)
	return out, nil
}

// set replaces the listed rows and clears any error.
func (f *fakeSource) set(models ...LocalModel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = models
	f.err = nil
}

// mark updates one row in place, as a finished download or delete would.
func (f *fakeSource) mark(id string, downloaded bool, size int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.models {
		if f.models[i].ID == id {
			f.models[i].Downloaded = downloaded
			f.models[i].SizeBytes = size
		}
	}
}

// fail makes subsequent listings return err.
func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeDescriptors resolves ids to descriptors derived from the id.
type fakeDescriptors struct{}

// Lookup returns a descriptor for any id.
func (fakeDescriptors) Lookup(id string) (domain.ModelDescriptor, bool) {
	return domain.ModelDescriptor{
		ID:                id,
		DisplayName:       id,
		FileName:          "ggml-" + id + ".bin",
		URL:               "https://example.invalid/ggml-" + id + ".bin",
		SizeEstimateBytes: 100,
		Recommended:       id == "base",
	}, true
}

// transferFunc adapts a function to Transferer.
type transferFunc func(ctx context.Context, model domain.ModelDescriptor, report func(Progress)) (int64, error)

// Transfer calls f.
func (f transferFunc) Transfer(ctx context.Context, model domain.ModelDescriptor, report func(Progress)) (int64, error) {
	return f(ctx, model, report)
}

// removerFunc adapts a function to Remover.
type removerFunc func(ctx context.Context, model domain.ModelDescriptor) (int64, error)

// Remove calls f.
func (f removerFunc) Remove(ctx context.Context, model domain.ModelDescriptor) (int64, error) {
	return f(ctx, model)
}

// fakeRecorder captures recorder callbacks.
type fakeRecorder struct {
	mu      sync.Mutex
	started []string
	reports []DownloadReport
}

// DownloadStarted records the model id.
func (r *fakeRecorder) DownloadStarted(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, modelID)
}

// DownloadFinished records the report.
func (r *fakeRecorder) DownloadFinished(report DownloadReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

// newTestCatalog builds and refreshes a catalog over rows.
func newTestCatalog(t *testing.T, rows ...LocalModel) (*Catalog, *fakeSource) {
	t.Helper()
	source := &fakeSource{models: rows}
	c := NewCatalog(source, fakeDescriptors{}, logging.Discard())
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	return c, source
}

// waitOutcome waits for a handle's terminal outcome.
func waitOutcome(t *testing.T, h *Handle) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait for %s: %v", h.ModelID(), err)
	}
	return outcome
}

// waitClosed fails the test if ch is not closed in time.
func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// mustEntry returns the catalog entry for id.
func mustEntry(t *testing.T, c *Catalog, id string) Entry {
	t.Helper()
	e, err := c.Get(id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return e
}

// gatedSource takes its first listing immediately, then holds it until
// release is closed. Later calls pass straight through.
type gatedSource struct {
	*fakeSource
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSource(inner *fakeSource) *gatedSource {
	return &gatedSource{fakeSource: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

// ListModels blocks the first caller after it has read the rows.
func (g *gatedSource) ListModels(ctx context.Context) ([]LocalModel, error) {
	rows, err := g.fakeSource.ListModels(ctx)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return rows, err
}

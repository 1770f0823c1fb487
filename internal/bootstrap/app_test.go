package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whisper-desk/internal/config"
	"whisper-desk/internal/domain"
	"whisper-desk/internal/events"
	"whisper-desk/internal/logging"
	"whisper-desk/internal/models"
	"whisper-desk/internal/picker"
)

// memStore keeps settings in memory for App tests.
type memStore struct {
	mu       sync.Mutex
	settings domain.Settings
	saves    int
}

// Load returns the stored settings.
func (s *memStore) Load() (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

// Save replaces the stored settings.
func (s *memStore) Save(settings domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	s.saves++
	return nil
}

func (s *memStore) selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.SelectedModel
}

// fakeTransfer adapts a function to models.Transferer.
type fakeTransfer func(ctx context.Context, model domain.ModelDescriptor, report func(models.Progress)) (int64, error)

// Transfer calls f.
func (f fakeTransfer) Transfer(ctx context.Context, model domain.ModelDescriptor, report func(models.Progress)) (int64, error) {
	return f(ctx, model, report)
}

// writingTransfer writes size bytes for each model into dir.
func writingTransfer(dir string, size int) fakeTransfer {
	return func(ctx context.Context, model domain.ModelDescriptor, report func(models.Progress)) (int64, error) {
		report(models.Progress{BytesReceived: int64(size / 2), BytesTotal: int64(size)})
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
		if err := os.WriteFile(filepath.Join(dir, model.FileName), make([]byte, size), 0o644); err != nil {
			return 0, err
		}
		report(models.Progress{BytesReceived: int64(size), BytesTotal: int64(size)})
		return int64(size), nil
	}
}

// emitted records runtime pushes.
type emitted struct {
	mu    sync.Mutex
	names []string
	views []picker.View
}

func (e *emitted) record(_ context.Context, name string, data ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.names = append(e.names, name)
	if v, ok := data[0].(picker.View); ok {
		e.views = append(e.views, v)
	}
}

func (e *emitted) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, got := range e.names {
		if got == name {
			n++
		}
	}
	return n
}

type testEnv struct {
	app       *App
	services  *Services
	store     *memStore
	modelsDir string
	pushes    *emitted
}

// newTestEnv wires an App over temp directories and the given transfer.
func newTestEnv(t *testing.T, settings domain.Settings, transfer models.Transferer, confirm models.ConfirmFunc) *testEnv {
	t.Helper()
	root := t.TempDir()
	if settings.ModelsDir == "" {
		settings.ModelsDir = filepath.Join(root, "models")
	}
	settings.HistoryFile = filepath.Join(root, "history.db")
	store := &memStore{settings: config.Normalize(settings)}
	if confirm == nil {
		confirm = func(context.Context, models.Prompt) (bool, error) { return true, nil }
	}

	services, err := NewServices(context.Background(), store, logging.Discard(), confirm, WithTransfer(transfer))
	if err != nil {
		t.Fatalf("new services: %v", err)
	}

	pushes := &emitted{}
	app := &App{
		events:     events.NewBus(100),
		log:        logging.Discard(),
		emit:       pushes.record,
		runtimeCtx: context.Background(),
	}
	app.attach(services)
	t.Cleanup(func() { app.Shutdown(context.Background()) })

	return &testEnv{app: app, services: services, store: store, modelsDir: settings.ModelsDir, pushes: pushes}
}

func writeModel(t *testing.T, dir, file string, size int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, file), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
}

func rowByID(t *testing.T, view picker.View, id string) picker.Row {
	t.Helper()
	for _, r := range view.Rows {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("row %s not found", id)
	return picker.Row{}
}

// TestNewServicesRestoresPersistedSelection picks up the saved model on start.
func TestNewServicesRestoresPersistedSelection(t *testing.T) {
	modelsDir := filepath.Join(t.TempDir(), "models")
	writeModel(t, modelsDir, "ggml-small.bin", 32)

	env := newTestEnv(t, domain.Settings{ModelsDir: modelsDir, SelectedModel: "small"}, writingTransfer(modelsDir, 8), nil)

	row := rowByID(t, env.app.GetModels(""), "small")
	if row.Badge != picker.BadgeSelected || row.Status != domain.ModelStatusDownloaded {
		t.Fatalf("small row = %+v", row)
	}
	if rows := env.app.GetModels("tiny.en").Rows; len(rows) == 0 || rows[0].ID != "tiny.en" {
		t.Fatalf("filtered rows = %+v", rows)
	}
}

// TestDownloadModelUpdatesViewEventsAndHistory checks the whole download flow.
func TestDownloadModelUpdatesViewEventsAndHistory(t *testing.T) {
	modelsDir := filepath.Join(t.TempDir(), "models")
	env := newTestEnv(t, domain.Settings{ModelsDir: modelsDir}, writingTransfer(modelsDir, 64), nil)

	info, err := env.app.DownloadModel("tiny")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if info.ModelID != "tiny" || info.ID == "" {
		t.Fatalf("session info = %+v", info)
	}
	env.services.Downloads.Wait()

	row := rowByID(t, env.app.GetModels(""), "tiny")
	if row.Status != domain.ModelStatusDownloaded || row.SizeLabel != "64 B" {
		t.Fatalf("tiny row = %+v", row)
	}

	seen := map[events.Type]bool{}
	for _, ev := range env.app.ModelEvents(0) {
		seen[ev.Type] = true
	}
	for _, want := range []events.Type{events.TypeCatalog, events.TypeProgress, events.TypeOutcome} {
		if !seen[want] {
			t.Fatalf("missing %s event in %v", want, seen)
		}
	}
	if env.pushes.count(viewEventName) == 0 || env.pushes.count(modelEventName) == 0 {
		t.Fatal("expected runtime pushes")
	}

	records, err := env.app.DownloadHistory("tiny", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 || records[0].Outcome != string(models.OutcomeSucceeded) {
		t.Fatalf("records = %+v", records)
	}
}

// TestDownloadModelRejectsSecondDownload keeps one download at a time.
func TestDownloadModelRejectsSecondDownload(t *testing.T) {
	release := make(chan struct{})
	transfer := fakeTransfer(func(ctx context.Context, model domain.ModelDescriptor, report func(models.Progress)) (int64, error) {
		select {
		case <-release:
			return 0, errors.New("connection reset")
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	env := newTestEnv(t, domain.Settings{}, transfer, nil)

	if _, err := env.app.DownloadModel("base"); err != nil {
		t.Fatalf("first download: %v", err)
	}
	if _, err := env.app.DownloadModel("small"); !errors.Is(err, models.ErrAlreadyDownloading) {
		t.Fatalf("second download err = %v, want %v", err, models.ErrAlreadyDownloading)
	}
	view := env.app.GetModels("")
	if !view.DownloadActive || !rowByID(t, view, "base").Can(picker.ActionCancel) {
		t.Fatalf("view = %+v", view)
	}

	env.app.CancelDownload("base")
	env.services.Downloads.Wait()
	close(release)

	if row := rowByID(t, env.app.GetModels(""), "base"); row.Status != domain.ModelStatusNotDownloaded {
		t.Fatalf("base status after cancel = %s", row.Status)
	}
}

// TestSelectAndDeleteModelPersistSelection mirrors the catalog selection into settings.
func TestSelectAndDeleteModelPersistSelection(t *testing.T) {
	modelsDir := filepath.Join(t.TempDir(), "models")
	writeModel(t, modelsDir, "ggml-base.bin", 16)
	var prompts []models.Prompt
	confirm := func(_ context.Context, p models.Prompt) (bool, error) {
		prompts = append(prompts, p)
		return true, nil
	}
	env := newTestEnv(t, domain.Settings{ModelsDir: modelsDir}, writingTransfer(modelsDir, 8), confirm)

	settings, err := env.app.SelectModel("base")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if settings.SelectedModel != "base" || env.store.selected() != "base" {
		t.Fatalf("selection not persisted: %q / %q", settings.SelectedModel, env.store.selected())
	}
	if _, err := env.app.SelectModel("small"); !errors.Is(err, models.ErrModelNotReady) {
		t.Fatalf("select missing err = %v, want %v", err, models.ErrModelNotReady)
	}

	result, err := env.app.DeleteModel("base")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !result.Deleted || result.FreedBytes != 16 || len(prompts) != 1 {
		t.Fatalf("result = %+v prompts = %d", result, len(prompts))
	}
	if _, err := os.Stat(filepath.Join(modelsDir, "ggml-base.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("model file still on disk")
	}
	if env.store.selected() != "" {
		t.Fatalf("persisted selection = %q, want empty", env.store.selected())
	}

	var deleted *events.Event
	for _, ev := range env.app.ModelEvents(0) {
		if ev.Type == events.TypeDeleted {
			ev := ev
			deleted = &ev
		}
	}
	if deleted == nil || deleted.FreedBytes != 16 {
		t.Fatalf("deleted event = %+v", deleted)
	}
}

// TestSaveSettingsKeepsCatalogSelection ignores selection edits from the form.
func TestSaveSettingsKeepsCatalogSelection(t *testing.T) {
	modelsDir := filepath.Join(t.TempDir(), "models")
	writeModel(t, modelsDir, "ggml-base.bin", 16)
	env := newTestEnv(t, domain.Settings{ModelsDir: modelsDir, SelectedModel: "base"}, writingTransfer(modelsDir, 8), nil)

	next := env.app.GetSettings()
	next.SelectedModel = "large-v3"
	next.Logging.Level = " DEBUG "
	saved, err := env.app.SaveSettings(next)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.SelectedModel != "base" || saved.Logging.Level != "debug" {
		t.Fatalf("saved = %+v", saved)
	}
	if env.app.GetDiagnostics().HasFailures {
		t.Fatalf("diagnostics = %+v", env.app.GetDiagnostics().Items)
	}
}

// TestFixDiagnosticSelectsRecommendedDownloadedModel repairs a missing selection.
func TestFixDiagnosticSelectsRecommendedDownloadedModel(t *testing.T) {
	modelsDir := filepath.Join(t.TempDir(), "models")
	writeModel(t, modelsDir, "ggml-tiny.bin", 4)
	writeModel(t, modelsDir, "ggml-base.bin", 8)
	env := newTestEnv(t, domain.Settings{ModelsDir: modelsDir}, writingTransfer(modelsDir, 8), nil)

	report, err := env.app.InstallOrFixDiagnostic("selected_model")
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	if env.store.selected() != "base" {
		t.Fatalf("selected = %q, want base", env.store.selected())
	}
	for _, item := range report.Items {
		if item.ID == "selected_model" && item.Status != domain.DiagnosticStatusPass {
			t.Fatalf("selected_model = %+v", item)
		}
	}

	if _, err := env.app.InstallOrFixDiagnostic("bogus"); !errors.Is(err, ErrNoAutomaticFix) {
		t.Fatalf("err = %v, want %v", err, ErrNoAutomaticFix)
	}
}

// TestFixDiagnosticDownloadsRecommendedModel starts a download on a fresh install.
func TestFixDiagnosticDownloadsRecommendedModel(t *testing.T) {
	modelsDir := filepath.Join(t.TempDir(), "models")
	env := newTestEnv(t, domain.Settings{ModelsDir: modelsDir}, writingTransfer(modelsDir, 8), nil)

	message, err := env.services.FixDiagnostic("selected_model")
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	env.services.Downloads.Wait()
	if message == "" {
		t.Fatal("expected fix description")
	}
	if row := rowByID(t, env.app.GetModels(""), "base"); row.Status != domain.ModelStatusDownloaded {
		t.Fatalf("base status = %s", row.Status)
	}
}

// TestShutdownCancelsActiveDownload unwinds background transfers.
func TestShutdownCancelsActiveDownload(t *testing.T) {
	started := make(chan struct{})
	transfer := fakeTransfer(func(ctx context.Context, model domain.ModelDescriptor, report func(models.Progress)) (int64, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	env := newTestEnv(t, domain.Settings{}, transfer, nil)

	if _, err := env.app.DownloadModel("base"); err != nil {
		t.Fatalf("download: %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not start")
	}

	env.app.Shutdown(context.Background())
	if _, active := env.services.Downloads.Active(); active {
		t.Fatal("download still active after shutdown")
	}
}

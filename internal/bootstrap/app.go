package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"whisper-desk/internal/config"
	"whisper-desk/internal/domain"
	"whisper-desk/internal/events"
	"whisper-desk/internal/history"
	"whisper-desk/internal/logging"
	"whisper-desk/internal/models"
	"whisper-desk/internal/picker"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	viewEventName  = "models:view"
	modelEventName = "models:event"

	shutdownTimeout = 10 * time.Second
)

// App binds the model manager to the Wails frontend.
type App struct {
	services *Services
	assets   fs.FS
	events   *events.Bus
	log      logrus.FieldLogger

	mu          sync.Mutex
	runtimeCtx  context.Context
	diagnostics domain.DiagnosticReport
	unsubscribe []func()

	// emit is replaced in tests; Wails panics without a runtime context.
	emit func(ctx context.Context, name string, data ...interface{})
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	path, err := config.DefaultSettingsPath()
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}
	store := config.NewJSONStore(path)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	log := logging.New(settings.Logging)

	app := &App{
		assets: assets,
		events: events.NewBus(1000),
		log:    log,
		emit:   wailsruntime.EventsEmit,
	}
	services, err := NewServices(context.Background(), store, log, models.ConfirmFunc(app.confirm))
	if err != nil {
		return nil, err
	}
	app.attach(services)
	return app, nil
}

// attach subscribes the app to catalog and session changes.
func (a *App) attach(services *Services) {
	a.services = services
	a.diagnostics = services.Diagnose()
	a.unsubscribe = append(a.unsubscribe,
		services.Catalog.Subscribe(a.onCatalog),
		services.Downloads.Subscribe(a.onSession),
	)
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Whisper Desk",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()
	a.pushView()
}

// Shutdown cancels the active download and closes storage.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	a.runtimeCtx = nil
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.services.Close(ctx); err != nil {
		a.log.WithError(err).Warn("shutdown")
	}
}

// GetModels returns the picker view, narrowed by an optional fuzzy query.
func (a *App) GetModels(query string) picker.View {
	return picker.Filter(a.view(), query)
}

// RefreshModels rescans the model directories.
func (a *App) RefreshModels() (picker.View, error) {
	if _, err := a.services.Catalog.Refresh(context.Background()); err != nil {
		a.publishError("", err)
		return a.view(), err
	}
	return a.view(), nil
}

// DownloadModel starts downloading a model in the background. Progress and the
// outcome arrive as models:event pushes.
func (a *App) DownloadModel(modelID string) (models.SessionInfo, error) {
	h, err := a.services.Downloads.Start(strings.TrimSpace(modelID), nil)
	if err != nil {
		return models.SessionInfo{}, err
	}
	return h.Info(), nil
}

// CancelDownload stops the active download of modelID, if any.
func (a *App) CancelDownload(modelID string) {
	a.services.Downloads.Cancel(strings.TrimSpace(modelID))
}

// DeleteModel asks for confirmation and deletes a downloaded model.
func (a *App) DeleteModel(modelID string) (models.DeleteResult, error) {
	id := strings.TrimSpace(modelID)
	result, err := a.services.Lifecycle.RequestDelete(context.Background(), id)
	if result.Deleted {
		a.publishEvent(events.Event{Type: events.TypeDeleted, ModelID: id, FreedBytes: result.FreedBytes})
	}
	if err != nil {
		a.publishError(id, err)
		return result, err
	}
	return result, nil
}

// SelectModel makes a downloaded model the one used for transcription.
func (a *App) SelectModel(modelID string) (domain.Settings, error) {
	id := strings.TrimSpace(modelID)
	if err := a.services.Lifecycle.RequestSelect(id); err != nil {
		return domain.Settings{}, err
	}
	a.publishEvent(events.Event{Type: events.TypeSelected, ModelID: id})
	return a.services.Settings(), nil
}

// ModelEvents returns all events with sequence greater than sinceSeq.
func (a *App) ModelEvents(sinceSeq int64) []events.Event {
	return a.events.Since(sinceSeq)
}

// DownloadHistory returns recent finished downloads, newest first.
func (a *App) DownloadHistory(modelID string, limit int) ([]history.Record, error) {
	if a.services.History == nil {
		return nil, errors.New("download history is not available")
	}
	return a.services.History.List(context.Background(), strings.TrimSpace(modelID), limit)
}

// GetSettings returns the current settings.
func (a *App) GetSettings() domain.Settings {
	return a.services.Settings()
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	saved, err := a.services.UpdateSettings(settings)
	if err != nil {
		return domain.Settings{}, err
	}
	a.RefreshDiagnostics()
	return saved, nil
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reruns the storage checks.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	report := a.services.Diagnose()
	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()
	return report
}

// PickModelDirectory opens a native directory picker for model folders.
func (a *App) PickModelDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select model directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenModelsFolder opens the models directory in the file manager.
func (a *App) OpenModelsFolder() error {
	dir := a.services.Storage.Primary()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare models directory: %w", err)
	}
	return openInFileManager(dir)
}

// view projects the current catalog and active download.
func (a *App) view() picker.View {
	info, active := a.services.Downloads.Active()
	return picker.Project(a.services.Catalog.Snapshot(), info, active)
}

// onCatalog runs for every new catalog snapshot.
func (a *App) onCatalog(snap models.Snapshot) {
	a.publishEvent(events.Event{Type: events.TypeCatalog, CatalogVersion: snap.Version})
	info, active := a.services.Downloads.Active()
	a.emitRuntime(viewEventName, picker.Project(snap, info, active))
}

// onSession forwards download progress and outcomes.
func (a *App) onSession(ev models.SessionEvent) {
	a.publishEvent(events.FromSession(ev))
	if ev.Kind == models.SessionEventProgress {
		a.pushView()
	}
}

func (a *App) pushView() {
	a.emitRuntime(viewEventName, a.view())
}

func (a *App) publishError(modelID string, err error) {
	a.publishEvent(events.Event{Type: events.TypeError, ModelID: modelID, Message: err.Error()})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event events.Event) {
	published := a.events.Publish(event)
	a.emitRuntime(modelEventName, published)
}

func (a *App) emitRuntime(name string, data interface{}) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil && a.emit != nil {
		a.emit(ctx, name, data)
	}
}

// confirm shows a native question dialog.
func (a *App) confirm(_ context.Context, prompt models.Prompt) (bool, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return false, err
	}
	answer, err := wailsruntime.MessageDialog(ctx, wailsruntime.MessageDialogOptions{
		Type:          wailsruntime.QuestionDialog,
		Title:         prompt.Title,
		Message:       prompt.Message,
		Buttons:       []string{prompt.ConfirmLabel, prompt.CancelLabel},
		DefaultButton: prompt.CancelLabel,
		CancelButton:  prompt.CancelLabel,
	})
	if err != nil {
		return false, err
	}
	// macOS and Linux return the button label, Windows returns "Yes".
	return answer == prompt.ConfirmLabel || answer == "Yes", nil
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}

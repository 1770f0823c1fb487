package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"whisper-desk/internal/catalog"
	"whisper-desk/internal/config"
	"whisper-desk/internal/diagnostics"
	"whisper-desk/internal/domain"
	"whisper-desk/internal/history"
	"whisper-desk/internal/metrics"
	"whisper-desk/internal/models"
	"whisper-desk/internal/storage"
	"whisper-desk/internal/transfer"
)

// Services wires the model manager from persisted settings. The desktop app
// and whisperctl share it.
type Services struct {
	Store     config.Store
	Log       logrus.FieldLogger
	Registry  *catalog.Registry
	Storage   *storage.Dir
	Catalog   *models.Catalog
	Downloads *models.Orchestrator
	Lifecycle *models.Lifecycle
	History   *history.Store
	Metrics   *metrics.Downloads
	checker   *diagnostics.Checker

	mu          sync.Mutex
	settings    domain.Settings
	unsubscribe func()
}

type servicesConfig struct {
	transfer    models.Transferer
	withHistory bool
}

// ServicesOption customizes NewServices.
type ServicesOption func(*servicesConfig)

// WithTransfer replaces the HTTP transfer, mainly for tests.
func WithTransfer(t models.Transferer) ServicesOption {
	return func(c *servicesConfig) { c.transfer = t }
}

// WithoutHistory skips opening the download ledger.
func WithoutHistory() ServicesOption {
	return func(c *servicesConfig) { c.withHistory = false }
}

// NewServices loads settings, builds every component, scans the model
// directories and restores the persisted selection.
func NewServices(ctx context.Context, store config.Store, log logrus.FieldLogger, confirm models.Confirmer, opts ...ServicesOption) (*Services, error) {
	cfg := servicesConfig{withHistory: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	registry, err := catalog.Load(settings.CatalogFile)
	if err != nil {
		log.WithError(err).Warn("model manifest unusable, using built-in models only")
		if registry, err = catalog.NewRegistry(catalog.Builtin()...); err != nil {
			return nil, fmt.Errorf("build model registry: %w", err)
		}
	}

	dir := storage.New(settings.ModelsDir, settings.ExtraModelDirs, registry, log)
	if cfg.transfer == nil {
		cfg.transfer = transfer.New(dir, settings.Network, log)
	}

	s := &Services{
		Store:    store,
		Log:      log,
		Registry: registry,
		Storage:  dir,
		Metrics:  metrics.New(settings.Metrics.TextfilePath, log),
		checker:  diagnostics.NewChecker(),
		settings: settings,
	}

	orchestratorOpts := []models.Option{models.WithLogger(log), models.WithRecorder(s.Metrics)}
	if cfg.withHistory {
		ledger, err := history.Open(settings.HistoryFile, log)
		if err != nil {
			log.WithError(err).Warn("download history disabled")
		} else {
			s.History = ledger
			orchestratorOpts = append(orchestratorOpts, models.WithRecorder(ledger))
		}
	}

	s.Catalog = models.NewCatalog(dir, registry, log)
	s.Downloads = models.NewOrchestrator(s.Catalog, cfg.transfer, orchestratorOpts...)
	s.Lifecycle = models.NewLifecycle(s.Catalog, s.Downloads, dir, confirm, log)

	if _, err := s.Catalog.Refresh(ctx); err != nil {
		log.WithError(err).Warn("initial model scan failed")
	}
	if id := settings.SelectedModel; id != "" {
		if err := s.Catalog.SetSelected(id); err != nil {
			log.WithError(err).WithField("model", id).Warn("persisted model selection is not available")
		}
	}
	s.unsubscribe = s.Catalog.Subscribe(s.persistSelection)
	return s, nil
}

// Settings returns the current settings.
func (s *Services) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings normalizes and persists settings. The selected model stays
// owned by the catalog. Storage and network changes apply on next start.
func (s *Services) UpdateSettings(next domain.Settings) (domain.Settings, error) {
	next = config.Normalize(next)

	s.mu.Lock()
	defer s.mu.Unlock()
	next.SelectedModel = s.settings.SelectedModel
	if err := s.Store.Save(next); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}
	s.settings = next
	return next, nil
}

// Diagnose runs the storage and selection checks.
func (s *Services) Diagnose() domain.DiagnosticReport {
	return s.checker.Run(s.Settings(), s.Registry, s.Storage)
}

// persistSelection mirrors the catalog selection into settings.
func (s *Services) persistSelection(snap models.Snapshot) {
	id := ""
	if sel, ok := snap.Selected(); ok {
		id = sel.Descriptor.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.SelectedModel == id {
		return
	}
	next := s.settings
	next.SelectedModel = id
	if err := s.Store.Save(next); err != nil {
		s.Log.WithError(err).Error("persist model selection")
		return
	}
	s.settings = next
}

// Close stops the active download and releases storage handles.
func (s *Services) Close(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	var errs []error
	if err := s.Downloads.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop downloads: %w", err))
	}
	if err := s.Metrics.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush metrics: %w", err))
	}
	if s.History != nil {
		if err := s.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}

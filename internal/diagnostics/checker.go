package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"whisper-desk/internal/domain"
)

// Descriptors resolves model ids to descriptors.
type Descriptors interface {
	Lookup(id string) (domain.ModelDescriptor, bool)
}

// Locator finds a model's file on disk.
type Locator interface {
	Locate(model domain.ModelDescriptor) (string, int64, bool)
}

// Checker validates model storage paths and the selected model.
type Checker struct {
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings, descriptors Descriptors, locator Locator) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkModelsDir(settings.ModelsDir),
	}
	for i, dir := range settings.ExtraModelDirs {
		items = append(items, c.checkExtraDir(i, dir))
	}
	if settings.CatalogFile != "" {
		items = append(items, c.checkCatalogFile(settings.CatalogFile))
	}
	items = append(items, c.checkSelectedModel(settings.SelectedModel, descriptors, locator))

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkModelsDir validates the download directory exists and is writable.
func (c *Checker) checkModelsDir(dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "models_dir",
		Name: "Models directory",
	}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Models directory is empty."
		item.Hint = "Set a directory where downloaded models can be stored."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create models directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Models directory is not writable: %s", dir)
		item.Hint = "Model downloads need write access to this directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkExtraDir warns about additional search locations that are gone.
func (c *Checker) checkExtraDir(index int, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   fmt.Sprintf("extra_dir_%d", index),
		Name: "Extra model location",
	}

	if _, err := c.stat(dir); err != nil {
		item.Status = domain.DiagnosticStatusWarn
		if IsNotExist(err) {
			item.Message = fmt.Sprintf("Location does not exist: %s", dir)
		} else {
			item.Message = fmt.Sprintf("Cannot access location: %s", dir)
		}
		item.Hint = "Models in this location will not be listed."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Searching %s", dir)
	return item
}

// checkCatalogFile validates the optional model manifest path.
func (c *Checker) checkCatalogFile(path string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "catalog_file",
		Name: "Model manifest",
	}

	info, err := c.stat(path)
	switch {
	case err != nil:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model manifest: %s", path)
		item.Hint = "Fix the path or clear it to use the built-in model list."
	case info.IsDir():
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Model manifest is a directory: %s", path)
		item.Hint = "Point to a YAML file with a models list."
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Using model manifest %s", path)
	}
	return item
}

// checkSelectedModel verifies the model used for transcription is on disk.
func (c *Checker) checkSelectedModel(id string, descriptors Descriptors, locator Locator) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "selected_model",
		Name: "Selected model",
	}

	if id == "" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "No model is selected."
		item.Hint = "Download a model and select it before transcribing."
		return item
	}

	desc, ok := descriptors.Lookup(id)
	if !ok {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Selected model is not in the catalog: %s", id)
		item.Hint = "Select one of the listed models."
		return item
	}

	path, size, found := locator.Locate(desc)
	if !found {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Selected model is not downloaded: %s", desc.DisplayName)
		item.Hint = "Download the model again or select another one."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Model file found: %s (%s)", path, humanize.Bytes(uint64(size)))
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

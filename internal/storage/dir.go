// Package storage finds downloaded model files on disk and deletes them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"whisper-desk/internal/domain"
	"whisper-desk/internal/models"
)

// PartialSuffix marks a file that is still being downloaded.
const PartialSuffix = ".part"

// ErrNotFound is returned when a model has no file in any known directory.
var ErrNotFound = errors.New("model file not found")

// Descriptors lists the models the directory should look for, in display order.
type Descriptors interface {
	All() []domain.ModelDescriptor
}

// Dir is the local model store: a primary download directory plus extra
// read-only locations where models may already live.
type Dir struct {
	primary     string
	dirs        []string
	descriptors Descriptors
	log         logrus.FieldLogger
}

// New builds a Dir. Extra entries may name a directory or a model file, in
// which case the file's directory is searched.
func New(primary string, extra []string, descriptors Descriptors, log logrus.FieldLogger) *Dir {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dir{
		primary:     filepath.Clean(primary),
		dirs:        knownDirs(primary, extra),
		descriptors: descriptors,
		log:         log,
	}
}

// Primary returns the directory new downloads are written to.
func (d *Dir) Primary() string {
	return d.primary
}

// Dirs returns every searched directory, primary first.
func (d *Dir) Dirs() []string {
	out := make([]string, len(d.dirs))
	copy(out, d.dirs)
	return out
}

// Path returns the download destination of model.
func (d *Dir) Path(model domain.ModelDescriptor) string {
	return filepath.Join(d.primary, model.FileName)
}

// Locate returns the first complete file for model across known directories.
func (d *Dir) Locate(model domain.ModelDescriptor) (string, int64, bool) {
	for _, dir := range d.dirs {
		candidate := filepath.Join(dir, model.FileName)
		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		return candidate, info.Size(), true
	}
	return "", 0, false
}

// ListModels reports every known model and whether a complete file exists.
// A missing primary directory simply means nothing is downloaded yet.
func (d *Dir) ListModels(ctx context.Context) ([]models.LocalModel, error) {
	if _, err := os.Stat(d.primary); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("check models dir: %w", err)
	}

	descriptors := d.descriptors.All()
	out := make([]models.LocalModel, 0, len(descriptors))
	for _, desc := range descriptors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := models.LocalModel{ID: desc.ID}
		if _, size, ok := d.Locate(desc); ok {
			row.Downloaded = true
			row.SizeBytes = size
		}
		out = append(out, row)
	}
	return out, nil
}

// Remove deletes every copy of model, plus any leftover partial download in
// the primary directory, and returns the bytes freed by complete files.
func (d *Dir) Remove(ctx context.Context, model domain.ModelDescriptor) (int64, error) {
	var freed int64
	found := false
	for _, dir := range d.dirs {
		if err := ctx.Err(); err != nil {
			return freed, err
		}
		path := filepath.Join(dir, model.FileName)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := os.Remove(path); err != nil {
			return freed, fmt.Errorf("remove %s: %w", path, err)
		}
		found = true
		freed += info.Size()
		d.log.WithFields(logrus.Fields{"model": model.ID, "path": path}).Debug("model file removed")
	}

	if err := os.Remove(d.Path(model) + PartialSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.log.WithError(err).WithField("model", model.ID).Warn("remove partial download")
	}

	if !found {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, model.ID)
	}
	return freed, nil
}

// knownDirs de-duplicates the search path while keeping the primary first.
func knownDirs(primary string, extra []string) []string {
	seen := map[string]struct{}{}
	var dirs []string
	add := func(path string) {
		p := strings.TrimSpace(path)
		if p == "" {
			return
		}
		clean := filepath.Clean(p)
		if clean == "." {
			return
		}
		if _, dup := seen[clean]; dup {
			return
		}
		seen[clean] = struct{}{}
		dirs = append(dirs, clean)
	}

	add(primary)
	for _, path := range extra {
		add(modelDir(path))
	}
	return dirs
}

// modelDir maps a model file path to its directory; anything else is taken
// as a directory.
func modelDir(path string) string {
	trimmed := strings.TrimSpace(path)
	if info, err := os.Stat(trimmed); err == nil {
		if info.IsDir() {
			return trimmed
		}
		return filepath.Dir(trimmed)
	}
	switch strings.ToLower(filepath.Ext(trimmed)) {
	case ".bin", ".gguf":
		return filepath.Dir(trimmed)
	}
	return trimmed
}

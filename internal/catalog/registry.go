// Package catalog holds the static descriptors of every model the app knows about.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"whisper-desk/internal/domain"
)

// Registry is an ordered, read-only set of model descriptors.
type Registry struct {
	order []string
	byID  map[string]domain.ModelDescriptor
}

// NewRegistry builds a registry. Later descriptors replace earlier ones with the
// same id in place, so an override keeps the preset's position.
func NewRegistry(descriptors ...domain.ModelDescriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]domain.ModelDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := validate(d); err != nil {
			return nil, err
		}
		if _, exists := r.byID[d.ID]; !exists {
			r.order = append(r.order, d.ID)
		}
		r.byID[d.ID] = d
	}
	return r, nil
}

// Load returns the built-in presets merged with the manifest at path, if any.
func Load(manifestPath string) (*Registry, error) {
	descriptors := Builtin()
	if strings.TrimSpace(manifestPath) != "" {
		extra, err := LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, extra...)
	}
	return NewRegistry(descriptors...)
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (domain.ModelDescriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// All returns every descriptor in registry order.
func (r *Registry) All() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len reports the number of descriptors.
func (r *Registry) Len() int {
	return len(r.order)
}

type manifest struct {
	Models []domain.ModelDescriptor `yaml:"models"`
}

// LoadManifest reads extra model descriptors from a YAML file:
//
//	models:
//	  - id: distil-large-v3
//	    name: Distil Large v3
//	    file: ggml-distil-large-v3.bin
//	    url: https://example.com/ggml-distil-large-v3.bin
//	    size_bytes: 1520000000
func LoadManifest(path string) ([]domain.ModelDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model manifest %s: %w", path, err)
	}

	for i := range m.Models {
		d := &m.Models[i]
		d.ID = strings.TrimSpace(d.ID)
		if d.DisplayName == "" {
			d.DisplayName = d.ID
		}
		if d.FileName == "" && d.URL != "" {
			d.FileName = filepath.Base(d.URL)
		}
		if err := validate(*d); err != nil {
			return nil, fmt.Errorf("model manifest %s entry %d: %w", path, i, err)
		}
	}
	return m.Models, nil
}

func validate(d domain.ModelDescriptor) error {
	if d.ID == "" {
		return errors.New("model id is required")
	}
	// Base alone lets "." and ".." through, which resolve to directories.
	if d.FileName == "" || d.FileName == "." || d.FileName == ".." || d.FileName != filepath.Base(d.FileName) {
		return fmt.Errorf("model %s: invalid file name %q", d.ID, d.FileName)
	}
	if d.URL == "" {
		return fmt.Errorf("model %s: url is required", d.ID)
	}
	return nil
}

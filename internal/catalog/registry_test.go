package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"whisper-desk/internal/domain"
)

// TestBuiltinLookup verifies known preset lookup and file naming.
func TestBuiltinLookup(t *testing.T) {
	r, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	model, found := r.Lookup("base.en")
	if !found {
		t.Fatal("expected base.en model to exist")
	}
	if model.FileName != "ggml-base.en.bin" {
		t.Fatalf("filename = %s, want ggml-base.en.bin", model.FileName)
	}
	if r.Len() != len(builtinModels) {
		t.Fatalf("len = %d, want %d", r.Len(), len(builtinModels))
	}
}

// TestBuiltinHasSingleRecommended keeps the picker's default hint unambiguous.
func TestBuiltinHasSingleRecommended(t *testing.T) {
	count := 0
	for _, d := range Builtin() {
		if d.Recommended {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("recommended presets = %d, want 1", count)
	}
}

// TestNewRegistryOverrideKeepsPosition checks that overrides replace in place.
func TestNewRegistryOverrideKeepsPosition(t *testing.T) {
	a := domain.ModelDescriptor{ID: "a", FileName: "a.bin", URL: "https://x/a.bin"}
	b := domain.ModelDescriptor{ID: "b", FileName: "b.bin", URL: "https://x/b.bin"}
	a2 := a
	a2.DisplayName = "A prime"

	r, err := NewRegistry(a, b, a2)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	all := r.All()
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Fatalf("order = %+v", all)
	}
	if all[0].DisplayName != "A prime" {
		t.Fatalf("display name = %q, want override", all[0].DisplayName)
	}
}

// TestNewRegistryRejectsPathInFileName guards against writes outside the models dir.
func TestNewRegistryRejectsPathInFileName(t *testing.T) {
	_, err := NewRegistry(domain.ModelDescriptor{ID: "x", FileName: "../x.bin", URL: "https://x"})
	if err == nil {
		t.Fatal("expected invalid file name error")
	}
}

// TestNewRegistryRejectsDotFileNames keeps model paths inside the models dir.
func TestNewRegistryRejectsDotFileNames(t *testing.T) {
	for _, name := range []string{"", ".", ".."} {
		_, err := NewRegistry(domain.ModelDescriptor{ID: "x", FileName: name, URL: "https://x"})
		if err == nil {
			t.Fatalf("file name %q: expected invalid file name error", name)
		}
	}
}

// TestLoadManifestRejectsParentFileName fails the manifest instead of
// resolving a model to the parent directory.
func TestLoadManifestRejectsParentFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	manifest := `models:
  - id: escape
    file: ..
    url: https://example.com/files/ggml-escape.bin
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected manifest with file .. to be rejected")
	}
}

// TestLoadManifestMergesExtraModels reads a YAML manifest on top of presets.
func TestLoadManifestMergesExtraModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	manifest := `models:
  - id: distil-large-v3
    name: Distil Large v3
    url: https://example.com/files/ggml-distil-large-v3.bin
    size_bytes: 1520000000
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	r, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, ok := r.Lookup("distil-large-v3")
	if !ok {
		t.Fatal("expected manifest model")
	}
	if d.FileName != "ggml-distil-large-v3.bin" {
		t.Fatalf("file name = %q, want inferred from url", d.FileName)
	}
	if d.SizeEstimateBytes != 1520000000 {
		t.Fatalf("size = %d", d.SizeEstimateBytes)
	}
	all := r.All()
	if all[len(all)-1].ID != "distil-large-v3" {
		t.Fatalf("manifest model should follow presets, got last %q", all[len(all)-1].ID)
	}
}

// TestLoadManifestInvalidYAML checks parse error handling.
func TestLoadManifestInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte("models: [unterminated"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := LoadManifest(path); err == nil {
		t.Fatal("expected yaml parse error")
	}
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/specialty/internal/domain/specialty"
)

func writePack(t *testing.T, root, slug, version, manifest string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(root, slug, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, specialty.ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testLoader(root string) *specialty.Loader {
	return specialty.NewLoader(os.DirFS(root), specialty.NewPackCache(), zerolog.Nop())
}

const obgynManifest = `{
	"slug": "ob-gyn",
	"version": "1.0.0",
	"name": "OB/GYN",
	"category": "clinical",
	"templates": ["templates/prenatal.json"],
	"visitTypes": "visit-types.json",
	"dependencies": ["general"]
}`

func TestValidatePackDir_Valid(t *testing.T) {
	root := t.TempDir()
	dir := writePack(t, root, "ob-gyn", "1.0.0", obgynManifest, map[string]string{
		"templates/prenatal.json": `{"title": "Prenatal intake"}`,
		"visit-types.json":        `[{"code": "prenatal-initial"}]`,
	})

	var out bytes.Buffer
	if err := validatePackDir(context.Background(), &out, dir, testLoader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "ob-gyn:1.0.0: valid (1 templates") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestValidatePackDir_Violations(t *testing.T) {
	root := t.TempDir()
	dir := writePack(t, root, "ob-gyn", "1.0.0", `{"slug": "OB", "version": "one", "extra": true}`, nil)

	var out bytes.Buffer
	err := validatePackDir(context.Background(), &out, dir, testLoader)
	if err == nil {
		t.Fatal("expected invalid manifest error")
	}
	for _, want := range []string{"violation(s)", "slug", "extra", "templates"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output, got:\n%s", want, out.String())
		}
	}
}

func TestValidatePackDir_IdentityMismatch(t *testing.T) {
	root := t.TempDir()
	dir := writePack(t, root, "ob-gyn", "2.0.0", obgynManifest, nil)

	var out bytes.Buffer
	if err := validatePackDir(context.Background(), &out, dir, testLoader); err == nil {
		t.Fatal("expected identity mismatch error")
	}
	if !strings.Contains(out.String(), "does not match version directory") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestValidatePackDir_LooseDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, specialty.ManifestFile), []byte(obgynManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := validatePackDir(context.Background(), &out, dir, testLoader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "manifest valid") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestWriteFormatted(t *testing.T) {
	pack := map[string]interface{}{
		"slug":       "ob-gyn",
		"visitTypes": []interface{}{map[string]interface{}{"code": "prenatal-initial"}},
	}

	var js bytes.Buffer
	if err := writeFormatted(&js, "json", pack); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.Contains(js.String(), `"slug": "ob-gyn"`) {
		t.Errorf("unexpected json output: %s", js.String())
	}

	var ym bytes.Buffer
	if err := writeFormatted(&ym, "yaml", pack); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(ym.String(), "slug: ob-gyn") || !strings.Contains(ym.String(), "code: prenatal-initial") {
		t.Errorf("unexpected yaml output: %s", ym.String())
	}

	if err := writeFormatted(&bytes.Buffer{}, "xml", pack); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWriteCatalog(t *testing.T) {
	var out bytes.Buffer
	err := writeCatalog(&out, []specialty.CatalogEntry{
		{Slug: "general", Latest: "1.0.0", Versions: []string{"1.0.0"}, Name: "General", Category: "general"},
		{Slug: "wound-care", Latest: "0.2.0", Versions: []string{"0.2.0", "0.1.0"}, Error: "manifest invalid"},
	})
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[1], "general") || !strings.Contains(lines[2], "error: manifest invalid") {
		t.Errorf("unexpected catalog table:\n%s", out.String())
	}
}

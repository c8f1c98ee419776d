package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lbekk/stagemill/internal/sysdeps"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestName), []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return dir
}

func TestLoadFile_FullManifest(t *testing.T) {
	dir := writeManifest(t, `
pipeline "docproc-api" {
  python     = "3.11"
  port       = 9000
  app_dir    = "app"
  transplant = "narrow"

  system "ca-certificates" {
    scope = "all"
  }

  system "curl" {
    scope = "build"
  }
}
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Name != "docproc-api" {
		t.Fatalf("name: got %s", cfg.Name)
	}
	if cfg.BuilderBase != "python:3.11" || cfg.FinalBase != "python:3.11-slim" {
		t.Fatalf("base defaults wrong: %s / %s", cfg.BuilderBase, cfg.FinalBase)
	}
	if cfg.Port != 9000 {
		t.Fatalf("port: got %d", cfg.Port)
	}
	if cfg.Transplant != TransplantNarrow {
		t.Fatalf("transplant: got %q", cfg.Transplant)
	}
	if len(cfg.System) != 2 || cfg.System[0].Scope != sysdeps.ScopeAll || cfg.System[1].Scope != sysdeps.ScopeBuild {
		t.Fatalf("system deps wrong: %+v", cfg.System)
	}
	// entrypoint default tracks the declared port
	want := []string{"uvicorn", "app.main:app", "--host", "0.0.0.0", "--port", "9000"}
	if !reflect.DeepEqual(cfg.Entrypoint, want) {
		t.Fatalf("entrypoint: got %v, want %v", cfg.Entrypoint, want)
	}
}

func TestLoadFile_Interpolation(t *testing.T) {
	dir := writeManifest(t, `
pipeline "docproc-api" {
  python     = "3.12"
  final_base = "python:${python.series}-slim"
  entrypoint = ["uvicorn", "app.main:app", "--host", "0.0.0.0", "--port", tostring(port)]
}
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FinalBase != "python:3.12-slim" {
		t.Fatalf("interpolated final base: got %s", cfg.FinalBase)
	}
	if cfg.Entrypoint[len(cfg.Entrypoint)-1] != "8000" {
		t.Fatalf("port interpolation: got %v", cfg.Entrypoint)
	}
}

func TestLoadFile_Builtins(t *testing.T) {
	dir := writeManifest(t, `
pipeline "docproc-api" {
  python     = "3.12"
  final_base = format("python:%s-slim", python.series)
  app_dir    = lower("App")
}
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FinalBase != "python:3.12-slim" {
		t.Fatalf("format builtin: got %s", cfg.FinalBase)
	}
	if cfg.AppDir != "app" {
		t.Fatalf("lower builtin: got %s", cfg.AppDir)
	}
}

func TestLoad_FallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Python.Series() != "3.11" || cfg.Port != 8000 {
		t.Fatalf("default config wrong: %+v", cfg)
	}
	if cfg.Name != filepath.Base(dir) {
		t.Fatalf("default name should be project dir base, got %s", cfg.Name)
	}
}

func TestLoadFile_RejectsBadScope(t *testing.T) {
	dir := writeManifest(t, `
pipeline "p" {
  python = "3.11"
  system "curl" {
    scope = "sometimes"
  }
}
`)
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected scope error")
	}
}

func TestLoadFile_RejectsMultiplePipelines(t *testing.T) {
	dir := writeManifest(t, `
pipeline "a" {
  python = "3.11"
}
pipeline "b" {
  python = "3.11"
}
`)
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected single-pipeline error")
	}
}

func TestLoadFile_RejectsUnpinnedPython(t *testing.T) {
	dir := writeManifest(t, `
pipeline "p" {
  python = "latest"
}
`)
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected pin error")
	}
}

func TestParseTransplant(t *testing.T) {
	if _, err := ParseTransplant("narrow"); err != nil {
		t.Fatalf("narrow must parse: %v", err)
	}
	if _, err := ParseTransplant("everything"); err == nil {
		t.Fatalf("unknown mode must fail")
	}
}

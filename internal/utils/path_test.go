package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePathStrict(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "stagemill.hcl")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	resolved, err := ResolvePathStrict(file)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !filepath.IsAbs(resolved) {
		t.Fatalf("got relative path %q", resolved)
	}

	if _, err := ResolvePathStrict(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("missing path resolved without error")
	}
}

func TestResolvePathStrictFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	resolved, err := ResolvePathStrict(link)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatalf("eval target: %v", err)
	}
	if resolved != want {
		t.Fatalf("got %q, want %q", resolved, want)
	}
}

func TestResolveFolderStrict(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "requirements.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	wantDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("eval dir: %v", err)
	}

	fromFile, err := ResolveFolderStrict(file)
	if err != nil {
		t.Fatalf("resolve file: %v", err)
	}
	if fromFile != wantDir {
		t.Fatalf("file resolved to %q, want %q", fromFile, wantDir)
	}

	fromDir, err := ResolveFolderStrict(dir)
	if err != nil {
		t.Fatalf("resolve dir: %v", err)
	}
	if fromDir != wantDir {
		t.Fatalf("dir resolved to %q, want %q", fromDir, wantDir)
	}
}

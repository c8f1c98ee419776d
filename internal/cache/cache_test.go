package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lbekk/stagemill/internal/config"
	"github.com/lbekk/stagemill/internal/dockerfile"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	return config.Default(dir)
}

func newTestManager(t *testing.T) Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "imagecache.json"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func renderFixed(lines ...string) func(context.Context) (dockerfile.Dockerfile, error) {
	return func(context.Context) (dockerfile.Dockerfile, error) {
		return dockerfile.Dockerfile(lines), nil
	}
}

func TestResolveImageBuildsOnMiss(t *testing.T) {
	m := newTestManager(t)
	cfg := testConfig(t)

	builds := 0
	res, err := m.ResolveImage(context.Background(), cfg, "aa",
		func(context.Context, ImageID) bool { return true },
		renderFixed("FROM python:3.11-slim"),
		func(context.Context, dockerfile.Dockerfile, string) (ImageID, error) {
			builds++
			return "sha256:abc", nil
		},
	)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.CacheHit {
		t.Fatal("first resolve reported a cache hit")
	}
	if builds != 1 {
		t.Fatalf("got %d builds, want 1", builds)
	}
	if res.ImageID != "sha256:abc" {
		t.Fatalf("got image %q, want sha256:abc", res.ImageID)
	}
}

func TestResolveImageReusesCachedImage(t *testing.T) {
	m := newTestManager(t)
	cfg := testConfig(t)

	builds := 0
	build := func(context.Context, dockerfile.Dockerfile, string) (ImageID, error) {
		builds++
		return "sha256:abc", nil
	}
	exists := func(context.Context, ImageID) bool { return true }
	render := renderFixed("FROM python:3.11-slim")

	if _, err := m.ResolveImage(context.Background(), cfg, "aa", exists, render, build); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	res, err := m.ResolveImage(context.Background(), cfg, "aa", exists, render, build)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !res.CacheHit {
		t.Fatal("second resolve missed the cache")
	}
	if builds != 1 {
		t.Fatalf("got %d builds, want 1", builds)
	}
}

func TestResolveImageRebuildsWhenImageGone(t *testing.T) {
	m := newTestManager(t)
	cfg := testConfig(t)

	builds := 0
	build := func(context.Context, dockerfile.Dockerfile, string) (ImageID, error) {
		builds++
		return "sha256:abc", nil
	}
	render := renderFixed("FROM python:3.11-slim")

	if _, err := m.ResolveImage(context.Background(), cfg, "aa",
		func(context.Context, ImageID) bool { return true }, render, build); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// the engine pruned the image since the last run
	res, err := m.ResolveImage(context.Background(), cfg, "aa",
		func(context.Context, ImageID) bool { return false }, render, build)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res.CacheHit {
		t.Fatal("resolve reported a hit for a pruned image")
	}
	if builds != 2 {
		t.Fatalf("got %d builds, want 2", builds)
	}
}

func TestResolveImageContextKeyInvalidates(t *testing.T) {
	m := newTestManager(t)
	cfg := testConfig(t)

	builds := 0
	build := func(context.Context, dockerfile.Dockerfile, string) (ImageID, error) {
		builds++
		return ImageID("sha256:" + strings.Repeat("a", builds)), nil
	}
	exists := func(context.Context, ImageID) bool { return true }
	render := renderFixed("FROM python:3.11-slim")

	if _, err := m.ResolveImage(context.Background(), cfg, "aa", exists, render, build); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// same rendered Dockerfile, changed application sources
	res, err := m.ResolveImage(context.Background(), cfg, "bb", exists, render, build)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if res.CacheHit {
		t.Fatal("changed build context still hit the cache")
	}
	if builds != 2 {
		t.Fatalf("got %d builds, want 2", builds)
	}
}

func TestResolveImageBuildFailureClearsMarker(t *testing.T) {
	m := newTestManager(t)
	cfg := testConfig(t)

	wantErr := errors.New("engine unreachable")
	_, err := m.ResolveImage(context.Background(), cfg, "aa",
		func(context.Context, ImageID) bool { return true },
		renderFixed("FROM python:3.11-slim"),
		func(context.Context, dockerfile.Dockerfile, string) (ImageID, error) {
			return "", wantErr
		},
	)
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want build error", err)
	}

	// the failed attempt must not leave a BUILDING marker behind
	res, err := m.ResolveImage(context.Background(), cfg, "aa",
		func(context.Context, ImageID) bool { return true },
		renderFixed("FROM python:3.11-slim"),
		func(context.Context, dockerfile.Dockerfile, string) (ImageID, error) {
			return "sha256:abc", nil
		},
	)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.ImageID != "sha256:abc" {
		t.Fatalf("got image %q, want sha256:abc", res.ImageID)
	}
}

func TestBuildingMarker(t *testing.T) {
	id := newBuildingID("deadbeef")
	if !isBuilding(id) {
		t.Fatalf("fresh marker %q not recognized", id)
	}
	if isBuildingStale(id) {
		t.Fatal("fresh marker reported stale")
	}
	if isBuilding("sha256:abc") {
		t.Fatal("plain image ID recognized as marker")
	}

	old := ImageID(buildingPrefix + "1000000000:deadbeef")
	if !isBuildingStale(old) {
		t.Fatal("decade-old marker not reported stale")
	}
	if _, ok := parseBuildingMarker("sha256:abc"); ok {
		t.Fatal("parsed a non-marker")
	}
}

func TestKeyRenderedLinesOrderSensitive(t *testing.T) {
	a := KeyRenderedLines([]string{"FROM python:3.11", "RUN pip install x"})
	b := KeyRenderedLines([]string{"RUN pip install x", "FROM python:3.11"})
	if a == b {
		t.Fatal("reordered lines produced the same key")
	}
	// length prefixing keeps boundary shifts distinct
	c := KeyRenderedLines([]string{"ab", "c"})
	d := KeyRenderedLines([]string{"a", "bc"})
	if c == d {
		t.Fatal("shifted line boundary produced the same key")
	}
}

func TestKeyBuildContext(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(rel, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("requirements.txt", "fastapi==0.110.0\n")
	write(filepath.Join("app", "main.py"), "app = 1\n")

	k1, err := KeyBuildContext(dir, "requirements.txt", "app")
	if err != nil {
		t.Fatalf("context key: %v", err)
	}
	k2, err := KeyBuildContext(dir, "requirements.txt", "app")
	if err != nil {
		t.Fatalf("context key: %v", err)
	}
	if k1 != k2 {
		t.Fatal("unchanged tree produced different keys")
	}

	write(filepath.Join("app", "main.py"), "app = 2\n")
	k3, err := KeyBuildContext(dir, "requirements.txt", "app")
	if err != nil {
		t.Fatalf("context key: %v", err)
	}
	if k3 == k1 {
		t.Fatal("edited source produced the same key")
	}

	// bytecode churn must not invalidate the key
	if err := os.MkdirAll(filepath.Join(dir, "app", "__pycache__"), 0o755); err != nil {
		t.Fatal(err)
	}
	write(filepath.Join("app", "__pycache__", "main.cpython-311.pyc"), "xx")
	k4, err := KeyBuildContext(dir, "requirements.txt", "app")
	if err != nil {
		t.Fatalf("context key: %v", err)
	}
	if k4 != k3 {
		t.Fatal("__pycache__ contents changed the key")
	}
}

func TestImageRef(t *testing.T) {
	ref := ImageRef("Doc Proc!", "/home/u/x", "0123456789abcdef0123")
	if ref != "stagemill/docproc:0123456789abcdef" {
		t.Fatalf("got %q", ref)
	}

	ref = ImageRef("", "/srv/projects/docproc/api", "abcd")
	if ref != "stagemill/docproc_api:abcd" {
		t.Fatalf("got %q", ref)
	}

	if got := ImageRef("", "", "abcd"); got != "stagemill/unnamed:abcd" {
		t.Fatalf("got %q", got)
	}
}

func TestFSMutex(t *testing.T) {
	lock := NewFSMutex(filepath.Join(t.TempDir(), "cache.lock"))
	if err := lock.Lock(3); err != nil {
		t.Fatalf("lock: %v", err)
	}

	other := NewFSMutex(lock.(*fsMutex).lockPath)
	start := time.Now()
	if err := other.Lock(2); err == nil {
		t.Fatal("second lock succeeded while held")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("contended lock did not give up promptly")
	}

	lock.Unlock()
	if err := other.Lock(3); err != nil {
		t.Fatalf("lock after unlock: %v", err)
	}
	other.Unlock()
	// Unlock is idempotent
	other.Unlock()
}

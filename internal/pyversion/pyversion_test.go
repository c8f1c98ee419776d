package pyversion

import (
	"errors"
	"testing"
)

func TestParseImageRef_SlimTag(t *testing.T) {
	v, err := ParseImageRef("python:3.11-slim")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := v.Series(), "3.11"; got != want {
		t.Fatalf("series: got %s, want %s", got, want)
	}
	if !v.Slim() {
		t.Fatalf("expected slim variant")
	}
	if v.Exact() {
		t.Fatalf("major.minor tag must not report an exact patch pin")
	}
}

func TestParseImageRef_FullPinWithVariantSuffix(t *testing.T) {
	v, err := ParseImageRef("python:3.11.9-slim-bookworm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Patch != 9 || !v.Exact() {
		t.Fatalf("expected exact patch pin 9, got %+v", v)
	}
	if !v.Slim() {
		t.Fatalf("slim-bookworm should count as a minimized variant")
	}
}

func TestParseImageRef_RegistryQualified(t *testing.T) {
	v, err := ParseImageRef("docker.io/library/python:3.12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := v.Series(), "3.12"; got != want {
		t.Fatalf("series: got %s, want %s", got, want)
	}
	if v.Slim() {
		t.Fatalf("full base must not report slim")
	}
}

func TestParseImageRef_RejectsNonPython(t *testing.T) {
	for _, ref := range []string{"debian:bookworm-slim", "python", "python:latest", "pypy:3.11"} {
		if _, err := ParseImageRef(ref); !errors.Is(err, ErrNotPython) {
			t.Fatalf("ref %q: expected ErrNotPython, got %v", ref, err)
		}
	}
}

func TestSameSeries(t *testing.T) {
	a, _ := ParseImageRef("python:3.11")
	b, _ := ParseImageRef("python:3.11.9-slim")
	c, _ := ParseImageRef("python:3.12-slim")

	if !a.SameSeries(b) {
		t.Fatalf("3.11 and 3.11.9 share a series")
	}
	if a.SameSeries(c) {
		t.Fatalf("3.11 and 3.12 must not share a series")
	}
}

func TestSitePackagesPath(t *testing.T) {
	v, _ := ParseImageRef("python:3.11-slim")
	want := "/usr/local/lib/python3.11/site-packages"
	if got := v.SitePackages(); got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

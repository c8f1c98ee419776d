// Package pyversion pins and compares the Python runtime series carried by
// base image references. Both build stages must agree on major.minor: the
// installed-package tree moved between stages contains compiled extension
// modules that are ABI-bound to the interpreter series.
package pyversion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrNotPython marks image refs that do not pin a python runtime.
var ErrNotPython = errors.New("image ref does not pin a python runtime")

// Version is the runtime version extracted from a pinned base image ref.
type Version struct {
	Major   uint64
	Minor   uint64
	Patch   uint64
	exact   bool // tag pinned a full major.minor.patch
	Variant string
}

// ParseImageRef extracts the python version from refs like
//
//	python:3.11-slim
//	python:3.11.9-slim-bookworm
//	docker.io/library/python:3.12
//
// The repository must be "python" (optionally registry-qualified) and the tag
// must start with a version. Anything else returns ErrNotPython.
func ParseImageRef(ref string) (Version, error) {
	repo, tag := splitRef(ref)
	if repo != "python" && !strings.HasSuffix(repo, "/python") {
		return Version{}, fmt.Errorf("%w: %q", ErrNotPython, ref)
	}
	if tag == "" || tag == "latest" {
		return Version{}, fmt.Errorf("%w: %q has no pinned version tag", ErrNotPython, ref)
	}

	versionPart := tag
	variant := ""
	if idx := strings.IndexByte(tag, '-'); idx >= 0 {
		versionPart = tag[:idx]
		variant = tag[idx+1:]
	}

	v, err := semver.NewVersion(versionPart)
	if err != nil {
		return Version{}, fmt.Errorf("%w: tag %q: %v", ErrNotPython, tag, err)
	}

	return Version{
		Major:   v.Major(),
		Minor:   v.Minor(),
		Patch:   v.Patch(),
		exact:   strings.Count(versionPart, ".") >= 2,
		Variant: variant,
	}, nil
}

// Series returns the major.minor pin, e.g. "3.11".
func (v Version) Series() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// SameSeries reports whether two pins share the interpreter ABI series.
func (v Version) SameSeries(other Version) bool {
	return v.Major == other.Major && v.Minor == other.Minor
}

// Exact reports whether the tag pinned a full patch version.
func (v Version) Exact() bool { return v.exact }

// Slim reports whether the ref points at a minimized base variant.
func (v Version) Slim() bool {
	return v.Variant == "slim" || strings.HasPrefix(v.Variant, "slim-")
}

// SitePackages returns the installed-package directory for this series under
// the standard /usr/local prefix. This is the narrow transplant source.
func (v Version) SitePackages() string {
	return fmt.Sprintf("/usr/local/lib/python%s/site-packages", v.Series())
}

// ScriptsDir is the executable-entry-point directory installed console
// scripts land in. The narrow transplant must carry it alongside
// site-packages or installed entry points go missing.
func ScriptsDir() string { return "/usr/local/bin" }

// Prefix is the whole language-runtime installation prefix, the broad
// transplant source.
func Prefix() string { return "/usr/local" }

func splitRef(ref string) (repo, tag string) {
	repo = ref
	// a digest pin carries no tag to parse
	if idx := strings.IndexByte(ref, '@'); idx >= 0 {
		repo = ref[:idx]
	}
	slash := strings.LastIndexByte(repo, '/')
	if colon := strings.LastIndexByte(repo, ':'); colon > slash {
		return repo[:colon], repo[colon+1:]
	}
	return repo, ""
}

// Package sysdeps holds the single system-package manifest. Every dependency
// is tagged with the stage scope it belongs to, and the per-stage install
// lists are mechanical projections of that one manifest, so the builder and
// the final stage cannot drift apart by hand-edited duplication.
package sysdeps

import (
	"fmt"
	"sort"
)

// Scope tags where a system package must be present.
type Scope string

const (
	// ScopeBuild marks toolchains and headers needed only to compile
	// language-level packages. They never reach the shipped image.
	ScopeBuild Scope = "build"
	// ScopeRuntime marks binaries and shared libraries the application
	// invokes after startup.
	ScopeRuntime Scope = "runtime"
	// ScopeAll marks packages both stages need.
	ScopeAll Scope = "all"
)

// ParseScope validates a manifest scope tag.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeBuild, ScopeRuntime, ScopeAll:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown dependency scope %q (want build, runtime, or all)", s)
}

// Dep is one apt-level package declaration.
type Dep struct {
	Name  string
	Scope Scope
	// Pin is an optional exact apt version.
	Pin string
	// Reason records which language-level binding pulled this in, for audit.
	Reason string
}

func (d Dep) aptName() string {
	if d.Pin != "" {
		return d.Name + "=" + d.Pin
	}
	return d.Name
}

// Set is an ordered, deduplicated dependency manifest. Insertion order is
// kept for reproducibility; duplicates widen the scope instead of stacking.
type Set struct {
	deps  []Dep
	index map[string]int
}

func NewSet() *Set {
	return &Set{index: map[string]int{}}
}

// Add inserts a dependency, merging scope with any existing entry for the
// same package: build + runtime collapses to all.
func (s *Set) Add(d Dep) {
	if i, ok := s.index[d.Name]; ok {
		s.deps[i].Scope = mergeScope(s.deps[i].Scope, d.Scope)
		if s.deps[i].Reason == "" {
			s.deps[i].Reason = d.Reason
		}
		return
	}
	s.index[d.Name] = len(s.deps)
	s.deps = append(s.deps, d)
}

func (s *Set) All() []Dep {
	out := make([]Dep, len(s.deps))
	copy(out, s.deps)
	return out
}

// Builder projects the packages the builder stage installs: everything that
// is not runtime-only, since compiling a binding usually needs the engine's
// dev headers too.
func (s *Set) Builder() []string {
	return s.project(func(sc Scope) bool { return sc == ScopeBuild || sc == ScopeAll })
}

// Runtime projects the final stage's install list. The invariant of the
// pipeline: this set is a superset of every runtime-required native
// dependency of the language-level packages.
func (s *Set) Runtime() []string {
	return s.project(func(sc Scope) bool { return sc == ScopeRuntime || sc == ScopeAll })
}

func (s *Set) project(keep func(Scope) bool) []string {
	out := []string{}
	for _, d := range s.deps {
		if keep(d.Scope) {
			out = append(out, d.aptName())
		}
	}
	sort.Strings(out)
	return out
}

func mergeScope(a, b Scope) Scope {
	if a == b {
		return a
	}
	return ScopeAll
}

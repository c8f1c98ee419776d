// Package reqfile parses the language-level dependency manifest
// (requirements.txt). The manifest is the single source of truth for the
// builder stage: insertion order is preserved for reproducible installs and
// duplicate distributions are rejected rather than silently merged.
package reqfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// ErrResolution is the sentinel for manifest failures, checkable with errors.Is.
// Any unresolved line aborts the whole pipeline; there is no partial success.
var ErrResolution = errors.New("dependency resolution failed")

// ResolutionError pins a failure to a manifest line.
type ResolutionError struct {
	Line   int
	Text   string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%v: line %d %q: %s", ErrResolution, e.Line, e.Text, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return ErrResolution }

// Requirement is one declared distribution with its version constraint.
type Requirement struct {
	// Name as written in the manifest.
	Name string
	// Canonical is the PEP 503 normalized name used for lookups.
	Canonical string
	Extras    []string
	// Specifier is the raw version constraint expression ("==2.1.0", ">=1,<2").
	Specifier string
	// Marker is the environment marker, kept verbatim.
	Marker string
}

// Pinned returns the exact version when the specifier is a single "==" pin.
func (r Requirement) Pinned() (string, bool) {
	spec := strings.TrimSpace(r.Specifier)
	if !strings.HasPrefix(spec, "==") || strings.ContainsRune(spec, ',') {
		return "", false
	}
	v := strings.TrimSpace(strings.TrimPrefix(spec, "=="))
	if v == "" || strings.ContainsAny(v, "*") {
		return "", false
	}
	return v, true
}

var nameRe = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)(\[([^\]]*)\])?\s*(.*)$`)

// Parse reads a requirements manifest. Comments and blank lines are skipped;
// pip option lines (-r, --index-url, ...) are not supported here because the
// pipeline treats this file as a plain dependency declaration, and editable
// or URL requirements cannot be projected onto system packages.
func Parse(r io.Reader) ([]Requirement, error) {
	var out []Requirement
	seen := map[string]int{}

	scanner := bufio.NewScanner(r)
	lineno := 0
	pending := ""
	for scanner.Scan() {
		lineno++
		raw := scanner.Text()

		line := pending + strings.TrimSpace(raw)
		pending = ""
		if strings.HasSuffix(line, "\\") {
			pending = strings.TrimSuffix(line, "\\")
			continue
		}

		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "-") {
			return nil, &ResolutionError{Line: lineno, Text: line, Reason: "pip options are not supported in the pipeline manifest"}
		}
		if strings.Contains(line, "://") || strings.HasPrefix(line, ".") || strings.HasPrefix(line, "/") {
			return nil, &ResolutionError{Line: lineno, Text: line, Reason: "URL and path requirements cannot be declared here"}
		}

		req, err := parseLine(line, lineno)
		if err != nil {
			return nil, err
		}

		if prev, dup := seen[req.Canonical]; dup {
			return nil, &ResolutionError{
				Line:   lineno,
				Text:   line,
				Reason: fmt.Sprintf("distribution %q already declared on line %d", req.Canonical, prev),
			}
		}
		seen[req.Canonical] = lineno
		out = append(out, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if pending != "" {
		return nil, &ResolutionError{Line: lineno, Text: pending, Reason: "dangling line continuation"}
	}

	return out, nil
}

// ParseFile is Parse over a file on disk. A missing manifest is a resolution
// failure, not an empty set.
func ParseFile(path string) ([]Requirement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open manifest: %v", ErrResolution, err)
	}
	defer f.Close()
	return Parse(f)
}

func parseLine(line string, lineno int) (Requirement, error) {
	marker := ""
	if idx := strings.IndexRune(line, ';'); idx >= 0 {
		marker = strings.TrimSpace(line[idx+1:])
		line = strings.TrimSpace(line[:idx])
	}

	m := nameRe.FindStringSubmatch(line)
	if m == nil {
		return Requirement{}, &ResolutionError{Line: lineno, Text: line, Reason: "not a valid requirement"}
	}

	name := m[1]
	spec := strings.TrimSpace(m[4])
	if spec != "" && !strings.ContainsAny(spec, "=<>!~") {
		return Requirement{}, &ResolutionError{Line: lineno, Text: line, Reason: "malformed version specifier"}
	}

	var extras []string
	if m[3] != "" {
		for _, e := range strings.Split(m[3], ",") {
			if e = strings.TrimSpace(e); e != "" {
				extras = append(extras, e)
			}
		}
	}

	return Requirement{
		Name:      name,
		Canonical: Canonical(name),
		Extras:    extras,
		Specifier: spec,
		Marker:    marker,
	}, nil
}

var canonicalRe = regexp.MustCompile(`[-_.]+`)

// Canonical normalizes a distribution name per PEP 503.
func Canonical(name string) string {
	return strings.ToLower(canonicalRe.ReplaceAllString(name, "-"))
}

// CanonicalNames projects the canonical name list out of a parsed manifest.
func CanonicalNames(reqs []Requirement) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Canonical
	}
	return out
}

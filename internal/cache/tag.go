package cache

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const tagKeyLen = 16

// ImageRef returns the repository:tag under which a built image is stored,
// e.g. "stagemill/docproc_api:3f9a0c12deadbeef". The repository part comes
// from the pipeline name when set, otherwise from the project path; the tag
// is a truncation of the combined cache key, long enough that collisions
// within one engine are not a practical concern.
func ImageRef(name, projectDir string, key CacheKey) string {
	repo := sanitizeRefPart(name)
	if repo == "" {
		repo = projectPrefix(projectDir)
	}

	tag := string(key)
	if len(tag) > tagKeyLen {
		tag = tag[:tagKeyLen]
	}
	if tag == "" {
		tag = "latest"
	}
	return "stagemill/" + repo + ":" + tag
}

// projectPrefix derives a registry-safe name from the last one or two path
// segments of the project directory, with the home directory trimmed first.
func projectPrefix(projectDir string) string {
	if projectDir == "" {
		return "unnamed"
	}

	projectDir = filepath.Clean(projectDir)
	if home, err := os.UserHomeDir(); err == nil {
		if after, ok := strings.CutPrefix(projectDir, home); ok {
			projectDir = after
		}
	}

	parts := strings.FieldsFunc(projectDir, func(r rune) bool {
		return r == filepath.Separator
	})
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}

	prefix := sanitizeRefPart(strings.Join(parts, "_"))
	if prefix == "" {
		return "unnamed"
	}
	if len(prefix) > 63 {
		prefix = prefix[:63]
	}
	return prefix
}

// sanitizeRefPart keeps only [a-z0-9_.-], lowercasing letters and dropping
// everything else, then trims separators a repository name may not start with.
func sanitizeRefPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return strings.TrimLeft(b.String(), "._-")
}

package utils

import (
	"errors"
	"os"
	"path/filepath"
)

var ErrNonexistentPath = errors.New("path does not exist")

// ResolvePathStrict resolves p to an absolute, canonical path, following all
// symlinks. Broken symlinks, cycles, and missing targets fail.
func ResolvePathStrict(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(filepath.Clean(abs))
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(resolved); err != nil {
		return "", ErrNonexistentPath
	}

	return resolved, nil
}

// ResolveFolderStrict resolves p like ResolvePathStrict, except a file path
// resolves to its containing folder.
func ResolveFolderStrict(p string) (string, error) {
	abs, err := ResolvePathStrict(p)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}

	if !fi.IsDir() {
		return filepath.Dir(abs), nil
	}

	return abs, nil
}

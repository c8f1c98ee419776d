package config

import (
	"fmt"
	"os"
	"path/filepath"
)

func ensureFolder(path string) error {
	return os.MkdirAll(path, 0o755)
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create/open file: %w", err)
	}
	defer f.Close()

	return nil
}

// BasePath is where stagemill keeps its own state, outside any project tree.
func BasePath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		homedir = "/usr/local/config/stagemill"
	}

	return filepath.Join(homedir, ".config", "stagemill")
}

// CacheStateFile holds the image cache map (rendered-lines key → image ID).
func CacheStateFile() string {
	return filepath.Join(BasePath(), "imagecache.json")
}

// StateDBFile holds the sqlite build history database.
func StateDBFile() string {
	return filepath.Join(BasePath(), "state.db")
}

func projectDataPath(projectName string) string {
	return filepath.Join(BasePath(), "projects", projectName)
}

// BuildLogPath returns the per-build full log file, creating parents.
func BuildLogPath(projectName, buildID string) string {
	p := filepath.Join(projectDataPath(projectName), "logs", "build-"+buildID+".log")
	ensureFile(p)
	return p
}

// BuildLogOpen opens the per-build full log for appending.
func BuildLogOpen(projectName, buildID string) (*os.File, error) {
	return os.OpenFile(BuildLogPath(projectName, buildID), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
}

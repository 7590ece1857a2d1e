package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// HistoryFile is the database file name inside the data directory.
const HistoryFile = "history.db"

// CuraDir returns the path to the per-user .cura directory.
// On Unix: ~/.cura
// On Windows: %USERPROFILE%\.cura
func CuraDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cura"), nil
}

// DefaultHistoryPath returns ~/.cura/history.db.
func DefaultHistoryPath() (string, error) {
	dir, err := CuraDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, HistoryFile), nil
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

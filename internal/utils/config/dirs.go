package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir resolves dir to an absolute path and creates it if missing.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory %s: %w", dir, err)
	}
	if err := createDirIfNotExists(abs); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", abs, err)
	}
	return abs, nil
}

func createDirIfNotExists(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}

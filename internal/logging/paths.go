package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.convindex/logs, falling back to the temp
// directory when no home directory is available.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".convindex", "logs")
	}
	return filepath.Join(home, ".convindex", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "convindex.log")
}

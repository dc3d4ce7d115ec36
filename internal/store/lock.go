package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DataLock guards the data directory against concurrent server
// instances. Two processes rewriting documents.json would silently
// lose each other's writes, so serve acquires this before opening
// the store. Works on all platforms.
type DataLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataLock creates a lock for the given lock file path.
func NewDataLock(path string) *DataLock {
	return &DataLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryAcquire attempts to take the lock without blocking.
// Returns false when another process holds it.
func (l *DataLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire data lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Release drops the lock. Safe to call on an unheld lock.
func (l *DataLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release data lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DataLock) Path() string {
	return l.path
}

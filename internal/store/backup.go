package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// writeBackup copies the persisted store file to a timestamped sibling
// and prunes old backups down to the retain limit. Returns the backup
// path, or "" when there is no file to back up yet. Called with the
// write lock held.
func (s *DocumentStore) writeBackup() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read store for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s.bak.%d", s.path, time.Now().Unix())
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup %s: %w", backupPath, err)
	}

	s.pruneBackups()

	return backupPath, nil
}

// pruneBackups removes the oldest backups beyond the retain limit.
// Prune failures are ignored; stale backups are harmless.
func (s *DocumentStore) pruneBackups() {
	if s.backupRetain <= 0 {
		return
	}

	prefix := filepath.Base(s.path) + ".bak."
	entries, err := os.ReadDir(filepath.Dir(s.path))
	if err != nil {
		return
	}

	type backup struct {
		name string
		ts   int64
	}
	var backups []backup
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimPrefix(e.Name(), prefix), 10, 64)
		if err != nil {
			continue
		}
		backups = append(backups, backup{name: e.Name(), ts: ts})
	}

	if len(backups) <= s.backupRetain {
		return
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].ts > backups[j].ts })
	for _, b := range backups[s.backupRetain:] {
		os.Remove(filepath.Join(filepath.Dir(s.path), b.name))
	}
}

package syncer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileState records what the scheduler last saw for a watched file.
// The recorded hash is what makes unchanged-file re-scans a no-op.
type FileState struct {
	FilePath     string    `json:"file_path"`
	DocumentID   string    `json:"document_id"`
	LastHash     string    `json:"last_hash"`
	LastSize     int64     `json:"last_size"`
	LastModified time.Time `json:"last_modified_time"`
	LastChecked  time.Time `json:"last_checked_time"`
}

// WatchState is the per-file sync bookkeeping, persisted as a sidecar
// JSON file next to the document store. Unlike the store it is a
// rebuildable cache: a corrupt sidecar is logged and discarded, not
// fatal.
type WatchState struct {
	path string

	mu    sync.Mutex
	files map[string]FileState
}

type watchStateFile struct {
	Files       map[string]FileState `json:"files"`
	LastUpdated time.Time            `json:"lastUpdated"`
}

// LoadWatchState reads the sidecar at path, starting empty when it is
// missing or unreadable.
func LoadWatchState(path string) *WatchState {
	ws := &WatchState{
		path:  path,
		files: make(map[string]FileState),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read watch state, starting empty",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return ws
	}

	var persisted watchStateFile
	if err := json.Unmarshal(data, &persisted); err != nil {
		slog.Warn("corrupt watch state, starting empty",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return ws
	}
	if persisted.Files != nil {
		ws.files = persisted.Files
	}
	return ws
}

// Get returns the recorded state for a file path.
func (ws *WatchState) Get(filePath string) (FileState, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	st, ok := ws.files[filePath]
	return st, ok
}

// Put records state for a file and persists the sidecar.
func (ws *WatchState) Put(st FileState) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.files[st.FilePath] = st
	return ws.persistLocked()
}

// Touch refreshes only the last-checked time for an unchanged file.
// The sidecar is not rewritten; the timestamp is advisory.
func (ws *WatchState) Touch(filePath string, at time.Time) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if st, ok := ws.files[filePath]; ok {
		st.LastChecked = at
		ws.files[filePath] = st
	}
}

// Remove drops the state entry for a file path. Removing an unknown
// path is not an error.
func (ws *WatchState) Remove(filePath string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if _, ok := ws.files[filePath]; !ok {
		return nil
	}
	delete(ws.files, filePath)
	return ws.persistLocked()
}

// DocumentID returns the document id recorded for a file path, if any.
func (ws *WatchState) DocumentID(filePath string) (string, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	st, ok := ws.files[filePath]
	if !ok || st.DocumentID == "" {
		return "", false
	}
	return st.DocumentID, true
}

// Paths returns every tracked file path.
func (ws *WatchState) Paths() []string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]string, 0, len(ws.files))
	for p := range ws.files {
		out = append(out, p)
	}
	return out
}

// Len returns the number of tracked files.
func (ws *WatchState) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.files)
}

func (ws *WatchState) persistLocked() error {
	data, err := json.MarshalIndent(watchStateFile{
		Files:       ws.files,
		LastUpdated: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode watch state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(ws.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := ws.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write watch state: %w", err)
	}
	if err := os.Rename(tmp, ws.path); err != nil {
		return fmt.Errorf("failed to replace watch state: %w", err)
	}
	return nil
}

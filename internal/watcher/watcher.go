package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation is the normalized file system operation type.
type Operation int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Operation = iota
	// OpModify indicates an existing file's content changed.
	OpModify
	// OpDelete indicates a file was removed. Renames surface as a
	// delete of the old path plus a create of the new one.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a normalized file system event. Path is always absolute
// so consumers can correlate events across multiple watch roots.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher behavior.
type Options struct {
	// Extensions is the allow list of file extensions (with leading
	// dot) that produce events. Empty means every file matches.
	Extensions []string

	// DebounceWindow is how long to buffer repeat notifications for a
	// path before emitting one coalesced event. Default: 1.5s.
	DebounceWindow time.Duration

	// DuplicateWindow is how long an identical (operation, path) pair
	// is suppressed after being seen. Default: 2s.
	DuplicateWindow time.Duration

	// PollInterval is the scan interval for polling mode. Default: 5s.
	PollInterval time.Duration

	// EventBufferSize is the output channel buffer. Default: 1000.
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  1500 * time.Millisecond,
		DuplicateWindow: 2 * time.Second,
		PollInterval:    5 * time.Second,
		EventBufferSize: 1000,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow == 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.DuplicateWindow == 0 {
		o.DuplicateWindow = defaults.DuplicateWindow
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// matchesExtension reports whether path carries one of the recognized
// extensions. An empty allow list matches everything.
func (o Options) matchesExtension(path string) bool {
	if len(o.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range o.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

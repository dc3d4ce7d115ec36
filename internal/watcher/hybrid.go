package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// HybridWatcher watches the configured roots using fsnotify, falling
// back to polling when OS notifications are unavailable. Raw events
// pass through duplicate suppression and then the debouncer, so the
// output channel carries coalesced batches.
type HybridWatcher struct {
	fsWatcher   *fsnotify.Watcher
	pollWatcher *PollingWatcher
	useFsnotify bool
	debouncer   *Debouncer
	suppressor  *suppressor

	events chan []FileEvent
	errors chan error
	stopCh chan struct{}
	roots  []string
	opts   Options

	mu             sync.RWMutex
	stopped        bool
	droppedBatches atomic.Uint64
}

// NewHybridWatcher creates a watcher with the given options.
func NewHybridWatcher(opts Options) (*HybridWatcher, error) {
	opts = opts.WithDefaults()

	h := &HybridWatcher{
		debouncer:  NewDebouncer(opts.DebounceWindow),
		suppressor: newSuppressor(opts.DuplicateWindow),
		events:     make(chan []FileEvent, opts.EventBufferSize),
		errors:     make(chan error, 10),
		stopCh:     make(chan struct{}),
		opts:       opts,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		h.fsWatcher = fsw
		h.useFsnotify = true
	} else {
		slog.Warn("fsnotify unavailable, falling back to polling",
			slog.String("error", err.Error()))
		h.pollWatcher = NewPollingWatcher(opts.PollInterval, opts)
	}

	return h, nil
}

// Start begins watching the given root directories. Blocks until the
// context is cancelled or Stop is called.
func (h *HybridWatcher) Start(ctx context.Context, roots []string) error {
	if len(roots) == 0 {
		return fmt.Errorf("no watch roots configured")
	}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve watch root %s: %w", root, err)
		}
		h.roots = append(h.roots, abs)
	}

	go h.forwardDebounced(ctx)

	if h.useFsnotify {
		return h.startFsnotify(ctx)
	}
	return h.startPolling(ctx)
}

// startFsnotify registers every directory under the roots and runs the
// event loop.
func (h *HybridWatcher) startFsnotify(ctx context.Context) error {
	for _, root := range h.roots {
		if err := h.addRecursive(root); err != nil {
			return fmt.Errorf("register watch root %s: %w", root, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = h.Stop()
			return ctx.Err()
		case <-h.stopCh:
			return nil
		case event, ok := <-h.fsWatcher.Events:
			if !ok {
				return nil
			}
			h.handleFsnotifyEvent(event)
		case err, ok := <-h.fsWatcher.Errors:
			if !ok {
				return nil
			}
			h.emitError(err)
		}
	}
}

// startPolling pipes polling events through suppression and debounce.
func (h *HybridWatcher) startPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-h.pollWatcher.Events():
				if !ok {
					return
				}
				h.ingest(event)
			case err, ok := <-h.pollWatcher.Errors():
				if !ok {
					return
				}
				h.emitError(err)
			}
		}
	}()

	return h.pollWatcher.Start(ctx, h.roots)
}

// handleFsnotifyEvent normalizes a raw fsnotify event.
func (h *HybridWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		// New directories need their own watch registration
		if isDir {
			_ = h.addRecursive(event.Name)
			return
		}
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		if isDir {
			return
		}
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		// A rename is a delete of the old path; the new path arrives
		// as its own create event
		op = OpDelete
	default:
		// Chmod and friends carry no content change
		return
	}

	if !h.opts.matchesExtension(event.Name) {
		return
	}

	h.ingest(FileEvent{Path: event.Name, Operation: op, Timestamp: time.Now()})
}

// ingest applies duplicate suppression and hands the event to the
// debouncer.
func (h *HybridWatcher) ingest(event FileEvent) {
	if !h.opts.matchesExtension(event.Path) {
		return
	}
	if h.suppressor.shouldDrop(event) {
		return
	}
	h.debouncer.Add(event)
}

// forwardDebounced moves debounced batches to the output channel.
func (h *HybridWatcher) forwardDebounced(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case batch, ok := <-h.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) == 0 {
				continue
			}
			h.emitBatch(batch)
		}
	}
}

// addRecursive registers root and every subdirectory with fsnotify.
func (h *HybridWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); name == ".git" && path != root {
			return filepath.SkipDir
		}
		return h.fsWatcher.Add(path)
	})
}

// emitBatch sends a batch without blocking; a full buffer drops the
// batch and counts it.
func (h *HybridWatcher) emitBatch(batch []FileEvent) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.events <- batch:
	default:
		count := h.droppedBatches.Add(1)
		slog.Warn("watcher buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", count))
	}
}

// emitError sends a non-fatal error without blocking.
func (h *HybridWatcher) emitError(err error) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case h.errors <- err:
	default:
	}
}

// Stop halts the watcher, drains debounce timers, and closes the
// output channels. Safe to call multiple times.
func (h *HybridWatcher) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return nil
	}
	h.stopped = true
	close(h.stopCh)

	h.debouncer.Stop()

	if h.useFsnotify && h.fsWatcher != nil {
		_ = h.fsWatcher.Close()
	}
	if h.pollWatcher != nil {
		_ = h.pollWatcher.Stop()
	}

	close(h.events)
	close(h.errors)
	return nil
}

// Events returns the channel of debounced event batches.
func (h *HybridWatcher) Events() <-chan []FileEvent {
	return h.events
}

// Errors returns the channel of non-fatal watcher errors.
func (h *HybridWatcher) Errors() <-chan error {
	return h.errors
}

// DroppedBatches returns how many batches were dropped to buffer
// pressure.
func (h *HybridWatcher) DroppedBatches() uint64 {
	return h.droppedBatches.Load()
}

// WatcherType reports which mechanism is active, "fsnotify" or
// "polling".
func (h *HybridWatcher) WatcherType() string {
	if h.useFsnotify {
		return "fsnotify"
	}
	return "polling"
}

// IsHealthy reports whether the watcher is still running.
func (h *HybridWatcher) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.stopped
}

// Roots returns the absolute watch roots.
func (h *HybridWatcher) Roots() []string {
	return h.roots
}

// Package syncer keeps the document store consistent with the watched
// filesystem. The Scheduler consumes watcher events and full-scan
// sweeps, the Reconciler repairs drift on a timer, and the
// Consolidator merges duplicate records on demand.
package syncer

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/convindex/convindex/internal/errors"
	"github.com/convindex/convindex/internal/identity"
	"github.com/convindex/convindex/internal/store"
	"github.com/convindex/convindex/internal/watcher"
)

const (
	// summaryMaxLen bounds the derived summary label.
	summaryMaxLen = 80

	// jsonlScanBufferSize accommodates long single-line records.
	jsonlScanBufferSize = 10 * 1024 * 1024
)

// SchedulerOptions configures sync behavior.
type SchedulerOptions struct {
	// MaxFileSize skips files larger than this many bytes. 0 disables
	// the limit.
	MaxFileSize int64

	// Extensions is the allow list used by FullScan. Empty matches
	// every file.
	Extensions []string
}

// Scheduler drives inserts and removals into the document store from
// filesystem activity. Operations are idempotent per path: the same
// event applied twice converges to the same store state, which lets
// the watcher and the reconciler overlap safely.
type Scheduler struct {
	store *store.DocumentStore
	state *WatchState
	opts  SchedulerOptions
	log   *slog.Logger

	parseErrors atomic.Int64
	synced      atomic.Int64
	skipped     atomic.Int64
}

// NewScheduler creates a scheduler writing through the given store and
// watch-state sidecar.
func NewScheduler(st *store.DocumentStore, state *WatchState, opts SchedulerOptions) *Scheduler {
	return &Scheduler{
		store: st,
		state: state,
		opts:  opts,
		log:   slog.Default().With(slog.String("component", "syncer")),
	}
}

// Run consumes debounced event batches until the context is cancelled
// or the channel closes. Per-event failures are logged and skipped so
// one bad file never stalls the loop.
func (s *Scheduler) Run(ctx context.Context, batches <-chan []watcher.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			for _, event := range batch {
				if err := s.Handle(ctx, event); err != nil {
					s.log.Error("event handling failed",
						slog.String("path", event.Path),
						slog.String("op", event.Operation.String()),
						slog.String("error", err.Error()))
				}
			}
		}
	}
}

// RunPeriodic re-runs FullScan on a timer until the context is
// cancelled. This is the poll-driven complement to Run: it picks up
// files whose notifications were dropped and removals the watcher
// never saw. SyncFile is idempotent per path, so overlapping with the
// event-driven path is safe.
func (s *Scheduler) RunPeriodic(ctx context.Context, interval time.Duration, roots []string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.FullScan(ctx, roots); err != nil && ctx.Err() == nil {
				s.log.Error("periodic scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Handle applies one normalized watcher event.
func (s *Scheduler) Handle(ctx context.Context, event watcher.FileEvent) error {
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return s.SyncFile(ctx, event.Path)
	case watcher.OpDelete:
		return s.RemoveFile(event.Path)
	default:
		return nil
	}
}

// SyncFile brings the store up to date with one file on disk. A file
// whose hash matches the recorded watch state is a no-op. When the
// resolved id differs from the previously recorded one (content
// change without an embedded UUID), the old document is replaced
// atomically.
func (s *Scheduler) SyncFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Vanished between event and processing; converge on removal
			return s.RemoveFile(path)
		}
		return apperrors.New(apperrors.ErrCodeFileNotFound, "failed to stat file", err).
			WithDetail("path", path)
	}

	if s.opts.MaxFileSize > 0 && info.Size() > s.opts.MaxFileSize {
		s.skipped.Add(1)
		s.log.Warn("skipping oversized file",
			slog.String("path", path),
			slog.Int64("size", info.Size()),
			slog.Int64("limit", s.opts.MaxFileSize))
		return nil
	}

	content, err := s.readContent(ctx, path)
	if err != nil {
		return err
	}
	if content == "" {
		s.skipped.Add(1)
		s.log.Debug("skipping file with no indexable content", slog.String("path", path))
		return nil
	}

	now := time.Now().UTC()
	hash := identity.ContentHash(content)
	if prev, ok := s.state.Get(path); ok && prev.LastHash == hash {
		// The unchanged-hash shortcut only holds while the recorded
		// document is still in the store; it may have been deleted
		// over HTTP or merged away by consolidation.
		if _, err := s.store.Get(prev.DocumentID); err == nil {
			s.state.Touch(path, now)
			return nil
		}
	}

	fileName := filepath.Base(path)
	id := identity.Resolve(identity.Input{
		FileName: fileName,
		Content:  content,
		Source:   path,
	})

	req := store.InsertRequest{
		ID:      id,
		Content: content,
		Source:  path,
		Summary: summarize(content),
		Metadata: map[string]any{
			store.MetaFilePath: path,
			store.MetaFileName: fileName,
		},
	}

	if priorID, ok := s.state.DocumentID(path); ok && priorID != id {
		if _, err := s.store.Replace(priorID, req); err != nil {
			return err
		}
	} else if _, err := s.store.Insert(req); err != nil {
		return err
	}

	if err := s.state.Put(FileState{
		FilePath:     path,
		DocumentID:   id,
		LastHash:     hash,
		LastSize:     info.Size(),
		LastModified: info.ModTime(),
		LastChecked:  now,
	}); err != nil {
		s.log.Warn("failed to persist watch state", slog.String("error", err.Error()))
	}

	s.synced.Add(1)
	s.log.Info("synced file",
		slog.String("path", path),
		slog.String("document_id", id))
	return nil
}

// RemoveFile drops the document and state entry for a deleted file.
// A missing document or state entry means we are already consistent.
func (s *Scheduler) RemoveFile(path string) error {
	id, ok := s.state.DocumentID(path)
	if !ok {
		return s.state.Remove(path)
	}

	if err := s.store.Delete(id); err != nil && !stderrors.Is(err, store.ErrNotFound) {
		return err
	}

	if err := s.state.Remove(path); err != nil {
		return err
	}

	s.log.Info("removed document for deleted file",
		slog.String("path", path),
		slog.String("document_id", id))
	return nil
}

// FullScan walks the given roots and syncs every recognized file, then
// removes documents for tracked files that are gone. Used by the sync
// command and as the poll-driven complement to the event-driven path.
func (s *Scheduler) FullScan(ctx context.Context, roots []string) error {
	seen := make(map[string]struct{})

	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return apperrors.New(apperrors.ErrCodeFileNotFound, "failed to resolve scan root", err).
				WithDetail("root", root)
		}

		walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				s.log.Warn("skipping unreadable entry",
					slog.String("path", path),
					slog.String("error", err.Error()))
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() || !s.matchesExtension(path) {
				return nil
			}
			seen[path] = struct{}{}
			if err := s.SyncFile(ctx, path); err != nil {
				s.log.Error("failed to sync file during scan",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
			return nil
		})
		if walkErr != nil {
			return walkErr
		}
	}

	// Tracked files no longer on disk are removals the watcher missed
	for _, path := range s.state.Paths() {
		if _, exists := seen[path]; exists {
			continue
		}
		if !s.underRoots(path, roots) {
			continue
		}
		if err := s.RemoveFile(path); err != nil {
			s.log.Error("failed to remove stale document",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}

	return nil
}

// ParseErrors returns the count of skipped malformed lines.
func (s *Scheduler) ParseErrors() int64 {
	return s.parseErrors.Load()
}

// SyncedCount returns how many files were synced into the store.
func (s *Scheduler) SyncedCount() int64 {
	return s.synced.Load()
}

// SkippedCount returns how many files were skipped.
func (s *Scheduler) SkippedCount() int64 {
	return s.skipped.Load()
}

// readContent reads a file with retry on transient errors. Structured
// .jsonl files are validated line by line: a malformed line is counted
// and skipped, never aborting the rest of the file.
func (s *Scheduler) readContent(ctx context.Context, path string) (string, error) {
	data, err := apperrors.RetryWithResult(ctx, apperrors.DefaultRetryConfig(), func() ([]byte, error) {
		return os.ReadFile(path)
	})
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", apperrors.New(apperrors.ErrCodeFileBusy, "failed to read file", err).
			WithDetail("path", path)
	}

	if strings.ToLower(filepath.Ext(path)) != ".jsonl" {
		return strings.TrimSpace(string(data)), nil
	}

	var valid []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 64*1024), jsonlScanBufferSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			s.parseErrors.Add(1)
			s.log.Debug("skipping malformed line",
				slog.String("path", path),
				slog.Int("line", lineNo))
			continue
		}
		valid = append(valid, line)
	}
	if err := scanner.Err(); err != nil {
		return "", apperrors.New(apperrors.ErrCodeFileBusy, "failed to scan file", err).
			WithDetail("path", path)
	}

	return strings.Join(valid, "\n"), nil
}

func (s *Scheduler) matchesExtension(path string) bool {
	if len(s.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range s.opts.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// underRoots reports whether path sits inside any of the scan roots.
func (s *Scheduler) underRoots(path string, roots []string) bool {
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			continue
		}
		if rel == "." || !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

// summarize derives a short label from the first meaningful line.
func summarize(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if runes := []rune(line); len(runes) > summaryMaxLen {
			return string(runes[:summaryMaxLen]) + "..."
		}
		return line
	}
	return ""
}

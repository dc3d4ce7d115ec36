package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/convindex/convindex/internal/errors"
	"github.com/convindex/convindex/internal/store"
)

// corruptionRatio triggers the drift warning: a downstream index
// reporting less than half the documents it claims to serve points at
// an inconsistent index, not genuine orphans.
const corruptionRatio = 0.5

// ReconcilerOptions configures the drift-repair loop.
type ReconcilerOptions struct {
	// Interval between reconciliation passes. Default: 60s.
	Interval time.Duration

	// OrphanBatchLimit caps removals per pass so a transiently
	// incomplete filesystem view cannot cascade into mass deletes.
	// Default: 5.
	OrphanBatchLimit int

	// Roots are the watched directories; files under them form the
	// authoritative disk set.
	Roots []string

	// Extensions filters which files count. Empty matches everything.
	Extensions []string

	// ServedIndexURL optionally points at a downstream serving index
	// inventory endpoint. Empty disables the downstream check.
	ServedIndexURL string
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	DiskFiles           int
	TrackedDocuments    int
	OrphansFound        int
	OrphansRemoved      int
	MissingOnDisk       int
	CorruptionSuspected bool
}

// Reconciler periodically repairs drift between the filesystem, the
// local store, and an optional downstream served index. Orphaned
// documents are removed in bounded batches; files missing from the
// store are left for the scheduler to pick up, which prevents the two
// loops from thrashing against each other.
type Reconciler struct {
	store  *store.DocumentStore
	state  *WatchState
	opts   ReconcilerOptions
	log    *slog.Logger
	group  singleflight.Group
	client *http.Client
}

// servedInventory is the downstream index's inventory document.
type servedInventory struct {
	Documents []struct {
		DocumentID string `json:"document_id"`
		FilePath   string `json:"file_path"`
	} `json:"documents"`
	ReportedCount int `json:"reportedCount"`
}

// NewReconciler creates a reconciler over the given store and state.
func NewReconciler(st *store.DocumentStore, state *WatchState, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.OrphanBatchLimit <= 0 {
		opts.OrphanBatchLimit = 5
	}
	return &Reconciler{
		store:  st,
		state:  state,
		opts:   opts,
		log:    slog.Default().With(slog.String("component", "reconciler")),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run executes reconciliation passes on the configured interval until
// the context is cancelled. The timer is cancellable between ticks; a
// tick in progress runs to completion.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.Reconcile(ctx)
			if err != nil {
				r.log.Error("reconciliation pass failed", slog.String("error", err.Error()))
				continue
			}
			r.log.Info("reconciliation pass complete",
				slog.Int("disk_files", report.DiskFiles),
				slog.Int("tracked_documents", report.TrackedDocuments),
				slog.Int("orphans_found", report.OrphansFound),
				slog.Int("orphans_removed", report.OrphansRemoved),
				slog.Int("missing_on_disk", report.MissingOnDisk))
		}
	}
}

// Reconcile runs one pass. Concurrent callers share a single in-flight
// execution instead of queuing behind each other.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	result, err, _ := r.group.Do("reconcile", func() (any, error) {
		return r.reconcileOnce(ctx)
	})
	if err != nil {
		return ReconcileReport{}, err
	}
	return result.(ReconcileReport), nil
}

func (r *Reconciler) reconcileOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	diskSet, baseNames, err := r.enumerateDisk()
	if err != nil {
		return report, apperrors.New(apperrors.ErrCodeReconcileFailed, "failed to enumerate watched files", err)
	}
	report.DiskFiles = len(diskSet)

	docs := r.store.List()
	byPath := make(map[string]string)
	for _, doc := range docs {
		if fp := doc.FilePath(); fp != "" {
			byPath[fp] = doc.ID
		}
	}
	report.TrackedDocuments = len(byPath)

	// Orphans: tracked paths gone from disk, with no surviving file of
	// the same basename (a rename or remount alias is not an orphan).
	// Documents without a file path never came from the filesystem and
	// are never orphaned.
	type orphan struct {
		id   string
		path string
	}
	var orphans []orphan
	for _, doc := range docs {
		fp := doc.FilePath()
		if fp == "" {
			continue
		}
		if _, onDisk := diskSet[fp]; onDisk {
			continue
		}
		if _, aliased := baseNames[filepath.Base(fp)]; aliased {
			continue
		}
		orphans = append(orphans, orphan{id: doc.ID, path: fp})
	}
	report.OrphansFound = len(orphans)

	for _, o := range orphans {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if report.OrphansRemoved >= r.opts.OrphanBatchLimit {
			r.log.Warn("orphan batch limit reached, deferring remainder",
				slog.Int("removed", report.OrphansRemoved),
				slog.Int("remaining", len(orphans)-report.OrphansRemoved))
			break
		}
		if err := r.store.Delete(o.id); err != nil {
			r.log.Error("failed to remove orphan",
				slog.String("document_id", o.id),
				slog.String("error", err.Error()))
			continue
		}
		if err := r.state.Remove(o.path); err != nil {
			r.log.Warn("failed to drop watch state for orphan",
				slog.String("path", o.path),
				slog.String("error", err.Error()))
		}
		report.OrphansRemoved++
		r.log.Info("removed orphaned document",
			slog.String("document_id", o.id),
			slog.String("path", o.path))
	}

	// Missing files stay untouched for the scheduler
	for path := range diskSet {
		if _, tracked := byPath[path]; !tracked {
			report.MissingOnDisk++
		}
	}

	if r.opts.ServedIndexURL != "" {
		report.CorruptionSuspected = r.checkServedIndex(ctx)
	}

	return report, nil
}

// enumerateDisk walks the roots and returns the authoritative set of
// recognized files plus their basenames.
func (r *Reconciler) enumerateDisk() (map[string]struct{}, map[string]struct{}, error) {
	files := make(map[string]struct{})
	baseNames := make(map[string]struct{})

	for _, root := range r.opts.Roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve root %s: %w", root, err)
		}
		err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if d.IsDir() || !r.matchesExtension(path) {
				return nil
			}
			files[path] = struct{}{}
			baseNames[filepath.Base(path)] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return files, baseNames, nil
}

// checkServedIndex fetches the downstream inventory and applies the
// corruption heuristic. The gap is reported, never auto-corrected.
func (r *Reconciler) checkServedIndex(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.opts.ServedIndexURL, nil)
	if err != nil {
		r.log.Warn("invalid served index URL", slog.String("error", err.Error()))
		return false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Warn("served index unreachable, skipping downstream check",
			slog.String("url", r.opts.ServedIndexURL),
			slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.Warn("served index returned unexpected status",
			slog.Int("status", resp.StatusCode))
		return false
	}

	var inventory servedInventory
	if err := json.NewDecoder(resp.Body).Decode(&inventory); err != nil {
		r.log.Warn("failed to decode served index inventory",
			slog.String("error", err.Error()))
		return false
	}

	visible := len(inventory.Documents)
	if inventory.ReportedCount > 0 && float64(visible) < corruptionRatio*float64(inventory.ReportedCount) {
		r.log.Warn("served index looks inconsistent, recommend a full resync",
			slog.Int("visible", visible),
			slog.Int("reported", inventory.ReportedCount))
		return true
	}
	return false
}

func (r *Reconciler) matchesExtension(path string) bool {
	if len(r.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range r.opts.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

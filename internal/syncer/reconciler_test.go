package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convindex/convindex/internal/store"
)

func newTestReconciler(t *testing.T, opts ReconcilerOptions) (*Reconciler, *store.DocumentStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	st, err := store.Open(filepath.Join(dataDir, "documents.json"), 3)
	require.NoError(t, err)
	state := LoadWatchState(filepath.Join(dataDir, "watch_state.json"))
	watched := t.TempDir()
	if len(opts.Roots) == 0 {
		opts.Roots = []string{watched}
	}
	if opts.Extensions == nil {
		opts.Extensions = []string{".jsonl"}
	}
	return NewReconciler(st, state, opts), st, watched
}

func insertFileDoc(t *testing.T, st *store.DocumentStore, path, content string) string {
	t.Helper()
	id, err := st.Insert(store.InsertRequest{
		Content: content,
		Source:  path,
		Metadata: map[string]any{
			store.MetaFilePath: path,
			store.MetaFileName: filepath.Base(path),
		},
	})
	require.NoError(t, err)
	return id
}

func TestReconcile_OrphanRemoval_CappedPerPass(t *testing.T) {
	// Given: 8 orphaned documents and a batch limit of 5
	r, st, watched := newTestReconciler(t, ReconcilerOptions{OrphanBatchLimit: 5})
	for i := 0; i < 8; i++ {
		path := filepath.Join(watched, fmt.Sprintf("gone%d.jsonl", i))
		insertFileDoc(t, st, path, fmt.Sprintf("orphan body %d", i))
	}

	// When: one pass runs
	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	// Then: exactly 5 are removed, the remaining 3 on the next pass
	assert.Equal(t, 8, report.OrphansFound)
	assert.Equal(t, 5, report.OrphansRemoved)
	assert.Equal(t, 3, st.Count())

	report, err = r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.OrphansRemoved)
	assert.Equal(t, 0, st.Count())
}

func TestReconcile_FileOnDisk_NotOrphaned(t *testing.T) {
	r, st, watched := newTestReconciler(t, ReconcilerOptions{})
	path := writeFile(t, watched, "alive.jsonl", `{"x":1}`)
	insertFileDoc(t, st, path, "still here")

	report, err := r.Reconcile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.OrphansFound)
	assert.Equal(t, 1, st.Count())
}

func TestReconcile_BasenameAlias_NotOrphaned(t *testing.T) {
	// Given: a document recorded under an old mount prefix whose
	// basename still exists under the watched root
	r, st, watched := newTestReconciler(t, ReconcilerOptions{})
	writeFile(t, watched, "session.jsonl", `{"x":1}`)
	insertFileDoc(t, st, "/old/mount/session.jsonl", "same file, moved mount")

	report, err := r.Reconcile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.OrphansFound)
	assert.Equal(t, 1, st.Count())
}

func TestReconcile_ManualDocuments_NeverOrphaned(t *testing.T) {
	// Documents without a file path never came from the filesystem
	r, st, _ := newTestReconciler(t, ReconcilerOptions{})
	_, err := st.Insert(store.InsertRequest{Content: "manual note", Source: "manual"})
	require.NoError(t, err)

	report, err := r.Reconcile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0, report.OrphansFound)
	assert.Equal(t, 1, st.Count())
}

func TestReconcile_MissingFiles_CountedNotDeleted(t *testing.T) {
	// Files with no document are the scheduler's job, not ours
	r, st, watched := newTestReconciler(t, ReconcilerOptions{})
	writeFile(t, watched, "unindexed.jsonl", `{"x":1}`)

	report, err := r.Reconcile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.MissingOnDisk)
	assert.Equal(t, 0, st.Count())
}

func TestReconcile_ServedIndexGap_FlagsCorruption(t *testing.T) {
	// Given: a downstream index reporting far more than it serves
	served := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"documents":[{"document_id":"d1","file_path":"/w/a.jsonl"}],"reportedCount":10}`)
	}))
	defer served.Close()
	r, _, _ := newTestReconciler(t, ReconcilerOptions{ServedIndexURL: served.URL})

	report, err := r.Reconcile(context.Background())

	require.NoError(t, err)
	assert.True(t, report.CorruptionSuspected)
}

func TestReconcile_ServedIndexHealthy_NoFlag(t *testing.T) {
	served := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"documents":[{"document_id":"d1"},{"document_id":"d2"}],"reportedCount":2}`)
	}))
	defer served.Close()
	r, _, _ := newTestReconciler(t, ReconcilerOptions{ServedIndexURL: served.URL})

	report, err := r.Reconcile(context.Background())

	require.NoError(t, err)
	assert.False(t, report.CorruptionSuspected)
}

func TestReconcile_ServedIndexDown_Skipped(t *testing.T) {
	r, _, _ := newTestReconciler(t, ReconcilerOptions{ServedIndexURL: "http://127.0.0.1:1/nope"})

	report, err := r.Reconcile(context.Background())

	require.NoError(t, err)
	assert.False(t, report.CorruptionSuspected)
}

func TestReconcile_ConcurrentCalls_ShareOnePass(t *testing.T) {
	// Given: plenty of orphans and a generous batch limit
	r, st, watched := newTestReconciler(t, ReconcilerOptions{OrphanBatchLimit: 100})
	for i := 0; i < 6; i++ {
		insertFileDoc(t, st, filepath.Join(watched, fmt.Sprintf("o%d.jsonl", i)),
			fmt.Sprintf("body %d", i))
	}

	// When: several callers reconcile at once
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Reconcile(context.Background())
		}()
	}
	wg.Wait()

	// Then: the store converges with no double-removal errors
	assert.Equal(t, 0, st.Count())
}

func TestReconciler_Run_StopsOnCancel(t *testing.T) {
	r, _, _ := newTestReconciler(t, ReconcilerOptions{Interval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop on context cancel")
	}
}

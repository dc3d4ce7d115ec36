package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/convindex/convindex/internal/output"
	"github.com/convindex/convindex/internal/store"
	"github.com/convindex/convindex/internal/syncer"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [roots...]",
		Short: "Run a one-shot scan of the watch roots",
		Long: `Walk the watch roots once, bringing the document store in line with
the files on disk: new files are indexed, changed files re-indexed,
and tracked files that no longer exist are removed.

Roots given as arguments override the configured watch roots.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, args)
		},
	}

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	roots := cfg.Watch.Roots
	if len(args) > 0 {
		roots = args
	}

	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.Store.DataDir, err)
	}

	lock := store.NewDataLock(cfg.LockPath())
	acquired, err := lock.TryAcquire()
	if err != nil {
		return fmt.Errorf("failed to acquire data lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("another convindex process holds %s", lock.Path())
	}
	defer func() { _ = lock.Release() }()

	st, err := store.Open(cfg.StorePath(), cfg.Store.BackupRetain)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}

	state := syncer.LoadWatchState(cfg.WatchStatePath())
	sched := syncer.NewScheduler(st, state, syncer.SchedulerOptions{
		MaxFileSize: cfg.Watch.MaxFileSize,
		Extensions:  cfg.Watch.Extensions,
	})

	out.Info("Scanning %d root(s)...", len(roots))
	if err := sched.FullScan(cmd.Context(), roots); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	out.Success("Sync complete")
	out.Table([][2]string{
		{"Synced", strconv.FormatInt(sched.SyncedCount(), 10)},
		{"Skipped", strconv.FormatInt(sched.SkippedCount(), 10)},
		{"Parse errors", strconv.FormatInt(sched.ParseErrors(), 10)},
		{"Documents", strconv.Itoa(st.Count())},
	})

	if sched.ParseErrors() > 0 {
		out.Warning("%d malformed line(s) were skipped during sync", sched.ParseErrors())
	}

	return nil
}

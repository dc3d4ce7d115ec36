package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/convindex/convindex/internal/output"
	"github.com/convindex/convindex/internal/server"
	"github.com/convindex/convindex/internal/store"
	"github.com/convindex/convindex/internal/syncer"
	"github.com/convindex/convindex/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var skipScan bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher, reconciler, and HTTP server",
		Long: `Start the full engine: an initial scan of the watch roots, the
filesystem watcher feeding the sync scheduler, the periodic
reconciliation loop, and the HTTP query server.

The data directory is locked for the lifetime of the process, so a
second 'serve' against the same directory refuses to start.

Examples:
  convindex serve                 # serve with the default config
  convindex serve --skip-scan     # skip the startup full scan
  convindex serve --config ci.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, skipScan)
		},
	}

	cmd.Flags().BoolVar(&skipScan, "skip-scan", false, "Skip the initial full scan of the watch roots")

	return cmd
}

func runServe(cmd *cobra.Command, skipScan bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
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

	rec := syncer.NewReconciler(st, state, syncer.ReconcilerOptions{
		Interval:         cfg.Reconcile.Interval.D(),
		OrphanBatchLimit: cfg.Reconcile.OrphanBatchLimit,
		Roots:            cfg.Watch.Roots,
		Extensions:       cfg.Watch.Extensions,
		ServedIndexURL:   cfg.Reconcile.ServedIndexURL,
	})

	fw, err := watcher.NewHybridWatcher(watcher.Options{
		Extensions:      cfg.Watch.Extensions,
		DebounceWindow:  cfg.Watch.DebounceWindow.D(),
		DuplicateWindow: cfg.Watch.DuplicateWindow.D(),
		PollInterval:    cfg.Watch.PollInterval.D(),
	})
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	srv := server.New(st, server.Options{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		DefaultMaxResults: cfg.Query.MaxResults,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !skipScan {
		out.Info("Scanning %d root(s)...", len(cfg.Watch.Roots))
		if err := sched.FullScan(ctx, cfg.Watch.Roots); err != nil {
			return fmt.Errorf("initial scan failed: %w", err)
		}
		out.Success("Initial scan complete: %d synced, %d skipped", sched.SyncedCount(), sched.SkippedCount())
	}

	if err := fw.Start(ctx, cfg.Watch.Roots); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer func() { _ = fw.Stop() }()

	out.Info("Watching %d root(s) via %s watcher", len(cfg.Watch.Roots), fw.WatcherType())
	out.Info("Listening on http://%s", srv.Addr())
	out.Detail("Store: %s (%d documents)", cfg.StorePath(), st.Count())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(ctx, fw.Events())
		return nil
	})

	g.Go(func() error {
		sched.RunPeriodic(ctx, cfg.Watch.ScanInterval.D(), cfg.Watch.Roots)
		return nil
	})

	g.Go(func() error {
		rec.Run(ctx)
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err, ok := <-fw.Errors():
				if !ok {
					return nil
				}
				slog.Warn("watcher error", slog.String("error", err.Error()))
			}
		}
	})

	g.Go(func() error {
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	out.Success("Shutdown complete")
	return nil
}

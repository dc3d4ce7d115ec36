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

func newConsolidateCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge duplicate documents in the store",
		Long: `Group documents that describe the same conversation (shared
embedded UUID, or byte-identical content) and merge each group into
its newest member. A timestamped backup of the store is written
before anything is removed.

Use --dry-run to see the merge plan without changing the store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsolidate(cmd, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report planned merges without mutating the store")

	return cmd
}

func runConsolidate(cmd *cobra.Command, dryRun bool) error {
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

	report, err := syncer.NewConsolidator(st).Run(syncer.ConsolidateOptions{DryRun: dryRun})
	if err != nil {
		return fmt.Errorf("consolidation failed: %w", err)
	}

	if report.GroupsFound == 0 {
		out.Success("No duplicate documents found")
		return nil
	}

	for _, line := range report.Plan {
		out.Detail("%s", line)
	}

	if report.DryRun {
		out.Warning("Dry run: %d duplicate group(s) would be merged", report.GroupsFound)
		return nil
	}

	out.Success("Consolidation complete")
	rows := [][2]string{
		{"Groups merged", strconv.Itoa(report.Merged)},
		{"Documents removed", strconv.Itoa(report.Removed)},
		{"Documents remaining", strconv.Itoa(st.Count())},
	}
	if report.BackupPath != "" {
		rows = append(rows, [2]string{"Backup", report.BackupPath})
	}
	out.Table(rows)

	return nil
}

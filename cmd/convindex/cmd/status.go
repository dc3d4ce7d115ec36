package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/convindex/convindex/internal/output"
	"github.com/convindex/convindex/internal/store"
	"github.com/convindex/convindex/internal/syncer"
)

type statusInfo struct {
	StorePath    string `json:"store_path"`
	Documents    int    `json:"documents"`
	TrackedFiles int    `json:"tracked_files"`
	LastUpdated  string `json:"last_updated,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		jsonOutput bool
		serverURL  string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show document store status",
		Long: `Show the state of the document store: how many documents are
indexed, how many files the watcher tracks, and when the store
last changed.

With --server, query a running serve process over HTTP instead of
reading the store file directly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if serverURL != "" {
				return runStatusRemote(cmd, serverURL, jsonOutput)
			}
			return runStatusLocal(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of a running serve process (e.g. http://127.0.0.1:8642)")

	return cmd
}

func runStatusLocal(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StorePath(), cfg.Store.BackupRetain)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}

	state := syncer.LoadWatchState(cfg.WatchStatePath())

	info := statusInfo{
		StorePath:    cfg.StorePath(),
		Documents:    st.Count(),
		TrackedFiles: state.Len(),
	}
	if !st.LastUpdated().IsZero() {
		info.LastUpdated = st.LastUpdated().Format(time.RFC3339)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	out.Success("Store healthy")
	rows := [][2]string{
		{"Store", info.StorePath},
		{"Documents", strconv.Itoa(info.Documents)},
		{"Tracked files", strconv.Itoa(info.TrackedFiles)},
	}
	if info.LastUpdated != "" {
		rows = append(rows, [2]string{"Last updated", info.LastUpdated})
	}
	out.Table(rows)

	return nil
}

func runStatusRemote(cmd *cobra.Command, baseURL string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read status response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if jsonOutput {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return err
	}

	var parsed struct {
		Status      string `json:"status"`
		Documents   int    `json:"documents"`
		LastUpdated string `json:"lastUpdated"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("unexpected status response: %w", err)
	}

	out.Success("Server %s", parsed.Status)
	out.Table([][2]string{
		{"Documents", strconv.Itoa(parsed.Documents)},
		{"Last updated", parsed.LastUpdated},
	})

	return nil
}

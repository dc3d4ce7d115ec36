package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/convindex/convindex/internal/output"
	"github.com/convindex/convindex/internal/rank"
	"github.com/convindex/convindex/internal/store"
)

type queryResult struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Relevance  float64 `json:"relevance"`
	Content    string  `json:"content"`
}

func newQueryCmd() *cobra.Command {
	var (
		limit      int
		mode       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Rank indexed documents against a query",
		Long: `Score every indexed document against the query text and print the
top matches. Multiple arguments are joined into a single query.

Modes:
  hybrid    exact-phrase match with token-overlap fallback (default)
  semantic  same scoring as hybrid
  keyword   token overlap only

Examples:
  convindex query "debounce window"
  convindex query --limit 10 --mode keyword sync scheduler`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, strings.Join(args, " "), limit, mode, jsonOutput)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results to return (default: from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "Ranking mode: hybrid, semantic, or keyword (default: from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func runQuery(cmd *cobra.Command, query string, limit int, mode string, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if limit <= 0 {
		limit = cfg.Query.MaxResults
	}
	if mode == "" {
		mode = cfg.Query.Mode
	}

	m, err := rank.ParseMode(mode)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StorePath(), cfg.Store.BackupRetain)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}

	results := rank.Rank(query, st.List(), limit, m)

	if jsonOutput {
		payload := make([]queryResult, 0, len(results))
		for _, r := range results {
			payload = append(payload, queryResult{
				DocumentID: r.Document.ID,
				Source:     r.Document.Source,
				Relevance:  r.Score,
				Content:    r.Document.Content,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	if len(results) == 0 {
		out.Info("No relevant documents found.")
		return nil
	}

	out.Success("Found %d relevant document(s)", len(results))
	for i, r := range results {
		out.Info("%d. %s (%.2f)", i+1, r.Document.ID, r.Score)
		out.Detail("   source: %s", r.Document.Source)
		out.Detail("   %s", snippet(r.Document.Content, 120))
	}

	return nil
}

// snippet returns the first line of content, truncated to max runes.
func snippet(content string, max int) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	runes := []rune(strings.TrimSpace(line))
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return string(runes)
}

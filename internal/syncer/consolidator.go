package syncer

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/convindex/convindex/internal/identity"
	"github.com/convindex/convindex/internal/store"
)

// ConsolidateOptions configures a consolidation pass.
type ConsolidateOptions struct {
	// DryRun reports planned merges without mutating anything.
	DryRun bool
}

// ConsolidateReport summarizes a consolidation pass.
type ConsolidateReport struct {
	GroupsFound int
	Merged      int
	Removed     int
	BackupPath  string
	DryRun      bool

	// Plan lists each group as "kept <- removed..." for reporting.
	Plan []string
}

// Consolidator merges duplicate documents: first records sharing an
// embedded conversation UUID, then records with byte-identical
// content. Within a group the newest created timestamp wins and the
// superseded ids are recorded on the survivor.
type Consolidator struct {
	store *store.DocumentStore
	log   *slog.Logger
}

// NewConsolidator creates a consolidator over the given store.
func NewConsolidator(st *store.DocumentStore) *Consolidator {
	return &Consolidator{
		store: st,
		log:   slog.Default().With(slog.String("component", "consolidator")),
	}
}

// Run executes one consolidation pass. Unless DryRun is set, a
// timestamped backup of the full store is written before any deletion.
func (c *Consolidator) Run(opts ConsolidateOptions) (*ConsolidateReport, error) {
	report := &ConsolidateReport{DryRun: opts.DryRun}

	groups := c.collectGroups()
	report.GroupsFound = len(groups)
	if len(groups) == 0 {
		return report, nil
	}

	if !opts.DryRun {
		backupPath, err := c.store.Backup()
		if err != nil {
			return nil, err
		}
		report.BackupPath = backupPath
	}

	for _, group := range groups {
		keeper, superseded := pickCanonical(group)
		report.Plan = append(report.Plan,
			keeper.ID+" <- "+strings.Join(ids(superseded), ", "))

		if opts.DryRun {
			continue
		}
		if err := c.merge(keeper, superseded); err != nil {
			return report, err
		}
		report.Merged++
		report.Removed += len(superseded)
	}

	return report, nil
}

// collectGroups builds duplicate groups, UUID-keyed first, then
// content-hash-keyed over whatever the UUID pass left distinct.
func (c *Consolidator) collectGroups() [][]*store.Document {
	docs := c.store.List()

	var groups [][]*store.Document
	grouped := make(map[string]bool)

	byUUID := make(map[string][]*store.Document)
	for _, doc := range docs {
		u := documentUUID(doc)
		if u == "" {
			continue
		}
		byUUID[u] = append(byUUID[u], doc)
	}
	for _, group := range sortedGroups(byUUID) {
		if len(group) < 2 {
			continue
		}
		groups = append(groups, group)
		for _, doc := range group {
			grouped[doc.ID] = true
		}
	}

	byHash := make(map[string][]*store.Document)
	for _, doc := range docs {
		if grouped[doc.ID] {
			continue
		}
		hash := doc.ContentHash()
		if hash == "" {
			hash = identity.ContentHash(doc.Content)
		}
		byHash[hash] = append(byHash[hash], doc)
	}
	for _, group := range sortedGroups(byHash) {
		if len(group) < 2 {
			continue
		}
		groups = append(groups, group)
	}

	return groups
}

// merge keeps the canonical document and deletes the rest, recording
// the superseded ids on the survivor.
func (c *Consolidator) merge(keeper *store.Document, superseded []*store.Document) error {
	meta := make(map[string]any, len(keeper.Metadata)+1)
	for k, v := range keeper.Metadata {
		meta[k] = v
	}
	meta[store.MetaOriginalIDs] = append(originalIDs(keeper.Metadata), ids(superseded)...)

	for _, doc := range superseded {
		if err := c.store.Delete(doc.ID); err != nil {
			return err
		}
	}

	// Re-insert under the same id to attach the updated metadata
	if _, err := c.store.Insert(store.InsertRequest{
		ID:       keeper.ID,
		Content:  keeper.Content,
		Source:   keeper.Source,
		Summary:  keeper.Summary,
		Metadata: meta,
	}); err != nil {
		return err
	}

	c.log.Info("merged duplicate group",
		slog.String("canonical", keeper.ID),
		slog.Int("superseded", len(superseded)))
	return nil
}

// pickCanonical splits a group into the newest document and the rest.
func pickCanonical(group []*store.Document) (*store.Document, []*store.Document) {
	keeper := group[0]
	for _, doc := range group[1:] {
		if doc.Created.After(keeper.Created) {
			keeper = doc
		}
	}
	var superseded []*store.Document
	for _, doc := range group {
		if doc.ID != keeper.ID {
			superseded = append(superseded, doc)
		}
	}
	return keeper, superseded
}

// documentUUID extracts the conversation UUID from a document's id,
// source, or content, in that order.
func documentUUID(doc *store.Document) string {
	if u := identity.ExtractUUID(doc.ID); u != "" {
		return u
	}
	if u := identity.ExtractUUID(doc.Source); u != "" {
		return u
	}
	return identity.ExtractUUID(doc.Content)
}

// sortedGroups returns map values in deterministic key order so
// repeated dry runs print identical plans.
func sortedGroups(m map[string][]*store.Document) [][]*store.Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][]*store.Document, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// originalIDs reads the superseded-id list off a document's metadata.
// The value is []string in memory but decodes from disk as []any.
func originalIDs(meta map[string]any) []string {
	switch v := meta[store.MetaOriginalIDs].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func ids(docs []*store.Document) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i] = doc.ID
	}
	return out
}

package rank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convindex/convindex/internal/store"
)

func doc(id, content string) *store.Document {
	return &store.Document{ID: id, Content: content}
}

func TestRank_KeywordMode_FullOverlap(t *testing.T) {
	// Given: a document matching both query words
	docs := []*store.Document{doc("d1", "LightRAG is a retrieval system")}

	// When: ranked in keyword mode
	results := Rank("retrieval system", docs, 5, ModeKeyword)

	// Then: 2/2 query words matched scores 0.8
	require.Len(t, results, 1)
	assert.InDelta(t, 0.8, results[0].Score, 0.001)
}

func TestRank_KeywordMode_PartialOverlap(t *testing.T) {
	docs := []*store.Document{doc("d1", "a retrieval pipeline")}

	results := Rank("retrieval system", docs, 5, ModeKeyword)

	require.Len(t, results, 1)
	assert.InDelta(t, 0.4, results[0].Score, 0.001) // 1/2 * 0.8
}

func TestRank_ExactPhrase_OutranksPartialOverlap(t *testing.T) {
	// Given: one document with the literal query, one with partial overlap
	docs := []*store.Document{
		doc("partial", "indexing is one part of any system"),
		doc("exact", "a local retrieval system for notes"),
	}

	// When: ranked in hybrid mode
	results := Rank("retrieval system", docs, 5, ModeHybrid)

	// Then: the exact-phrase document wins
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].Document.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.GreaterOrEqual(t, results[0].Score, 0.9)
}

func TestRank_ExactPhrase_ShortDocumentScoresHigher(t *testing.T) {
	long := "retrieval system "
	for i := 0; i < 200; i++ {
		long += "padding words to stretch the document body well past the bonus window "
	}
	docs := []*store.Document{
		doc("long", long),
		doc("short", "retrieval system"),
	}

	results := Rank("retrieval system", docs, 5, ModeHybrid)

	require.Len(t, results, 2)
	assert.Equal(t, "short", results[0].Document.ID)
	assert.InDelta(t, 1.0, results[0].Score, 0.001)
}

func TestRank_NoOverlap_Excluded(t *testing.T) {
	docs := []*store.Document{doc("d1", "completely unrelated text")}

	assert.Empty(t, Rank("retrieval system", docs, 5, ModeHybrid))
	assert.Empty(t, Rank("retrieval system", docs, 5, ModeKeyword))
}

func TestRank_SupersetQuery_NeverScoresLower(t *testing.T) {
	// Given: a document containing all tokens of both queries
	d := doc("d1", "event log change detection with normalized output paths")

	// When: a query grows by another matching token
	narrow := Rank("change event", []*store.Document{d}, 1, ModeHybrid)
	wide := Rank("normalized change event", []*store.Document{d}, 1, ModeHybrid)

	// Then: more matched overlap never lowers the score
	require.Len(t, narrow, 1)
	require.Len(t, wide, 1)
	assert.GreaterOrEqual(t, wide[0].Score, narrow[0].Score)
}

func TestRank_BigramAdjacency_BreaksTies(t *testing.T) {
	// Both documents match all three words; only one keeps a query
	// bigram adjacent, and neither contains the full phrase
	docs := []*store.Document{
		doc("scattered", "eviction applies to the window list after each debounce pass"),
		doc("adjacent", "the debounce window always closes before any eviction runs"),
	}

	results := Rank("debounce window eviction", docs, 5, ModeHybrid)

	require.Len(t, results, 2)
	assert.Equal(t, "adjacent", results[0].Document.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestRank_TiesKeepInsertionOrder(t *testing.T) {
	docs := []*store.Document{
		doc("first", "retrieval notes"),
		doc("second", "retrieval notes"),
	}

	results := Rank("retrieval", docs, 5, ModeHybrid)

	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Document.ID)
	assert.Equal(t, "second", results[1].Document.ID)
}

func TestRank_LimitTruncates(t *testing.T) {
	docs := []*store.Document{
		doc("d1", "retrieval alpha"),
		doc("d2", "retrieval beta"),
		doc("d3", "retrieval gamma"),
	}

	results := Rank("retrieval", docs, 2, ModeHybrid)

	assert.Len(t, results, 2)
}

func TestRank_EmptyQuery_ReturnsNothing(t *testing.T) {
	docs := []*store.Document{doc("d1", "anything")}

	assert.Empty(t, Rank("   ", docs, 5, ModeHybrid))
}

func TestRank_ScoresBounded(t *testing.T) {
	content := ""
	for i := 0; i < 50; i++ {
		content += "retrieval system retrieval system "
	}
	docs := []*store.Document{doc("d1", content)}

	results := Rank("retrieval system", docs, 5, ModeHybrid)

	require.Len(t, results, 1)
	assert.LessOrEqual(t, results[0].Score, 1.0)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeHybrid, false},
		{"hybrid", ModeHybrid, false},
		{"semantic", ModeSemantic, false},
		{"keyword", ModeKeyword, false},
		{"vector", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

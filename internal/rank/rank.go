// Package rank scores queries against document content.
//
// Ranking is lexical: exact-phrase containment, word overlap, term
// frequency, and bigram adjacency. It is a pure function over
// (query, corpus) with no retained state.
package rank

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/convindex/convindex/internal/store"
)

// Mode selects the scoring variant.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
)

// ParseMode validates a mode string, defaulting empty to hybrid.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeHybrid, nil
	case ModeHybrid, ModeSemantic, ModeKeyword:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown query mode %q (want hybrid, semantic, or keyword)", s)
	}
}

// Result pairs a document with its relevance score in [0, 1].
type Result struct {
	Document *store.Document
	Score    float64
}

const (
	exactMatchBase  = 0.9
	overlapWeight   = 0.7
	keywordWeight   = 0.8
	freqBonusCap    = 0.15
	bigramBonusCap  = 0.15
	bigramBonusStep = 0.05
	perTermFreqCap  = 0.1
)

// Rank scores every document against the query and returns the top
// results in descending score order. Zero-score documents are dropped;
// ties keep the documents' original order (stable sort). limit <= 0
// means no truncation.
func Rank(query string, docs []*store.Document, limit int, mode Mode) []Result {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return nil
	}
	queryWords := tokenize(queryLower)

	var results []Result
	for _, doc := range docs {
		var score float64
		if mode == ModeKeyword {
			score = scoreKeyword(queryLower, queryWords, doc.Content)
		} else {
			score = scoreImproved(queryLower, queryWords, doc.Content)
		}
		if score > 0 {
			results = append(results, Result{Document: doc, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// scoreImproved implements the hybrid/semantic variant: exact phrase
// containment wins outright, otherwise word overlap plus frequency and
// bigram bonuses.
func scoreImproved(queryLower string, queryWords []string, content string) float64 {
	contentLower := strings.ToLower(content)

	if strings.Contains(contentLower, queryLower) {
		// Short documents containing the full query rank highest
		return exactMatchBase + 0.1*math.Min(1, 1000/float64(len(contentLower)))
	}

	uniqueQuery := uniqueWords(queryWords)
	if len(uniqueQuery) == 0 {
		return 0
	}

	contentWords := tokenize(contentLower)
	if len(contentWords) == 0 {
		return 0
	}
	counts := make(map[string]int, len(contentWords))
	for _, w := range contentWords {
		counts[w]++
	}

	var shared []string
	for _, w := range uniqueQuery {
		if counts[w] > 0 {
			shared = append(shared, w)
		}
	}
	if len(shared) == 0 {
		return 0
	}

	base := float64(len(shared)) / float64(len(uniqueQuery)) * overlapWeight

	var freqSum float64
	for _, w := range shared {
		tf := float64(counts[w]) / float64(len(contentWords))
		freqSum += math.Min(tf, perTermFreqCap)
	}
	freqBonus := math.Min(freqSum/float64(len(shared)), freqBonusCap)

	var bigramBonus float64
	for i := 0; i+1 < len(queryWords); i++ {
		if strings.Contains(contentLower, queryWords[i]+" "+queryWords[i+1]) {
			bigramBonus += bigramBonusStep
		}
	}
	bigramBonus = math.Min(bigramBonus, bigramBonusCap)

	return math.Min(1.0, base+freqBonus+bigramBonus)
}

// scoreKeyword is the simpler overlap-only variant. Phrase containment
// is consulted only when tokenization produces no common words, so a
// query like "retrieval system" against content holding both words
// scores by overlap (2/2 words -> 0.8), not by the phrase shortcut.
func scoreKeyword(queryLower string, queryWords []string, content string) float64 {
	contentLower := strings.ToLower(content)

	uniqueQuery := uniqueWords(queryWords)
	if len(uniqueQuery) > 0 {
		contentSet := make(map[string]struct{})
		for _, w := range tokenize(contentLower) {
			contentSet[w] = struct{}{}
		}
		matched := 0
		for _, w := range uniqueQuery {
			if _, ok := contentSet[w]; ok {
				matched++
			}
		}
		if matched > 0 {
			return float64(matched) / float64(len(uniqueQuery)) * keywordWeight
		}
	}

	if strings.Contains(contentLower, queryLower) {
		return exactMatchBase
	}
	return 0
}

// tokenize lowercases and splits on any non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isAlphanumeric(r)
	})
}

func isAlphanumeric(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z'
}

func uniqueWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

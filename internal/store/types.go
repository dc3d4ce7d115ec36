// Package store provides the canonical document collection and its JSON
// persistence. All mutations are serialized behind a single mutex because
// the persistence strategy rewrites the whole file on every change.
package store

import (
	"errors"
	"time"
)

// Metadata keys with defined meaning across components.
const (
	// MetaContentHash is the hex SHA-256 digest of the document content.
	MetaContentHash = "content_hash"
	// MetaFilePath is the absolute path of the originating file, when any.
	MetaFilePath = "file_path"
	// MetaFileName is the basename of the originating file.
	MetaFileName = "file_name"
	// MetaOriginalIDs holds the list of ids superseded by consolidation.
	MetaOriginalIDs = "original_ids"
)

// Sentinel errors for the store contract.
var (
	// ErrEmptyContent is returned when inserting a document with no content.
	ErrEmptyContent = errors.New("document content is empty")
	// ErrNotFound is returned when the requested document id is absent.
	ErrNotFound = errors.New("document not found")
	// ErrConfirmationRequired is returned by Clear when confirm is false.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrCorruptStore is returned when the persisted file cannot be decoded.
	// The store fails closed rather than starting empty.
	ErrCorruptStore = errors.New("persisted store is corrupt")
)

// Document is the unit of storage and retrieval. Metadata is an open
// map: clients may attach values of any JSON type alongside the keys
// the engine itself maintains.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Summary  string         `json:"summary,omitempty"`
	Created  time.Time      `json:"created"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ContentHash returns the recorded content hash, empty if not set.
func (d *Document) ContentHash() string {
	return metaString(d.Metadata, MetaContentHash)
}

// FilePath returns the recorded source file path, empty if not set.
func (d *Document) FilePath() string {
	return metaString(d.Metadata, MetaFilePath)
}

// Clone returns a copy so callers can hold documents outside the
// store lock. Metadata is copied one level deep; values are treated
// as immutable once stored.
func (d *Document) Clone() *Document {
	out := *d
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// metaString reads a metadata value that is expected to be a string,
// returning "" for absent or differently-typed values.
func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// collection is the persisted file layout.
type collection struct {
	Documents   []*Document `json:"documents"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// ClearResult reports the outcome of a Clear call.
type ClearResult struct {
	RemovedCount int
	BackupPath   string
}

package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/convindex/convindex/internal/identity"
)

// DocumentStore owns the canonical document collection.
//
// Writes are serialized behind a single mutex and every mutation rewrites
// the persisted JSON file (write-through, no buffering). Reads return
// deep copies so callers never observe a partially-written collection.
type DocumentStore struct {
	path         string
	backupRetain int

	mu          sync.RWMutex
	docs        []*Document
	byID        map[string]int
	lastUpdated time.Time
}

// InsertRequest carries the fields for a document insertion.
// ID is optional; when empty the identity resolver derives it from the
// content and source so re-inserting the same material is idempotent.
type InsertRequest struct {
	ID       string
	Content  string
	Source   string
	Summary  string
	Metadata map[string]any
}

// Open loads the store from path, creating an empty collection if the
// file does not exist. A file that exists but cannot be decoded fails
// closed with ErrCorruptStore so an operator can intervene.
func Open(path string, backupRetain int) (*DocumentStore, error) {
	s := &DocumentStore{
		path:         path,
		backupRetain: backupRetain,
		byID:         make(map[string]int),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var col collection
	if err := json.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, path, err)
	}

	for _, doc := range col.Documents {
		if _, dup := s.byID[doc.ID]; dup {
			slog.Warn("duplicate document id in persisted store, keeping newest",
				slog.String("id", doc.ID))
			s.docs[s.byID[doc.ID]] = doc
			continue
		}
		s.byID[doc.ID] = len(s.docs)
		s.docs = append(s.docs, doc)
	}
	s.lastUpdated = col.LastUpdated

	return s, nil
}

// Path returns the persistence file path.
func (s *DocumentStore) Path() string {
	return s.path
}

// Insert adds a document, deriving its id when not pre-assigned.
// Inserting under an existing id replaces that document's content while
// preserving its original created timestamp. Returns the document id.
func (s *DocumentStore) Insert(req InsertRequest) (string, error) {
	if req.Content == "" {
		return "", ErrEmptyContent
	}

	id := req.ID
	if id == "" {
		id = identity.Resolve(identity.Input{
			FileName: metaString(req.Metadata, MetaFileName),
			Content:  req.Content,
			Source:   req.Source,
			Summary:  req.Summary,
		})
	}

	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta[MetaContentHash] = identity.ContentHash(req.Content)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &Document{
		ID:       id,
		Content:  req.Content,
		Source:   req.Source,
		Summary:  req.Summary,
		Created:  time.Now().UTC(),
		Metadata: meta,
	}

	newDocs := make([]*Document, len(s.docs))
	copy(newDocs, s.docs)

	if idx, ok := s.byID[id]; ok {
		doc.Created = s.docs[idx].Created
		newDocs[idx] = doc
	} else {
		newDocs = append(newDocs, doc)
	}

	if err := s.persist(newDocs); err != nil {
		return "", err
	}
	s.commit(newDocs)

	return id, nil
}

// Delete removes the document with the given id.
func (s *DocumentStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

// deleteLocked removes a document while holding the write lock.
func (s *DocumentStore) deleteLocked(id string) error {
	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	newDocs := make([]*Document, 0, len(s.docs)-1)
	newDocs = append(newDocs, s.docs[:idx]...)
	newDocs = append(newDocs, s.docs[idx+1:]...)

	if err := s.persist(newDocs); err != nil {
		return err
	}
	s.commit(newDocs)
	return nil
}

// Replace atomically deletes oldID (when present) and inserts req,
// holding the lock across both halves so a concurrent reader never
// observes the document absent mid-update. Returns the new id.
func (s *DocumentStore) Replace(oldID string, req InsertRequest) (string, error) {
	if req.Content == "" {
		return "", ErrEmptyContent
	}

	id := req.ID
	if id == "" {
		id = identity.Resolve(identity.Input{
			FileName: metaString(req.Metadata, MetaFileName),
			Content:  req.Content,
			Source:   req.Source,
			Summary:  req.Summary,
		})
	}

	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta[MetaContentHash] = identity.ContentHash(req.Content)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := &Document{
		ID:       id,
		Content:  req.Content,
		Source:   req.Source,
		Summary:  req.Summary,
		Created:  time.Now().UTC(),
		Metadata: meta,
	}

	existingIdx, exists := s.byID[id]
	newDocs := make([]*Document, 0, len(s.docs)+1)
	for i, d := range s.docs {
		if d.ID == oldID && oldID != id {
			continue
		}
		if exists && i == existingIdx {
			// Re-insertion under the same id keeps its slot and created time
			doc.Created = d.Created
			newDocs = append(newDocs, doc)
			continue
		}
		newDocs = append(newDocs, d)
	}
	if !exists {
		newDocs = append(newDocs, doc)
	}

	if err := s.persist(newDocs); err != nil {
		return "", err
	}
	s.commit(newDocs)

	return id, nil
}

// Clear removes all documents. It refuses to act unless confirm is true.
// When backup is requested the persisted file is copied aside first; if
// that copy fails the live collection is left untouched.
func (s *DocumentStore) Clear(confirm, backup bool) (*ClearResult, error) {
	if !confirm {
		return nil, ErrConfirmationRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &ClearResult{RemovedCount: len(s.docs)}

	if backup {
		backupPath, err := s.writeBackup()
		if err != nil {
			return nil, fmt.Errorf("backup failed, store unchanged: %w", err)
		}
		result.BackupPath = backupPath
	}

	if err := s.persist(nil); err != nil {
		return nil, err
	}
	s.commit(nil)

	return result, nil
}

// Get returns a copy of the document with the given id.
func (s *DocumentStore) Get(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.docs[idx].Clone(), nil
}

// List returns copies of all documents in insertion order.
func (s *DocumentStore) List() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Document, len(s.docs))
	for i, d := range s.docs {
		out[i] = d.Clone()
	}
	return out
}

// FindByHash returns copies of all documents whose content hash matches.
func (s *DocumentStore) FindByHash(hash string) []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Document
	for _, d := range s.docs {
		if d.ContentHash() == hash {
			out = append(out, d.Clone())
		}
	}
	return out
}

// Count returns the number of documents.
func (s *DocumentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// LastUpdated returns the collection's last mutation time.
func (s *DocumentStore) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// Backup writes a timestamped copy of the persisted file and returns its
// path. Used by the consolidator before destructive passes.
func (s *DocumentStore) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeBackup()
}

// persist writes the given collection to disk. Called with the write
// lock held; the in-memory state is only committed after success.
func (s *DocumentStore) persist(docs []*Document) error {
	col := collection{
		Documents:   docs,
		LastUpdated: time.Now().UTC(),
	}
	if col.Documents == nil {
		col.Documents = []*Document{}
	}

	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the live file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}

	return nil
}

// commit replaces the in-memory state after a successful persist.
// Called with the write lock held.
func (s *DocumentStore) commit(docs []*Document) {
	s.docs = docs
	s.byID = make(map[string]int, len(docs))
	for i, d := range docs {
		s.byID[d.ID] = i
	}
	s.lastUpdated = time.Now().UTC()
}

// Package vectorstore persists ingested chunks in a JSON file. It
// stands in for a real embedding store behind the same interface.
package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/veilleur-project/veilleur/internal/watcher"
)

// Document is one stored chunk with its metadata.
type Document struct {
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is a file backed document store with snapshot support so the
// transactional guard can roll writes back.
type Store struct {
	path  string
	clock watcher.Clock

	mu   sync.Mutex
	docs []Document
}

// Open loads the store file, starting empty when it does not exist.
func Open(path string, clock watcher.Clock) (*Store, error) {
	store := &Store{path: path, clock: clock}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vector store: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &store.docs); err != nil {
			return nil, fmt.Errorf("parse vector store %s: %w", path, err)
		}
	}
	return store, nil
}

// Add implements watcher.VectorStore.
func (s *Store) Add(ctx context.Context, texts []string, metas []map[string]any) error {
	if len(texts) != len(metas) {
		return fmt.Errorf("texts and metas length mismatch: %d vs %d", len(texts), len(metas))
	}
	if len(texts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, text := range texts {
		s.docs = append(s.docs, Document{Text: text, Meta: metas[i], CreatedAt: now})
	}
	return s.persistLocked()
}

// Snapshot implements watcher.SnapshotStore.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, err := json.Marshal(s.docs)
	if err != nil {
		return nil, fmt.Errorf("snapshot vector store: %w", err)
	}
	return token, nil
}

// Restore implements watcher.SnapshotStore.
func (s *Store) Restore(token []byte) error {
	var docs []Document
	if len(token) > 0 {
		if err := json.Unmarshal(token, &docs); err != nil {
			return fmt.Errorf("restore vector store: %w", err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = docs
	return s.persistLocked()
}

// Path implements watcher.FileBackedStore.
func (s *Store) Path() string {
	return s.path
}

// Len reports the number of stored documents.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Documents returns a copy of the stored documents.
func (s *Store) Documents() []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Document(nil), s.docs...)
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	payload, err := json.MarshalIndent(s.docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vector store: %w", err)
	}
	if err := os.WriteFile(s.path, payload, 0o644); err != nil {
		return fmt.Errorf("write vector store: %w", err)
	}
	return nil
}

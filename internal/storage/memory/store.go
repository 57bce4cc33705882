// Package memory is the in-process storage.Store driver, the default for
// tests and single-instance deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tripfolio/server/internal/storage"
)

// Store keeps collections in nested maps guarded by one RWMutex.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*storage.Document
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]*storage.Document),
	}
}

var _ storage.Store = (*Store)(nil)

// Insert implements storage.Store. The stored copy is detached from the
// caller's document.
func (s *Store) Insert(_ context.Context, collection string, doc *storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]*storage.Document)
		s.collections[collection] = coll
	}

	if _, exists := coll[doc.ID]; exists {
		return storage.ErrAlreadyExists
	}

	now := time.Now()
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	coll[doc.ID] = clone(doc)
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(_ context.Context, collection, id string) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(doc), nil
}

// Update implements storage.Store. The version check and the write are a
// single critical section, so two racing writers cannot both win.
func (s *Store) Update(_ context.Context, collection string, doc *storage.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.collections[collection][doc.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if stored.Version != doc.Version {
		return storage.ErrVersionConflict
	}

	doc.Version++
	doc.UpdatedAt = time.Now()
	doc.CreatedAt = stored.CreatedAt

	s.collections[collection][doc.ID] = clone(doc)
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection][id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

// ListByOwner implements storage.Store, most recently updated first.
func (s *Store) ListByOwner(_ context.Context, collection, ownerKey string, limit int) ([]*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Document
	for _, doc := range s.collections[collection] {
		if doc.OwnerKey == ownerKey {
			out = append(out, clone(doc))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(doc *storage.Document) *storage.Document {
	out := *doc
	if doc.Data != nil {
		out.Data = append([]byte(nil), doc.Data...)
	}
	return &out
}

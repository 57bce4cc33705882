// Package supabase backs storage.Store with Supabase Postgres tables, one
// table per collection, payloads in a jsonb column.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/tripfolio/server/internal/storage"
)

// Store implements storage.Store over the Supabase REST API.
type Store struct {
	client *supabase.Client
}

var _ storage.Store = (*Store)(nil)

// New connects to a Supabase project. Each collection used by the service
// must exist as a table with the envelope columns (id, owner_key, version,
// data, created_at, updated_at).
func New(url, apiKey string) (*Store, error) {
	if url == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(url, apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Store{client: client}, nil
}

// row mirrors the envelope columns of a collection table.
type row struct {
	ID        string          `json:"id"`
	OwnerKey  string          `json:"owner_key"`
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// updateRow carries only the columns an update may touch; created_at and
// owner_key are immutable after insert.
type updateRow struct {
	Version   int64           `json:"version"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Insert implements storage.Store.
func (s *Store) Insert(_ context.Context, collection string, doc *storage.Document) error {
	now := time.Now().UTC()
	doc.Version = 1
	doc.CreatedAt = now
	doc.UpdatedAt = now

	var inserted []row
	_, err := s.client.From(collection).
		Insert(toRow(doc), false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return nil
}

// Get implements storage.Store.
func (s *Store) Get(_ context.Context, collection, id string) (*storage.Document, error) {
	var rows []row
	_, err := s.client.From(collection).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get from %s: %w", collection, err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return fromRow(rows[0]), nil
}

// Update implements storage.Store. The version guard rides in the filter:
// the update only matches a row still at the caller's version, so a stale
// writer updates zero rows and gets a conflict.
func (s *Store) Update(ctx context.Context, collection string, doc *storage.Document) error {
	next := updateRow{
		Version:   doc.Version + 1,
		Data:      doc.Data,
		UpdatedAt: time.Now().UTC(),
	}

	var updated []row
	_, err := s.client.From(collection).
		Update(next, "representation", "").
		Eq("id", doc.ID).
		Eq("version", strconv.FormatInt(doc.Version, 10)).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", collection, err)
	}

	if len(updated) == 0 {
		// Zero rows means either the document is gone or someone else
		// won the version race; a read tells them apart.
		if _, err := s.Get(ctx, collection, doc.ID); err != nil {
			return err
		}
		return storage.ErrVersionConflict
	}

	doc.Version = updated[0].Version
	doc.CreatedAt = updated[0].CreatedAt
	doc.UpdatedAt = updated[0].UpdatedAt
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(_ context.Context, collection, id string) error {
	var deleted []row
	_, err := s.client.From(collection).
		Delete("representation", "").
		Eq("id", id).
		ExecuteTo(&deleted)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	if len(deleted) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByOwner implements storage.Store, most recently updated first.
func (s *Store) ListByOwner(_ context.Context, collection, ownerKey string, limit int) ([]*storage.Document, error) {
	var rows []row
	_, err := s.client.From(collection).
		Select("*", "", false).
		Eq("owner_key", ownerKey).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := make([]*storage.Document, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

func toRow(doc *storage.Document) row {
	return row{
		ID:        doc.ID,
		OwnerKey:  doc.OwnerKey,
		Version:   doc.Version,
		Data:      doc.Data,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func fromRow(r row) *storage.Document {
	return &storage.Document{
		ID:        r.ID,
		OwnerKey:  r.OwnerKey,
		Version:   r.Version,
		Data:      r.Data,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// isDuplicateKey spots Postgres unique-violation errors surfaced through
// the REST layer.
func isDuplicateKey(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}

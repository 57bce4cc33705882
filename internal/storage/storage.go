// Package storage defines the document-store boundary. The rest of the
// service sees an opaque keyed collection of versioned JSON documents;
// drivers decide where those documents actually live.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyExists is returned when inserting a duplicate id.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrVersionConflict is returned when an update's version does not
	// match the stored document. The caller re-reads and retries.
	ErrVersionConflict = errors.New("document version conflict")
)

// Document is one versioned record in a collection. Data is the
// caller's payload; the envelope fields exist so drivers can index and
// guard writes without understanding the payload.
type Document struct {
	ID string `json:"id"`

	// OwnerKey is the denormalized owner identity ("user:<id>" or
	// "guest:<id>") used for listing a caller's documents.
	OwnerKey string `json:"owner_key,omitempty"`

	// Version starts at 1 on insert and increments on every update.
	Version int64 `json:"version"`

	Data json.RawMessage `json:"data"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the document store contract. Update is compare-and-swap: the
// write succeeds only when the caller's Version matches the stored one,
// which is how concurrent writers to a single document serialize. Delete
// physically removes the record; collections whose records must survive
// deletion keep a status field in Data instead of calling it.
type Store interface {
	Insert(ctx context.Context, collection string, doc *Document) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	Update(ctx context.Context, collection string, doc *Document) error
	Delete(ctx context.Context, collection, id string) error
	ListByOwner(ctx context.Context, collection, ownerKey string, limit int) ([]*Document, error)
}

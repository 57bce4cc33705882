package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/tripfolio/server/internal/storage"
)

func TestMemoryStore_InsertGet(t *testing.T) {
	store := New()

	doc := &storage.Document{
		ID:       "doc-1",
		OwnerKey: "user:u-1",
		Data:     json.RawMessage(`{"title":"Lisbon"}`),
	}

	if err := store.Insert(context.Background(), "itineraries", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("Version after insert = %d, want 1", doc.Version)
	}
	if doc.CreatedAt.IsZero() || doc.UpdatedAt.IsZero() {
		t.Error("timestamps not set on insert")
	}

	got, err := store.Get(context.Background(), "itineraries", "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OwnerKey != "user:u-1" {
		t.Errorf("OwnerKey = %q, want user:u-1", got.OwnerKey)
	}
	if string(got.Data) != `{"title":"Lisbon"}` {
		t.Errorf("Data = %s", got.Data)
	}
}

func TestMemoryStore_InsertDuplicate(t *testing.T) {
	store := New()

	doc := &storage.Document{ID: "doc-1", Data: json.RawMessage(`{}`)}
	if err := store.Insert(context.Background(), "c", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	err := store.Insert(context.Background(), "c", &storage.Document{ID: "doc-1"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("Insert() duplicate error = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	store := New()

	_, err := store.Get(context.Background(), "c", "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_CollectionsAreIsolated(t *testing.T) {
	store := New()

	doc := &storage.Document{ID: "doc-1", Data: json.RawMessage(`{}`)}
	if err := store.Insert(context.Background(), "a", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, err := store.Get(context.Background(), "b", "doc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() across collections error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_UpdateBumpsVersion(t *testing.T) {
	store := New()

	doc := &storage.Document{ID: "doc-1", Data: json.RawMessage(`{"n":1}`)}
	if err := store.Insert(context.Background(), "c", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	doc.Data = json.RawMessage(`{"n":2}`)
	if err := store.Update(context.Background(), "c", doc); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if doc.Version != 2 {
		t.Errorf("Version after update = %d, want 2", doc.Version)
	}

	got, err := store.Get(context.Background(), "c", "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != `{"n":2}` {
		t.Errorf("Data = %s, want {\"n\":2}", got.Data)
	}
}

func TestMemoryStore_UpdateStaleVersion(t *testing.T) {
	store := New()

	doc := &storage.Document{ID: "doc-1", Data: json.RawMessage(`{}`)}
	if err := store.Insert(context.Background(), "c", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	stale := &storage.Document{ID: "doc-1", Version: doc.Version, Data: json.RawMessage(`{"w":"a"}`)}
	if err := store.Update(context.Background(), "c", doc); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	err := store.Update(context.Background(), "c", stale)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("Update() stale error = %v, want ErrVersionConflict", err)
	}
}

func TestMemoryStore_UpdateMissing(t *testing.T) {
	store := New()

	err := store.Update(context.Background(), "c", &storage.Document{ID: "ghost", Version: 1})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ReturnedDocsAreDetached(t *testing.T) {
	store := New()

	doc := &storage.Document{ID: "doc-1", Data: json.RawMessage(`{"n":1}`)}
	if err := store.Insert(context.Background(), "c", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := store.Get(context.Background(), "c", "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Data[6] = '9'

	again, err := store.Get(context.Background(), "c", "doc-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(again.Data) != `{"n":1}` {
		t.Errorf("stored Data mutated through returned copy: %s", again.Data)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := New()

	doc := &storage.Document{ID: "doc-1", Data: json.RawMessage(`{}`)}
	if err := store.Insert(context.Background(), "c", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := store.Delete(context.Background(), "c", "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(context.Background(), "c", "doc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(context.Background(), "c", "doc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ListByOwner(t *testing.T) {
	store := New()

	for _, id := range []string{"s-1", "s-2"} {
		doc := &storage.Document{ID: id, OwnerKey: "user:u-1", Data: json.RawMessage(`{}`)}
		if err := store.Insert(context.Background(), "c", doc); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}
	other := &storage.Document{ID: "s-3", OwnerKey: "user:u-2", Data: json.RawMessage(`{}`)}
	if err := store.Insert(context.Background(), "c", other); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	docs, err := store.ListByOwner(context.Background(), "c", "user:u-1", 0)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	for _, d := range docs {
		if d.OwnerKey != "user:u-1" {
			t.Errorf("OwnerKey = %q, want user:u-1", d.OwnerKey)
		}
	}

	limited, err := store.ListByOwner(context.Background(), "c", "user:u-1", 1)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len with limit 1 = %d", len(limited))
	}
}

func TestMemoryStore_ConcurrentCASOneWinner(t *testing.T) {
	store := New()

	doc := &storage.Document{ID: "doc-1", Data: json.RawMessage(`{}`)}
	if err := store.Insert(context.Background(), "c", doc); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempt := &storage.Document{ID: "doc-1", Version: 1, Data: json.RawMessage(`{"w":1}`)}
			if err := store.Update(context.Background(), "c", attempt); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}
}

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/tripfolio/server/internal/audit"
)

var testBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testEvent(id, userID string, at time.Time) audit.Event {
	return audit.Event{
		ID:        id,
		Timestamp: at,
		Type:      audit.EventAuthentication,
		Severity:  audit.SeverityLow,
		UserID:    userID,
		IPAddress: "203.0.113.7",
		Action:    "auth.token_verify",
		Success:   true,
	}
}

func TestStore_AppendAndListByUser(t *testing.T) {
	// In-memory SQLite with shared cache keeps the schema across connections.
	store, err := New("file:auditmem1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	events := []audit.Event{
		testEvent("ev-1", "u-1", testBase),
		testEvent("ev-2", "u-2", testBase.Add(time.Minute)),
		testEvent("ev-3", "u-1", testBase.Add(2*time.Minute)),
		testEvent("ev-4", "u-1", testBase.Add(-time.Hour)),
	}
	for _, ev := range events {
		if err := store.Append(ctx, ev); err != nil {
			t.Fatalf("Append(%s) error = %v", ev.ID, err)
		}
	}

	got, err := store.ListByUser(ctx, "u-1", testBase.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByUser() returned %d events, want 2", len(got))
	}
	if got[0].ID != "ev-1" || got[1].ID != "ev-3" {
		t.Errorf("ListByUser() order = %s, %s; want ev-1, ev-3", got[0].ID, got[1].ID)
	}
	if got[0].UserID != "u-1" || got[0].IPAddress != "203.0.113.7" {
		t.Errorf("event fields = %+v, want the appended values", got[0])
	}
}

func TestStore_ListRecent(t *testing.T) {
	store, err := New("file:auditmem2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i, id := range []string{"ev-old", "ev-mid", "ev-new"} {
		if err := store.Append(ctx, testEvent(id, "u-1", testBase.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}

	got, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRecent() returned %d events, want 2", len(got))
	}
	if got[0].ID != "ev-new" || got[1].ID != "ev-mid" {
		t.Errorf("ListRecent() order = %s, %s; want ev-new, ev-mid", got[0].ID, got[1].ID)
	}
}

func TestStore_Prune(t *testing.T) {
	store, err := New("file:auditmem3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Append(ctx, testEvent("ev-stale", "u-1", testBase.Add(-48*time.Hour))); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Append(ctx, testEvent("ev-fresh", "u-1", testBase)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	removed, err := store.Prune(ctx, testBase.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune() removed %d events, want 1", removed)
	}

	got, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "ev-fresh" {
		t.Errorf("after prune: %d events, want only ev-fresh", len(got))
	}
}

func TestStore_DetailsRoundTrip(t *testing.T) {
	store, err := New("file:auditmem4?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	ev := testEvent("ev-detailed", "u-1", testBase)
	ev.Details = map[string]string{"status": "403", "request_id": "req-9"}
	if err := store.Append(ctx, ev); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	bare := testEvent("ev-bare", "u-1", testBase.Add(time.Second))
	if err := store.Append(ctx, bare); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := store.ListByUser(ctx, "u-1", testBase.Add(-time.Second))
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByUser() returned %d events, want 2", len(got))
	}
	if got[0].Details["status"] != "403" || got[0].Details["request_id"] != "req-9" {
		t.Errorf("Details = %v, want the appended map", got[0].Details)
	}
	if got[1].Details != nil {
		t.Errorf("Details = %v, want nil for an event appended without any", got[1].Details)
	}
}

// Package sqlite persists audit events in a local SQLite database so the
// trail survives restarts without requiring an external service.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tripfolio/server/internal/audit"
)

// Store is a SQLite implementation of audit.EventStore.
type Store struct {
	db *sql.DB
}

var _ audit.EventStore = (*Store)(nil)

// New opens (creating if needed) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			user_id TEXT,
			ip_address TEXT,
			action TEXT NOT NULL,
			resource TEXT,
			success INTEGER NOT NULL,
			details TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_user ON audit_events(user_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(type)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Append implements audit.EventStore.
func (s *Store) Append(ctx context.Context, ev audit.Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `INSERT INTO audit_events (id, timestamp, type, severity, user_id, ip_address, action, resource, success, details)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		ev.ID, ev.Timestamp, string(ev.Type), string(ev.Severity),
		ev.UserID, ev.IPAddress, ev.Action, ev.Resource, boolToInt(ev.Success), string(details))

	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	return nil
}

// ListByUser implements audit.EventStore.
func (s *Store) ListByUser(ctx context.Context, userID string, since time.Time) ([]audit.Event, error) {
	query := `SELECT id, timestamp, type, severity, user_id, ip_address, action, resource, success, details
	          FROM audit_events WHERE user_id = ? AND timestamp >= ?
	          ORDER BY timestamp ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListRecent implements audit.EventStore, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	query := `SELECT id, timestamp, type, severity, user_id, ip_address, action, resource, success, details
	          FROM audit_events
	          ORDER BY timestamp DESC
	          LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// Prune implements audit.EventStore.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			ev          audit.Event
			evType      string
			severity    string
			userID      sql.NullString
			ipAddress   sql.NullString
			resource    sql.NullString
			success     int
			detailsJSON sql.NullString
		)

		if err := rows.Scan(&ev.ID, &ev.Timestamp, &evType, &severity,
			&userID, &ipAddress, &ev.Action, &resource, &success, &detailsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		ev.Type = audit.EventType(evType)
		ev.Severity = audit.Severity(severity)
		ev.UserID = userID.String
		ev.IPAddress = ipAddress.String
		ev.Resource = resource.String
		ev.Success = success != 0

		if detailsJSON.Valid && detailsJSON.String != "" && detailsJSON.String != "null" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}

		events = append(events, ev)
	}

	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

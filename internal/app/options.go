package app

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/tripfolio/server/internal/assistant"
	"github.com/tripfolio/server/internal/audit"
	auditsqlite "github.com/tripfolio/server/internal/audit/sqlite"
	"github.com/tripfolio/server/internal/config"
	"github.com/tripfolio/server/internal/security"
	"github.com/tripfolio/server/internal/storage"
	"github.com/tripfolio/server/internal/storage/memory"
	"github.com/tripfolio/server/internal/storage/supabase"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithConfig injects an already-loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		a.cfg = cfg
		return nil
	}
}

// WithConfigFile loads configuration from path and watches it for
// changes while the app runs.
func WithConfigFile(path string) Option {
	return func(a *App) error {
		if path == "" {
			return fmt.Errorf("config path cannot be empty")
		}
		a.cfgPath = path
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithMemoryStorage keeps sessions and itineraries in process memory
// (default; single instance, lost on restart).
func WithMemoryStorage() Option {
	return func(a *App) error {
		a.store = memory.New()
		return nil
	}
}

// WithSupabaseStorage keeps sessions and itineraries in a Supabase
// project's Postgres, for deployments that need durability.
func WithSupabaseStorage(url, apiKey string) Option {
	return func(a *App) error {
		store, err := supabase.New(url, apiKey)
		if err != nil {
			return fmt.Errorf("create supabase storage: %w", err)
		}
		a.store = store
		return nil
	}
}

// WithStore sets a custom document store.
func WithStore(store storage.Store) Option {
	return func(a *App) error {
		a.store = store
		return nil
	}
}

// WithRedisRateLimit shares rate-limit windows across instances through
// Redis. Without it, counters live in process memory.
func WithRedisRateLimit(addr, password string, db int) Option {
	return func(a *App) error {
		if addr == "" {
			return fmt.Errorf("redis addr cannot be empty")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		})
		a.counters = security.NewRedisCounterStore(client)
		a.closers = append(a.closers, client.Close)
		return nil
	}
}

// WithCounterStore sets a custom rate-limit counter store.
func WithCounterStore(store security.CounterStore) Option {
	return func(a *App) error {
		a.counters = store
		return nil
	}
}

// WithSQLiteAudit persists the audit trail in a local SQLite database so
// it survives restarts.
func WithSQLiteAudit(path string) Option {
	return func(a *App) error {
		if path == "" {
			path = "audit.db"
		}
		store, err := auditsqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite audit store: %w", err)
		}
		a.auditStore = store
		a.closers = append(a.closers, store.Close)
		return nil
	}
}

// WithAuditStore sets a custom audit event store.
func WithAuditStore(store audit.EventStore) Option {
	return func(a *App) error {
		a.auditStore = store
		return nil
	}
}

// WithResponder sets the model backend the assistant talks to. Tests use
// it to substitute a static responder.
func WithResponder(r assistant.Responder) Option {
	return func(a *App) error {
		a.responder = r
		return nil
	}
}

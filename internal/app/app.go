// Package app assembles the service from configuration and owns its
// lifecycle. It can run standalone under cmd/tripfolio or be embedded in
// a larger program via the functional options.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tripfolio/server/internal/assistant"
	"github.com/tripfolio/server/internal/audit"
	"github.com/tripfolio/server/internal/auth"
	"github.com/tripfolio/server/internal/config"
	"github.com/tripfolio/server/internal/security"
	"github.com/tripfolio/server/internal/server"
	"github.com/tripfolio/server/internal/session"
	"github.com/tripfolio/server/internal/storage"
	"github.com/tripfolio/server/internal/storage/memory"
	"github.com/tripfolio/server/internal/trips"
)

// Fallbacks for duration fields the config leaves unset.
const (
	defaultTokenTTL   = 24 * time.Hour
	defaultCSRFMaxAge = time.Hour
	defaultRetention  = 30 * 24 * time.Hour
)

// App is the assembled service: storage, security gates, the assistant
// pipeline, and the HTTP server, wired per the loaded configuration.
type App struct {
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger

	// Injected or defaulted collaborators.
	store      storage.Store
	counters   security.CounterStore
	auditStore audit.EventStore
	responder  assistant.Responder

	limiter *security.Limiter
	server  *server.Server
	watcher *config.Watcher

	cancel  context.CancelFunc
	mu      sync.Mutex
	closers []func() error
}

// New builds an App from the given options. Collaborators left unset
// fall back per the config: memory storage, memory counters, a memory
// audit store, and a responder derived from the assistant section.
func New(opts ...Option) (*App, error) {
	a := &App{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if a.cfg == nil {
		cfg, err := config.Load(a.cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg
	}
	cfg := a.cfg

	secret := []byte(cfg.Security.SigningSecret)
	if len(secret) == 0 {
		return nil, fmt.Errorf("security.signing_secret is required (generate one with cmd/keygen)")
	}

	if err := a.defaultCollaborators(); err != nil {
		return nil, err
	}

	sessions := session.NewService(a.store, session.WithWindowSize(cfg.Session.WindowSize))
	tripsSvc := trips.NewService(a.store)

	var filterOpts []security.FilterOption
	if n := cfg.Security.Filter.PromptCap; n > 0 {
		filterOpts = append(filterOpts, security.WithPromptCap(n))
	}
	if n := cfg.Security.Filter.ResponseCap; n > 0 {
		filterOpts = append(filterOpts, security.WithResponseCap(n))
	}
	if n := cfg.Security.Filter.KeywordThreshold; n > 0 {
		filterOpts = append(filterOpts, security.WithKeywordThreshold(n))
	}
	filter := security.NewRulesetFilter(filterOpts...)

	assistantSvc := assistant.NewService(a.responder, filter,
		assistant.WithModel(cfg.Assistant.Model),
		assistant.WithSystemPrompt(cfg.Assistant.SystemPrompt),
		assistant.WithPromptBudget(cfg.Assistant.PromptBudget),
		assistant.WithTimeout(config.Duration(cfg.Assistant.ReplyTimeout, assistant.DefaultTimeout)),
	)

	auditOpts := []audit.Option{
		audit.WithLogger(a.logger),
		audit.WithRetention(config.Duration(cfg.Audit.Retention, defaultRetention)),
	}
	if cfg.Audit.FailedAuthThreshold > 0 || cfg.Audit.AccessDeniedThreshold > 0 {
		auditOpts = append(auditOpts,
			audit.WithThresholds(cfg.Audit.FailedAuthThreshold, cfg.Audit.AccessDeniedThreshold))
	}
	auditor := audit.New(a.auditStore, auditOpts...)

	tokens := auth.NewTokenService(secret, config.Duration(cfg.Security.TokenTTL, defaultTokenTTL))
	csrf := security.NewCSRF(secret, config.Duration(cfg.Security.CSRFMaxAge, defaultCSRFMaxAge))
	a.limiter = security.NewLimiter(a.counters, profilesFromConfig(cfg.RateLimit.Profiles)...)

	a.server = server.New(cfg.Server.Port, server.Deps{
		Logger:          a.logger,
		Sessions:        sessions,
		Trips:           tripsSvc,
		Assistant:       assistantSvc,
		Tokens:          tokens,
		CSRF:            csrf,
		Limiter:         a.limiter,
		Audit:           auditor,
		CSRFExemptPaths: cfg.Security.CSRFExemptPaths,
		RequestTimeout:  config.Duration(cfg.Server.RequestTimeout, server.DefaultRequestTimeout),
	})

	return a, nil
}

// Router exposes the HTTP surface for embedding and for tests that drive
// requests without a listener.
func (a *App) Router() *server.Server {
	return a.server
}

// Start begins serving and, when the config came from a file, starts
// watching it for changes. It does not block; Shutdown stops everything.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, a.cancel = context.WithCancel(ctx)

	if a.cfgPath != "" {
		w, err := config.NewWatcher(a.cfgPath, a.logger)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		a.watcher = w
		if err := w.Watch(ctx, a.applyConfig); err != nil {
			// A missing or unwatchable file only disables hot reload.
			a.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		}
	}

	go func() {
		if err := a.server.Start(); err != nil {
			a.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	a.logger.Info("app started", slog.Int("port", a.cfg.Server.Port))
	return nil
}

// Shutdown drains the server and releases owned resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("shutting down")

	if a.cancel != nil {
		a.cancel()
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			a.logger.Error("failed to close config watcher", slog.String("error", err.Error()))
		}
	}

	var firstErr error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			firstErr = err
		}
	}

	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Error("failed to close resource", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	a.logger.Info("shutdown complete")
	return firstErr
}

// applyConfig folds a reloaded config into the running app. Only the
// rate-limit profiles take effect live; everything else needs a restart,
// which is logged rather than half-applied.
func (a *App) applyConfig(cfg *config.Config) {
	a.limiter.SetProfiles(profilesFromConfig(cfg.RateLimit.Profiles)...)

	a.mu.Lock()
	prev := a.cfg
	a.cfg = cfg
	a.mu.Unlock()

	if prev.Server.Port != cfg.Server.Port {
		a.logger.Warn("server.port changed in config; restart required to apply")
	}
	a.logger.Info("config reloaded", slog.Int("rate_limit_profiles", len(cfg.RateLimit.Profiles)))
}

// defaultCollaborators fills any collaborator not supplied by an option
// from the corresponding config section.
func (a *App) defaultCollaborators() error {
	cfg := a.cfg

	if a.store == nil {
		switch cfg.Storage.Type {
		case "", "memory":
			a.store = memory.New()
		case "supabase":
			if err := WithSupabaseStorage(cfg.Storage.Supabase.URL, cfg.Storage.Supabase.APIKey)(a); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown storage.type %q", cfg.Storage.Type)
		}
	}

	if a.counters == nil {
		switch cfg.RateLimit.Store {
		case "", "memory":
			a.counters = security.NewMemoryCounterStore()
		case "redis":
			if err := WithRedisRateLimit(cfg.RateLimit.Redis.Addr, cfg.RateLimit.Redis.Password, cfg.RateLimit.Redis.DB)(a); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown rate_limit.store %q", cfg.RateLimit.Store)
		}
	}

	if a.auditStore == nil {
		switch cfg.Audit.Store {
		case "", "memory":
			a.auditStore = audit.NewMemoryStore()
		case "sqlite":
			if err := WithSQLiteAudit(cfg.Audit.SQLitePath)(a); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown audit.store %q", cfg.Audit.Store)
		}
	}

	if a.responder == nil {
		if cfg.Assistant.APIKey == "" {
			// Without a key the assistant declines rather than erroring,
			// which keeps local bring-up and tests runnable.
			a.logger.Warn("assistant.api_key not set, using static responder")
			a.responder = &assistant.StaticResponder{
				Reply: "The travel assistant is not configured on this deployment.",
			}
		} else {
			client := security.NewSafeClient(config.Duration(cfg.Assistant.ReplyTimeout, assistant.DefaultTimeout))
			responder, err := assistant.NewOpenAIResponder(
				cfg.Assistant.APIKey, cfg.Assistant.Model, cfg.Assistant.BaseURL, client)
			if err != nil {
				return fmt.Errorf("create model responder: %w", err)
			}
			a.responder = responder
		}
	}

	return nil
}

func profilesFromConfig(in []config.ProfileConfig) []security.Profile {
	out := make([]security.Profile, 0, len(in))
	for _, p := range in {
		out = append(out, security.Profile{
			Name:   p.Name,
			Limit:  p.Limit,
			Window: config.Duration(p.Window, 0),
		})
	}
	return out
}

// Package server is the HTTP surface of the conversation service. Every
// request passes the same gate sequence before its handler runs: CSRF
// check, rate limit, identity resolution, role check, and audit, each
// stage failing terminally with its own status.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tripfolio/server/internal/assistant"
	"github.com/tripfolio/server/internal/audit"
	"github.com/tripfolio/server/internal/auth"
	"github.com/tripfolio/server/internal/security"
	"github.com/tripfolio/server/internal/session"
	"github.com/tripfolio/server/internal/trips"
)

// DefaultRequestTimeout bounds a request when Deps does not say otherwise.
const DefaultRequestTimeout = 30 * time.Second

// Deps are the collaborators the server routes requests to. Logger,
// CSRFExemptPaths and RequestTimeout fall back to defaults when unset; a
// nil CSRF, Limiter, Tokens or Audit disables the corresponding gate,
// which only test setups should do.
type Deps struct {
	Logger    *slog.Logger
	Sessions  *session.Service
	Trips     *trips.Service
	Assistant *assistant.Service
	Tokens    *auth.TokenService
	CSRF      *security.CSRF
	Limiter   *security.Limiter
	Audit     *audit.Logger

	CSRFExemptPaths []string
	RequestTimeout  time.Duration
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	srv    *http.Server
}

func New(port int, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	exempt := d.CSRFExemptPaths
	if exempt == nil {
		exempt = DefaultCSRFExemptPaths
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(CSRFMiddleware(d.CSRF, exempt))
	r.Use(TimeoutMiddleware(timeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "tripfolio-server")
	})

	h := &handlers{
		logger:    logger,
		sessions:  d.Sessions,
		trips:     d.Trips,
		assistant: d.Assistant,
		auditor:   d.Audit,
		csrf:      d.CSRF,
	}

	chatLimit := RateLimitMiddleware(d.Limiter, d.Tokens, d.Audit, ProfileChat)
	apiLimit := RateLimitMiddleware(d.Limiter, d.Tokens, d.Audit, ProfileAPI)
	authLimit := RateLimitMiddleware(d.Limiter, d.Tokens, d.Audit, ProfileAuth)
	authn := AuthMiddleware(d.Tokens, d.Audit)
	audited := AuditMiddleware(d.Audit)
	adminOnly := RequireRole(auth.RoleAdmin, d.Audit)

	r.With(apiLimit).Get("/healthz", h.health)

	r.Route("/api", func(api chi.Router) {
		api.With(apiLimit).Get("/security/csrf-token", h.csrfToken)

		api.Route("/chat", func(chat chi.Router) {
			// Model-facing traffic is metered tightly.
			chat.Group(func(g chi.Router) {
				g.Use(chatLimit, authn, audited)
				g.Post("/guest/session", h.createGuestSession)
				g.Post("/guest", h.guestChat)
				g.With(RequireAuth).Post("/", h.chat)
			})

			// Identity promotion sits on the auth tier.
			chat.Group(func(g chi.Router) {
				g.Use(authLimit, authn, RequireAuth, audited)
				g.Post("/convert-guest", h.convertGuest)
			})

			chat.Group(func(g chi.Router) {
				g.Use(apiLimit, authn, RequireAuth, audited)
				g.Get("/sessions", h.listSessions)
				g.Get("/sessions/{id}", h.getSession)
				g.Delete("/sessions/{id}", h.deleteSession)
			})
		})

		api.Route("/itineraries", func(it chi.Router) {
			// Generation calls the model, so it shares the chat tier.
			it.Group(func(g chi.Router) {
				g.Use(chatLimit, authn, RequireAuth, audited)
				g.Post("/generate", h.generateItinerary)
			})

			it.Group(func(g chi.Router) {
				g.Use(apiLimit, authn, RequireAuth, audited)
				g.Get("/", h.listItineraries)
				g.Get("/{id}", h.getItinerary)
				g.Put("/{id}", h.updateItinerary)
				g.Delete("/{id}", h.deleteItinerary)
			})
		})

		api.Route("/ops/audit", func(ops chi.Router) {
			ops.Use(apiLimit, authn, RequireAuth, adminOnly, audited)
			ops.Get("/events", h.auditEvents)
			ops.Get("/suspicious/{userId}", h.auditSuspicious)
		})
	})

	s := &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping server")
	return s.srv.Shutdown(ctx)
}

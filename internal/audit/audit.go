// Package audit records security-relevant events and answers
// suspicious-activity queries over them. Recording is best-effort by
// contract: a failing event sink must never fail the request that was
// being audited.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies what kind of activity an event describes.
type EventType string

const (
	EventAuthentication EventType = "authentication"
	EventAuthorization  EventType = "authorization"
	EventDataAccess     EventType = "data_access"
	EventAPICall        EventType = "api_call"
	EventError          EventType = "error"
)

// Severity grades an event for triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is one append-only audit record.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	UserID    string            `json:"user_id,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Action    string            `json:"action"`
	Resource  string            `json:"resource,omitempty"`
	Success   bool              `json:"success"`
	Details   map[string]string `json:"details,omitempty"`
}

// EventStore persists audit events. Implementations must tolerate
// concurrent appends.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByUser(ctx context.Context, userID string, since time.Time) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
	Prune(ctx context.Context, before time.Time) (int, error)
}

const (
	// DefaultRetention is how long events are kept before lazy pruning.
	DefaultRetention = 90 * 24 * time.Hour

	// DefaultFailedAuthThreshold flags a user once this many
	// authentication failures land inside the query window.
	DefaultFailedAuthThreshold = 5

	// DefaultAccessDeniedThreshold flags a user once this many
	// authorization denials land inside the query window.
	DefaultAccessDeniedThreshold = 10

	// persistTimeout bounds each sink write once detached from the
	// request context.
	persistTimeout = 5 * time.Second
)

// Logger is the audit front end handlers and middleware talk to.
type Logger struct {
	store EventStore
	log   *slog.Logger

	retention             time.Duration
	failedAuthThreshold   int
	accessDeniedThreshold int

	pruneEvery time.Duration
	mu         sync.Mutex
	lastPrune  time.Time

	now func() time.Time
}

// Option customizes a Logger.
type Option func(*Logger)

// WithRetention sets how long events are retained. Zero or negative
// disables pruning.
func WithRetention(d time.Duration) Option {
	return func(l *Logger) { l.retention = d }
}

// WithThresholds sets the suspicious-activity trip points.
func WithThresholds(failedAuth, accessDenied int) Option {
	return func(l *Logger) {
		if failedAuth > 0 {
			l.failedAuthThreshold = failedAuth
		}
		if accessDenied > 0 {
			l.accessDeniedThreshold = accessDenied
		}
	}
}

// WithLogger sets the slog logger used to report sink failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// New builds a Logger over the given store.
func New(store EventStore, opts ...Option) *Logger {
	l := &Logger{
		store:                 store,
		log:                   slog.Default(),
		retention:             DefaultRetention,
		failedAuthThreshold:   DefaultFailedAuthThreshold,
		accessDeniedThreshold: DefaultAccessDeniedThreshold,
		pruneEvery:            time.Minute,
		now:                   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log appends one event, filling in id, timestamp and severity defaults.
// Sink failures are logged and swallowed; Log never returns an error and
// never panics on a nil store.
func (l *Logger) Log(ctx context.Context, ev Event) {
	if l.store == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if ev.Severity == "" {
		ev.Severity = SeverityLow
	}

	// Detach from the request lifecycle so a cancelled request still
	// gets its audit trail, under a short timeout of its own.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := l.store.Append(pctx, ev); err != nil {
		l.log.Warn("audit event dropped",
			slog.String("action", ev.Action),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	l.maybePrune(pctx)
}

// CheckSuspiciousActivity reports whether the user's recent failed
// authentications or authorization denials meet the configured
// thresholds. Advisory only: it blocks nothing by itself, and store
// errors read as not-suspicious.
func (l *Logger) CheckSuspiciousActivity(ctx context.Context, userID string, window time.Duration) bool {
	if l.store == nil || userID == "" {
		return false
	}

	events, err := l.store.ListByUser(ctx, userID, l.now().Add(-window))
	if err != nil {
		l.log.Warn("suspicious activity scan failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return false
	}

	var failedAuth, accessDenied int
	for _, ev := range events {
		if ev.Success {
			continue
		}
		switch ev.Type {
		case EventAuthentication:
			failedAuth++
		case EventAuthorization:
			accessDenied++
		}
	}
	return failedAuth >= l.failedAuthThreshold || accessDenied >= l.accessDeniedThreshold
}

// RecentEvents returns the newest events for the ops surface.
func (l *Logger) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if l.store == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return l.store.ListRecent(ctx, limit)
}

// maybePrune reaps aged events at most once per interval. There is no
// background sweeper; retention is enforced on the write path.
func (l *Logger) maybePrune(ctx context.Context) {
	if l.retention <= 0 {
		return
	}

	l.mu.Lock()
	due := l.now().Sub(l.lastPrune) >= l.pruneEvery
	if due {
		l.lastPrune = l.now()
	}
	l.mu.Unlock()
	if !due {
		return
	}

	n, err := l.store.Prune(ctx, l.now().Add(-l.retention))
	if err != nil {
		l.log.Warn("audit prune failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		l.log.Debug("audit events pruned", slog.Int("count", n))
	}
}

package server

import (
	"net/http"
	"time"

	"github.com/tripfolio/server/internal/audit"
	"github.com/tripfolio/server/internal/auth"
	"github.com/tripfolio/server/internal/domain"
	"github.com/tripfolio/server/internal/security"
)

// Rate limit profile names. Routes declare which profile meters them; the
// limiter itself is profile-agnostic.
const (
	ProfileChat   = "chat"
	ProfileAPI    = "api"
	ProfileAuth   = "auth"
	ProfileStrict = "strict"
)

// suspiciousActivityWindow is how far back the escalation check looks when
// deciding whether a caller should be moved to the strict profile.
const suspiciousActivityWindow = 15 * time.Minute

// RateLimitInfo is the admission outcome exposed to clients through
// response headers.
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimitMiddleware meters requests under the named profile. Users are
// keyed by account id, everyone else by client address. Callers the audit
// log flags as suspicious are escalated to the strict profile when one is
// registered. Denials return 429 with a Retry-After hint; admitted requests
// carry X-RateLimit-* headers either way.
//
// A failing counter store admits the request: availability wins over
// strictness for this boundary, and the failure is still logged.
func RateLimitMiddleware(limiter *security.Limiter, tokens *auth.TokenService, auditor *audit.Logger, profile string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			// The identity here is a keying peek, not the terminal
			// authentication decision; an unverifiable token keys the
			// caller by address and fails later at the auth stage.
			id, _ := resolveIdentity(r, tokens)

			name := profile
			if auditor != nil && id.Authenticated() &&
				auditor.CheckSuspiciousActivity(r.Context(), id.UserID, suspiciousActivityWindow) {
				if _, ok := limiter.Profile(ProfileStrict); ok {
					name = ProfileStrict
					AddLogField(r.Context(), "rate_limit_profile", name)
				}
			}

			decision, err := limiter.Allow(r.Context(), name, id.RateLimitKey())
			if err != nil {
				AddError(r.Context(), err)
				next.ServeHTTP(w, r)
				return
			}

			wrapped := &rateLimitResponseWriter{
				ResponseWriter: w,
				info: &RateLimitInfo{
					Limit:     decision.Limit,
					Remaining: decision.Remaining,
					ResetAt:   decision.ResetAt,
				},
			}

			if !decision.Allowed {
				writeError(wrapped, r, domain.ErrRateLimit("rate limit exceeded", decision.RetryAfter))
				return
			}
			next.ServeHTTP(wrapped, r)
		})
	}
}

// rateLimitResponseWriter wraps ResponseWriter to emit rate limit headers
// lazily on the first write, so handlers that never set headers themselves
// still advertise the quota state.
type rateLimitResponseWriter struct {
	http.ResponseWriter
	info         *RateLimitInfo
	wroteHeaders bool
}

func (rw *rateLimitResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *rateLimitResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeaders {
		rw.writeRateLimitHeaders()
		rw.wroteHeaders = true
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *rateLimitResponseWriter) writeRateLimitHeaders() {
	if rw.info == nil {
		return
	}

	h := rw.Header()
	h.Set("X-RateLimit-Limit", itoa(int64(rw.info.Limit)))
	h.Set("X-RateLimit-Remaining", itoa(int64(rw.info.Remaining)))
	if !rw.info.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", itoa(rw.info.ResetAt.Unix()))
	}
}

// Flush forwards Flush to the underlying ResponseWriter if it supports
// http.Flusher.
func (rw *rateLimitResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// itoa converts an integer to its decimal string without importing strconv.
func itoa(i int64) string {
	if i == 0 {
		return "0"
	}

	negative := i < 0
	if negative {
		i = -i
	}

	var buf [20]byte
	pos := len(buf)

	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}

	if negative {
		pos--
		buf[pos] = '-'
	}

	return string(buf[pos:])
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tripfolio/server/internal/audit"
	"github.com/tripfolio/server/internal/auth"
	"github.com/tripfolio/server/internal/domain"
	"github.com/tripfolio/server/internal/security"
)

// CSRFHeader carries the anti-forgery token on requests and on the
// token-issuing response.
const CSRFHeader = "X-CSRF-Token"

// CSRFCookie mirrors the issued token for double-submit clients. The
// cookie is deliberately readable by scripts; the protection comes from
// the attacker's inability to read it cross-origin, not from hiding it.
const CSRFCookie = "tf_csrf"

// csrfFormField is the form fallback for plain HTML posts.
const csrfFormField = "csrf_token"

// DefaultCSRFExemptPaths lists endpoints that never require a token. Both
// are GETs today, so the list is belt and braces against a method change.
var DefaultCSRFExemptPaths = []string{"/healthz", "/api/security/csrf-token"}

// CSRFMiddleware rejects mutating requests that do not carry a valid
// anti-forgery token. Safe methods and exempt paths pass through. The
// token is read from the header, then the cookie, then the form field,
// in that order.
func CSRFMiddleware(tokens *security.CSRF, exemptPaths []string) func(http.Handler) http.Handler {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens == nil {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(CSRFHeader)
			if token == "" {
				if c, err := r.Cookie(CSRFCookie); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				// ParseForm leaves non-form bodies untouched, so JSON
				// payloads survive this probe.
				token = r.PostFormValue(csrfFormField)
			}

			if !tokens.Verify(token, "") {
				writeError(w, r, domain.ErrSecurity("missing or invalid csrf token").
					WithCode(domain.ErrorCodeCSRFTokenInvalid))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware records one api_call event per request after the handler
// finishes, carrying the resolved identity, route, and outcome. It must
// run inside AuthMiddleware so the identity is available. A failing audit
// sink never fails the request; that contract lives in the audit logger.
func AuditMiddleware(auditor *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auditor == nil {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			id, _ := auth.IdentityFrom(r.Context())
			severity := audit.SeverityLow
			if rec.status >= http.StatusInternalServerError {
				severity = audit.SeverityMedium
			}

			details := map[string]string{"status": itoa(int64(rec.status))}
			if rid := GetRequestID(r.Context()); rid != "" {
				details["request_id"] = rid
			}

			auditor.Log(r.Context(), audit.Event{
				Type:      audit.EventAPICall,
				Severity:  severity,
				UserID:    id.UserID,
				IPAddress: id.IPAddress,
				Action:    r.Method + " " + routePattern(r),
				Resource:  r.URL.Path,
				Success:   rec.status < http.StatusBadRequest,
				Details:   details,
			})
		})
	}
}

// routePattern returns the registered chi pattern for the matched route,
// falling back to the raw path. Patterns keep audit actions low-cardinality
// where ids would explode them.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/tripfolio/server/internal/audit"
	"github.com/tripfolio/server/internal/auth"
	"github.com/tripfolio/server/internal/domain"
)

// AuthMiddleware resolves the caller identity and stores it in the request
// context. A valid bearer token yields an authenticated user; no token
// yields a guest or anonymous identity. A token that is present but fails
// verification is terminal: the request is rejected with 401 rather than
// silently downgraded, and the failure is recorded for suspicious-activity
// scans.
func AuthMiddleware(tokens *auth.TokenService, auditor *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolveIdentity(r, tokens)
			if err != nil {
				if auditor != nil {
					auditor.Log(r.Context(), audit.Event{
						Type:      audit.EventAuthentication,
						Severity:  audit.SeverityMedium,
						IPAddress: id.IPAddress,
						Action:    "token.verify",
						Resource:  r.URL.Path,
						Success:   false,
					})
				}
				writeError(w, r, err)
				return
			}

			if id.Authenticated() {
				AddLogField(r.Context(), "user_id", id.UserID)
			} else if id.GuestID != "" {
				AddLogField(r.Context(), "guest_id", id.GuestID)
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAuth rejects requests whose resolved identity is not an
// authenticated user. It must run after AuthMiddleware.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFrom(r.Context())
		if !ok || !id.Authenticated() {
			writeError(w, r, domain.ErrAuthentication("authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route on the given role. Admins pass every gate.
// Denials are recorded as authorization events, which feed the
// suspicious-activity heuristics.
func RequireRole(role auth.Role, auditor *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFrom(r.Context())
			if !ok || !id.Authenticated() {
				writeError(w, r, domain.ErrAuthentication("authentication required"))
				return
			}
			if id.Role != role && !id.IsAdmin() {
				if auditor != nil {
					auditor.Log(r.Context(), audit.Event{
						Type:      audit.EventAuthorization,
						Severity:  audit.SeverityMedium,
						UserID:    id.UserID,
						IPAddress: id.IPAddress,
						Action:    "role.check",
						Resource:  r.URL.Path,
						Success:   false,
						Details:   map[string]string{"required_role": string(role)},
					})
				}
				writeError(w, r, domain.ErrAuthorization("insufficient privileges"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveIdentity builds the caller identity from the request. The error is
// non-nil only when a bearer token was presented and failed verification;
// an absent token is not an error, it just resolves to a guest or
// anonymous identity.
func resolveIdentity(r *http.Request, tokens *auth.TokenService) (auth.Identity, error) {
	id := auth.Identity{
		GuestID:   auth.ExtractGuestID(r),
		IPAddress: clientIP(r),
	}

	raw, err := auth.ExtractBearerToken(r)
	if err != nil || raw == "" {
		return id, nil
	}
	if tokens == nil {
		return id, nil
	}

	verified, err := tokens.Verify(raw)
	if err != nil {
		return id, err
	}
	verified.IPAddress = id.IPAddress
	return verified, nil
}

// clientIP returns the originating client address: the first hop of
// X-Forwarded-For when a proxy set one, otherwise the connection peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package auth resolves caller identity for the request gateway. Users
// present signed bearer tokens; guests present a client-held opaque id and
// get no token at all.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tripfolio/server/internal/domain"
)

// Role is the authorization tier of an authenticated user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the resolved caller of a request. Exactly one of UserID and
// GuestID is set for chat traffic; both empty means anonymous.
type Identity struct {
	UserID    string
	Role      Role
	GuestID   string
	IPAddress string
}

// Authenticated reports whether the identity carries a verified user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Authenticated() && i.Role == RoleAdmin
}

// Owner maps the identity to a session owner. Authenticated users own user
// sessions; everyone else owns guest sessions keyed by their guest id.
func (i Identity) Owner() (domain.Owner, error) {
	if i.Authenticated() {
		return domain.UserOwner(i.UserID), nil
	}
	if i.GuestID == "" {
		return domain.Owner{}, fmt.Errorf("identity has neither user nor guest id")
	}
	return domain.GuestOwner(i.GuestID), nil
}

// RateLimitKey is the identity string handed to the rate limiter. Users are
// limited per account, guests per client address.
func (i Identity) RateLimitKey() string {
	if i.Authenticated() {
		return "user:" + i.UserID
	}
	if i.IPAddress != "" {
		return "ip:" + i.IPAddress
	}
	return "ip:unknown"
}

type contextKey string

const identityContextKey contextKey = "identity"

// WithIdentity stores the resolved identity on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFrom returns the identity resolved for this request, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// DefaultTokenTTL bounds how long an issued bearer token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// tokenPurpose domain-separates token signatures from other uses of the
// shared signing secret.
const tokenPurpose = "auth."

// TokenService mints and verifies signed bearer tokens. Tokens are
// self-contained: base64url(userID):role:expiresUnix:base64url(signature),
// signed with HMAC-SHA256 over the purpose-tagged unsigned prefix. There is
// no server-side token store and no revocation list; expiry is the only
// invalidation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a token service with the given signing secret.
// A non-positive ttl falls back to DefaultTokenTTL.
func NewTokenService(secret []byte, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a bearer token for userID with the given role. A non-positive
// ttl uses the service default.
func (t *TokenService) Issue(userID string, role Role, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if !ValidRole(role) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = t.ttl
	}

	expires := t.now().Add(ttl).Unix()
	payload := strings.Join([]string{
		base64.RawURLEncoding.EncodeToString([]byte(userID)),
		string(role),
		strconv.FormatInt(expires, 10),
	}, ":")
	sig := base64.RawURLEncoding.EncodeToString(t.sign(payload))
	return payload + ":" + sig, nil
}

// Verify checks a bearer token and returns the identity it asserts. It
// fails closed on malformed structure, bad signature, unknown role, or
// expiry.
func (t *TokenService) Verify(token string) (Identity, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return Identity{}, domain.ErrAuthentication("malformed token")
	}

	payload := strings.Join(parts[:3], ":")
	sig, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return Identity{}, domain.ErrAuthentication("malformed token signature")
	}
	if !hmac.Equal(sig, t.sign(payload)) {
		return Identity{}, domain.ErrAuthentication("invalid token signature")
	}

	userID, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(userID) == 0 {
		return Identity{}, domain.ErrAuthentication("malformed token subject")
	}
	role := Role(parts[1])
	if !ValidRole(role) {
		return Identity{}, domain.ErrAuthentication("unknown token role")
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Identity{}, domain.ErrAuthentication("malformed token expiry")
	}
	if t.now().Unix() > expires {
		return Identity{}, domain.ErrAuthentication("token expired")
	}

	return Identity{UserID: string(userID), Role: role}, nil
}

func (t *TokenService) sign(payload string) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(tokenPurpose + payload))
	return mac.Sum(nil)
}

// ExtractBearerToken pulls the bearer token from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("unsupported authorization scheme")
	}
	return strings.TrimSpace(parts[1]), nil
}

// GuestIDHeader carries the client-held guest session identity.
const GuestIDHeader = "X-Guest-ID"

// GuestIDCookie is the fallback cookie carrying the guest identity for
// browser clients that cannot set custom headers.
const GuestIDCookie = "tf_guest_id"

// ExtractGuestID pulls the guest id from the request header or cookie,
// header first. Returns empty when the caller presents neither.
func ExtractGuestID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(GuestIDHeader)); id != "" {
		return id
	}
	if c, err := r.Cookie(GuestIDCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

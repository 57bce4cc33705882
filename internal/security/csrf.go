package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultCSRFMaxAge is how long an issued token stays valid.
const DefaultCSRFMaxAge = time.Hour

// CSRF issues and verifies stateless anti-forgery tokens. A token is
// random:issued-at:session-id joined by colons and signed with
// HMAC-SHA256 over exactly those three parts, so nothing is stored
// server-side. The bound session id may be empty for callers that have
// no session yet.
type CSRF struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewCSRF builds a token service. maxAge <= 0 selects the default.
func NewCSRF(secret []byte, maxAge time.Duration) *CSRF {
	if maxAge <= 0 {
		maxAge = DefaultCSRFMaxAge
	}
	return &CSRF{
		secret: secret,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// MaxAge reports the configured token lifetime.
func (c *CSRF) MaxAge() time.Duration {
	return c.maxAge
}

// Issue creates a token bound to sessionID (which may be empty).
func (c *CSRF) Issue(sessionID string) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("csrf nonce: %w", err)
	}

	payload := strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(nonce),
		strconv.FormatInt(c.now().Unix(), 10),
		sessionID,
	}, ":")

	return payload + ":" + c.sign(payload), nil
}

// Verify checks a token and fails closed: malformed structure, signature
// mismatch, expiry, and session mismatch all return false. When
// expectedSessionID is empty the session binding is not checked.
func (c *CSRF) Verify(token, expectedSessionID string) bool {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return false
	}
	payload := strings.Join(parts[:3], ":")

	got, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	if subtle.ConstantTimeCompare(c.signRaw(payload), got) != 1 {
		return false
	}

	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	age := c.now().Sub(time.Unix(issued, 0))
	if age < 0 || age > c.maxAge {
		return false
	}

	if expectedSessionID != "" && parts[2] != expectedSessionID {
		return false
	}
	return true
}

func (c *CSRF) sign(payload string) string {
	return base64.RawURLEncoding.EncodeToString(c.signRaw(payload))
}

func (c *CSRF) signRaw(payload string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tripfolio/server/internal/domain"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestTokenService_IssueVerify(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour)

	token, err := svc.Issue("u-1", RoleUser, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	id, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "u-1" {
		t.Errorf("UserID = %q, want u-1", id.UserID)
	}
	if id.Role != RoleUser {
		t.Errorf("Role = %q, want user", id.Role)
	}
}

func TestTokenService_IssueValidation(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour)

	if _, err := svc.Issue("", RoleUser, 0); err == nil {
		t.Error("Issue() with empty user id succeeded")
	}
	if _, err := svc.Issue("u-1", "root", 0); err == nil {
		t.Error("Issue() with unknown role succeeded")
	}
}

func TestTokenService_SubjectMaySurviveColons(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour)

	token, err := svc.Issue("tenant:42:user:7", RoleAdmin, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	id, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if id.UserID != "tenant:42:user:7" {
		t.Errorf("UserID = %q", id.UserID)
	}
}

func TestTokenService_VerifyTamperedSignature(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour)

	token, err := svc.Issue("u-1", RoleUser, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	idx := strings.LastIndex(token, ":") + 1
	flipped := byte('A')
	if token[idx] == 'A' {
		flipped = 'B'
	}
	tampered := token[:idx] + string(flipped) + token[idx+1:]

	if _, err := svc.Verify(tampered); err == nil {
		t.Error("Verify() accepted tampered signature")
	}
}

func TestTokenService_VerifyTamperedRole(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour)

	token, err := svc.Issue("u-1", RoleUser, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	escalated := strings.Replace(token, ":user:", ":admin:", 1)
	if _, err := svc.Verify(escalated); err == nil {
		t.Error("Verify() accepted role rewrite")
	}
}

func TestTokenService_VerifyExpired(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour)
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.Issue("u-1", RoleUser, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = svc.Verify(token)
	if err == nil {
		t.Fatal("Verify() accepted expired token")
	}
	apiErr, ok := domain.AsAPIError(err)
	if !ok || apiErr.Type != domain.ErrorTypeAuthentication {
		t.Errorf("error = %v, want authentication", err)
	}
}

func TestTokenService_VerifyMalformed(t *testing.T) {
	svc := NewTokenService(testSecret, time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not-a-token"},
		{name: "two parts", token: "dS0x:user"},
		{name: "five parts", token: "dS0x:user:123:sig:extra"},
		{name: "bad signature encoding", token: "dS0x:user:123:!!!"},
		{name: "bad expiry", token: "dS0x:user:soon:c2ln"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Verify(tt.token); err == nil {
				t.Errorf("Verify(%q) succeeded", tt.token)
			}
		})
	}
}

func TestTokenService_VerifyCrossSecret(t *testing.T) {
	issuer := NewTokenService(testSecret, time.Hour)
	verifier := NewTokenService([]byte("a completely different secret!!!"), time.Hour)

	token, err := issuer.Issue("u-1", RoleUser, 0)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Error("Verify() accepted token from another secret")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "bearer", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "missing", header: "", wantErr: true},
		{name: "no scheme", header: "abc123", wantErr: true},
		{name: "basic scheme", header: "Basic abc123", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ExtractBearerToken() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractBearerToken() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractBearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractGuestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := ExtractGuestID(r); got != "" {
		t.Errorf("ExtractGuestID() on bare request = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "tf_guest_id", Value: "g-cookie"})
	if got := ExtractGuestID(r); got != "g-cookie" {
		t.Errorf("ExtractGuestID() from cookie = %q", got)
	}

	r.Header.Set(GuestIDHeader, "g-header")
	if got := ExtractGuestID(r); got != "g-header" {
		t.Errorf("ExtractGuestID() header priority = %q", got)
	}
}

func TestIdentity_Owner(t *testing.T) {
	user := Identity{UserID: "u-1", Role: RoleUser}
	owner, err := user.Owner()
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	if owner.Kind != domain.OwnerKindUser || owner.UserID != "u-1" {
		t.Errorf("Owner() = %+v", owner)
	}

	guest := Identity{GuestID: "g-1"}
	owner, err = guest.Owner()
	if err != nil {
		t.Fatalf("Owner() error = %v", err)
	}
	if owner.Kind != domain.OwnerKindGuest || owner.GuestID != "g-1" {
		t.Errorf("Owner() = %+v", owner)
	}

	if _, err := (Identity{}).Owner(); err == nil {
		t.Error("Owner() on empty identity succeeded")
	}
}

func TestIdentity_Helpers(t *testing.T) {
	admin := Identity{UserID: "u-1", Role: RoleAdmin}
	if !admin.Authenticated() || !admin.IsAdmin() {
		t.Errorf("admin identity helpers = %v/%v", admin.Authenticated(), admin.IsAdmin())
	}
	if got := admin.RateLimitKey(); got != "user:u-1" {
		t.Errorf("RateLimitKey() = %q", got)
	}

	guest := Identity{GuestID: "g-1", IPAddress: "198.51.100.7"}
	if guest.Authenticated() || guest.IsAdmin() {
		t.Error("guest identity reports authenticated")
	}
	if got := guest.RateLimitKey(); got != "ip:198.51.100.7" {
		t.Errorf("RateLimitKey() = %q", got)
	}

	if got := (Identity{}).RateLimitKey(); got != "ip:unknown" {
		t.Errorf("RateLimitKey() on empty identity = %q", got)
	}
}

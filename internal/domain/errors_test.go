package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want int
	}{
		{"validation", ErrValidation("bad input"), http.StatusBadRequest},
		{"authentication", ErrAuthentication("no token"), http.StatusUnauthorized},
		{"authorization", ErrAuthorization("not yours"), http.StatusForbidden},
		{"not found", ErrNotFound("no such session"), http.StatusNotFound},
		{"rate limit", ErrRateLimit("slow down", 30), http.StatusTooManyRequests},
		{"security", ErrSecurity("csrf check failed"), http.StatusForbidden},
		{"internal", ErrInternal("something broke"), http.StatusInternalServerError},
		{"explicit override", ErrValidation("teapot").WithStatusCode(http.StatusTeapot), http.StatusTeapot},
		{"unknown type defaults to 500", NewAPIError(ErrorType("mystery"), "x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := ErrRateLimit("too many requests", 12)
	want := "rate_limit (rate_limit_exceeded): too many requests"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	plain := ErrNotFound("session not found")
	if plain.Error() != "not_found: session not found" {
		t.Errorf("Error() = %q", plain.Error())
	}
}

func TestErrRateLimit_RetryAfter(t *testing.T) {
	err := ErrRateLimit("limited", 45)
	if err.RetryAfter != 45 {
		t.Errorf("RetryAfter = %d, want 45", err.RetryAfter)
	}
	if err.Code != ErrorCodeRateLimitExceeded {
		t.Errorf("Code = %q, want %q", err.Code, ErrorCodeRateLimitExceeded)
	}
}

func TestAsAPIError(t *testing.T) {
	base := ErrSecurity("blocked")
	wrapped := fmt.Errorf("stage failed: %w", base)

	got, ok := AsAPIError(wrapped)
	if !ok {
		t.Fatal("AsAPIError() did not find wrapped error")
	}
	if got.Type != ErrorTypeSecurity {
		t.Errorf("Type = %q, want %q", got.Type, ErrorTypeSecurity)
	}

	if _, ok := AsAPIError(errors.New("plain")); ok {
		t.Error("AsAPIError() matched a plain error")
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/tripfolio/server/internal/domain"
)

// maxRequestBody caps inbound JSON payloads. Chat messages and itineraries
// are small; anything near this size is abuse.
const maxRequestBody = 1 << 20

// errorEnvelope is the machine-readable failure shape. Success responses
// are endpoint-specific and never wrapped.
type errorEnvelope struct {
	Success bool             `json:"success"`
	Error   *domain.APIError `json:"error"`
}

// writeJSON encodes v with the given status. Encoding failures after the
// header is written can only be logged, not reported.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// The status line is already on the wire; nothing to do.
		_ = err
	}
}

// writeError maps err onto the error envelope. Non-API errors collapse to
// a generic 500 so internal detail never crosses the boundary. The error
// is also attached to the request log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)

	apiErr, ok := domain.AsAPIError(err)
	if !ok {
		apiErr = domain.ErrInternal("internal server error")
	}
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", itoa(int64(apiErr.RetryAfter)))
	}
	writeJSON(w, apiErr.HTTPStatusCode(), errorEnvelope{Success: false, Error: apiErr})
}

// decodeJSON parses the request body into dst, rejecting unknown fields.
// The strictness is the schema-validation stage of the gateway: payload
// shapes are closed, so a typo'd or smuggled field is a client error, not
// something to silently drop.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return domain.ErrValidation("request body too large")
		}
		return domain.ErrValidation("request body is not valid JSON")
	}
	return nil
}

// queryInt reads an integer query parameter, returning def when absent or
// unparseable.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

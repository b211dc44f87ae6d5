package relay

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	// ErrUnauthorized is a missing or wrong bearer token
	ErrUnauthorized = errors.New("invalid or missing bearer token")

	// ErrNotReady means no agent has been installed in the handle
	ErrNotReady = errors.New("MCP Agent not initialized")

	// ErrBadRequest is a body that is not a query
	ErrBadRequest = errors.New("bad request")

	// ErrRateLimited is returned when a client exceeds the per-minute budget
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Error kinds carried in ErrorResponse.Error
const (
	KindUnauthorized     = "unauthorized"
	KindNotReady         = "not_ready"
	KindDelegationFailed = "delegation_failed"
	KindBadRequest       = "bad_request"
	KindRateLimited      = "rate_limited"
	KindNotFound         = "not_found"
	KindMethodNotAllowed = "method_not_allowed"
	KindUnavailable      = "unavailable"
	KindInternal         = "internal_error"
)

// classify maps a relay error to its HTTP status and kind. Anything unrecognised is a
// failed delegation.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, KindUnauthorized
	case errors.Is(err, ErrNotReady):
		return http.StatusInternalServerError, KindNotReady
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, KindBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, KindRateLimited
	default:
		return http.StatusInternalServerError, KindDelegationFailed
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError sends the JSON error schema
func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, ErrorResponse{
		Status: "error",
		Error:  kind,
		Detail: detail,
	})
}

// writeErr classifies err and sends it with its own message as detail
func writeErr(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	writeError(w, status, kind, err.Error())
}

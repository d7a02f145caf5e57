package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes clients can switch on.
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeNotFound            = "not_found"
	ErrCodeUnauthorized        = "unauthorised"
	ErrCodeForbidden           = "forbidden"
	ErrCodeConflict            = "conflict"
	ErrCodeInternal            = "internal_error"
	ErrCodeValidation          = "validation_error"
	ErrCodeAuthFailed          = "auth_failed"
	ErrCodeInvalidSecondFactor = "invalid_second_factor"
	ErrCodeRateLimited         = "rate_limited"
)

// authErrors maps identity sentinels to responses, first match wins. An
// empty message echoes the error text, which the auth package keeps free of
// secrets.
var authErrors = []struct {
	target  error
	status  int
	code    string
	message string
}{
	{auth.ErrValidation, http.StatusBadRequest, ErrCodeValidation, ""},
	{auth.ErrInvalidSecondFactor, http.StatusUnauthorized, ErrCodeInvalidSecondFactor, "invalid second factor code"},
	{auth.ErrAuthFailed, http.StatusUnauthorized, ErrCodeAuthFailed, "authentication failed"},
	{auth.ErrUnauthorized, http.StatusForbidden, ErrCodeForbidden, "operation is restricted to local callers"},
	{auth.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, ""},
	{auth.ErrAlreadyExists, http.StatusConflict, ErrCodeConflict, ""},
	{auth.ErrRateLimited, http.StatusTooManyRequests, ErrCodeRateLimited, "too many login attempts"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAuthError answers with the response mapped to err. Anything
// unmapped is a store failure: it is logged with the request ID and
// reported as a bare 500.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range authErrors {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, m.status, m.code, msg)
		return
	}

	s.logger.Error("identity operation failed",
		"error", err,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
	)
	writeInternalError(w, "internal server error")
}

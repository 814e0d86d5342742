// Package api holds the shared HTTP response envelope and error codes.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"
)

// Error codes surfaced to authenticated callers. Authorization failures never
// reach this level of detail; the middleware returns a single generic code.
const (
	CodeValidationError        = "VALIDATION_ERROR"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeUnauthorizedAccess     = "UNAUTHORIZED_ACCESS"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeSessionExpired         = "SESSION_EXPIRED"
	CodeCannotTerminateCurrent = "CANNOT_TERMINATE_CURRENT_SESSION"
	CodeAccountLocked          = "ACCOUNT_LOCKED"
	CodeWeakPassword           = "WEAK_PASSWORD"
	CodePasswordReused         = "PASSWORD_REUSED"
	CodeInvalidCurrentPassword = "INVALID_CURRENT_PASSWORD"
	CodeRateLimited            = "RATE_LIMITED"
	CodeNotFound               = "NOT_FOUND"
	CodeStoreUnavailable       = "STORE_UNAVAILABLE"
	CodeInternalError          = "INTERNAL_ERROR"
)

// Response is the standard API envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *Error      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Error is the error detail inside the envelope.
type Error struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// WriteSuccess writes a successful JSON response
func WriteSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// WriteError writes an error JSON response
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	WriteErrorDetails(w, statusCode, code, message, nil)
}

// WriteErrorDetails writes an error JSON response with field details
func WriteErrorDetails(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}

// GetClientIP extracts the client IP address from the request, preferring
// proxy headers over the socket address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			xff = xff[:idx]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

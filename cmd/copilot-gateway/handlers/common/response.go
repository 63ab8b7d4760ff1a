// Package common holds the response envelope and error mapping shared by the API handlers
package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/oauth"
	"github.com/wrale/copilot-device-gateway/internal/session"
	"github.com/wrale/copilot-device-gateway/internal/validation"
)

// Response codes carried in the envelope
const (
	CodeOK                = "ok"
	CodeInvalidRequest    = "invalid_request"
	CodeUnknownDeviceCode = "unknown_device_code"
	CodeExpiredToken      = deviceflow.ErrorCodeExpiredToken
	CodeAccessDenied      = deviceflow.ErrorCodeAccessDenied
	CodeTimeout           = "timeout"
	CodeProviderError     = "provider_error"
	CodeExchangeFailed    = "exchange_failed"
	CodeInvalidSession    = "invalid_session"
	CodeSessionNotFound   = "session_not_found"
	CodeUpstreamError     = "upstream_error"
	CodeRateLimited       = "rate_limited"
	CodeServerError       = "server_error"
)

// Now is the time source for envelope timestamps
var Now = time.Now

// Envelope wraps every API response
type Envelope struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id"`
	Success   bool      `json:"success"`
}

// SetJSONHeaders disables caching of responses that may carry tokens
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// TraceID returns the request id assigned by chi's RequestID middleware,
// or a fresh UUID when the middleware is not installed
func TraceID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

// WriteJSON sends data in a successful envelope with status 200
func WriteJSON(w http.ResponseWriter, r *http.Request, data any) {
	write(w, r, http.StatusOK, Envelope{
		Code:    CodeOK,
		Message: "Success",
		Data:    data,
		Success: true,
	})
}

// WriteStatus sends an unsuccessful envelope with an explicit status and code
func WriteStatus(w http.ResponseWriter, r *http.Request, status int, code, message string, data any) {
	write(w, r, status, Envelope{
		Code:    code,
		Message: strings.TrimSpace(message),
		Data:    data,
	})
}

// WriteError maps err to a status and code and sends it.
// Internal errors are not echoed to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	WriteStatus(w, r, status, code, message, nil)
}

// RateLimited answers requests rejected by the rate limiter
func RateLimited(w http.ResponseWriter, r *http.Request) {
	WriteStatus(w, r, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, please slow down", nil)
}

func write(w http.ResponseWriter, r *http.Request, status int, env Envelope) {
	SetJSONHeaders(w)
	env.Timestamp = Now().UTC()
	env.TraceID = TraceID(r)
	render.Status(r, status)
	render.JSON(w, r, env)
}

// StatusFor maps an error to its HTTP status and envelope code
func StatusFor(err error) (int, string) {
	var (
		verr *validation.ValidationError
		perr *deviceflow.ProtocolError
	)

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusUnauthorized, CodeInvalidSession
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, CodeSessionNotFound
	case errors.Is(err, session.ErrUpstream):
		return http.StatusBadGateway, CodeUpstreamError
	case errors.Is(err, deviceflow.ErrUnknownDeviceCode):
		return http.StatusNotFound, CodeUnknownDeviceCode
	case errors.Is(err, deviceflow.ErrDenied):
		return http.StatusForbidden, CodeAccessDenied
	case errors.Is(err, deviceflow.ErrExpired):
		return http.StatusGone, CodeExpiredToken
	case errors.As(err, &perr):
		return http.StatusBadRequest, perr.Code
	case errors.Is(err, deviceflow.ErrTimeout):
		return http.StatusRequestTimeout, CodeTimeout
	case errors.Is(err, copilot.ErrExchange):
		return http.StatusBadGateway, CodeExchangeFailed
	case errors.Is(err, deviceflow.ErrProvider), errors.Is(err, oauth.ErrProviderUnavailable):
		return http.StatusBadGateway, CodeProviderError
	default:
		return http.StatusInternalServerError, CodeServerError
	}
}

// DecodeJSON binds the request body into v
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return &validation.ValidationError{Field: "body", Message: "required"}
	}
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return &validation.ValidationError{Field: "body", Message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}

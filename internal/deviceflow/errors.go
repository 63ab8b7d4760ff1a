package deviceflow

import (
	"errors"
	"fmt"
)

// Error codes returned by the token endpoint per RFC 8628 section 3.5
const (
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeExpiredToken         = "expired_token"
)

// Common errors that may occur during the device authorization flow
var (
	// ErrProvider indicates the provider was unreachable or sent a malformed response
	ErrProvider = errors.New("provider error")

	// ErrUnknownDeviceCode indicates the device code was never issued or is already resolved
	ErrUnknownDeviceCode = errors.New("unknown device code")

	// ErrExpired indicates the device code expired before the user authorized
	ErrExpired = errors.New("device code expired")

	// ErrDenied indicates the user declined the authorization request
	ErrDenied = errors.New("authorization denied")

	// ErrTimeout indicates polling gave up before the flow resolved
	ErrTimeout = errors.New("polling timed out")
)

// ProtocolError is a terminal error object returned by the token endpoint
type ProtocolError struct {
	Code        string
	Description string
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("device flow error: %s", e.Code)
	}
	return fmt.Sprintf("device flow error: %s: %s", e.Code, e.Description)
}

// Unwrap maps the well-known codes onto their sentinels
func (e *ProtocolError) Unwrap() error {
	switch e.Code {
	case ErrorCodeAccessDenied:
		return ErrDenied
	case ErrorCodeExpiredToken:
		return ErrExpired
	}
	return nil
}

func providerError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProvider, fmt.Sprintf(format, args...))
}

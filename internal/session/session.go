// Package session keeps authenticated Copilot sessions and routes chat calls through them
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/wrale/copilot-device-gateway/internal/copilot"
)

// Common errors returned by the manager
var (
	// ErrNotFound indicates no session exists with the given id
	ErrNotFound = errors.New("session not found")

	// ErrInvalidSession indicates the session is unknown or its credential expired
	ErrInvalidSession = errors.New("invalid or expired session")

	// ErrInvalidCredential indicates Create was given a credential without a token
	ErrInvalidCredential = errors.New("credential has no token")

	// ErrUpstream matches any *UpstreamError
	ErrUpstream = errors.New("upstream request failed")
)

// UpstreamError wraps a failure of the chat API
type UpstreamError struct {
	SessionID string
	Cause     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed: %v", e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrUpstream) match without losing the cause
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Session is an authenticated user bound to an exchanged credential
type Session struct {
	ID          string             `json:"id"`
	AccessToken string             `json:"access_token"`
	Credential  copilot.Credential `json:"credential"`
	CreatedAt   time.Time          `json:"created_at"`
}

// ExpiresAt is the expiry of the exchanged credential
func (s *Session) ExpiresAt() time.Time {
	return s.Credential.ExpiresAt
}

// Valid reports whether the session can be used at now
func (s *Session) Valid(now time.Time) bool {
	return s.Credential.Valid(now)
}

// Package oauth provides the HTTP transport used to talk to the identity
// provider and the protected APIs behind it
package oauth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Common errors returned by the client
var (
	ErrProviderUnavailable = errors.New("oauth provider unavailable")
	ErrEmptyResponse       = errors.New("empty response body")
)

// ErrorResponse is the OAuth 2.0 error object per RFC 6749 section 5.2
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// StatusError reports a non-2xx response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}

// Credential wraps a raw secret as an oauth2 token. scheme selects the
// Authorization header scheme; empty means Bearer.
func Credential(secret, scheme string) *oauth2.Token {
	return &oauth2.Token{AccessToken: secret, TokenType: scheme}
}

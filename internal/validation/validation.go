// Package validation checks identifiers and chat input received by the API
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation settings
const (
	MaxDeviceCodeLength = 256
	MaxMessageLength    = 32 * 1024 // bytes
	MaxMessages         = 100
)

var (
	// RFC 6749 appendix A.3 allows visible ASCII; providers use far less
	deviceCodeRegex = regexp.MustCompile(`^[A-Za-z0-9._~+/=-]+$`)

	validRoles = map[string]bool{"system": true, "user": true, "assistant": true}
)

// ValidationError represents an input validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateDeviceCode checks that a device code is present and well formed
func ValidateDeviceCode(code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return &ValidationError{Field: "device_code", Message: "required"}
	}
	if len(code) > MaxDeviceCodeLength {
		return &ValidationError{
			Field:   "device_code",
			Message: fmt.Sprintf("must be at most %d characters", MaxDeviceCodeLength),
		}
	}
	if !deviceCodeRegex.MatchString(code) {
		return &ValidationError{Field: "device_code", Message: "contains invalid characters"}
	}
	return nil
}

// ValidateSessionID checks that id is a UUID as issued by the session manager
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "session_id", Message: "required"}
	}
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: "session_id", Message: "must be a UUID"}
	}
	return nil
}

// ValidateMessage checks a single chat message body
func ValidateMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "message", Message: "required"}
	}
	if len(content) > MaxMessageLength {
		return &ValidationError{
			Field:   "message",
			Message: fmt.Sprintf("must be at most %d bytes", MaxMessageLength),
		}
	}
	if !utf8.ValidString(content) {
		return &ValidationError{Field: "message", Message: "must be valid UTF-8"}
	}
	return nil
}

// ValidateRole checks a chat message role
func ValidateRole(role string) error {
	if !validRoles[role] {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("unsupported role %q", role)}
	}
	return nil
}

// ValidateHistoryLength bounds the number of messages in a conversation
func ValidateHistoryLength(n int) error {
	if n == 0 {
		return &ValidationError{Field: "messages", Message: "required"}
	}
	if n > MaxMessages {
		return &ValidationError{
			Field:   "messages",
			Message: fmt.Sprintf("must contain at most %d messages", MaxMessages),
		}
	}
	return nil
}

// ParseAuthorization extracts the credential from an Authorization header.
// Both "Bearer <token>" and GitHub's "token <token>" forms are accepted.
func ParseAuthorization(header string) (string, error) {
	scheme, credential, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return "", &ValidationError{Field: "authorization", Message: "expected \"<scheme> <token>\""}
	}

	switch strings.ToLower(scheme) {
	case "bearer", "token":
	default:
		return "", &ValidationError{Field: "authorization", Message: fmt.Sprintf("unsupported scheme %q", scheme)}
	}

	credential = strings.TrimSpace(credential)
	if credential == "" || strings.ContainsAny(credential, " \t") {
		return "", &ValidationError{Field: "authorization", Message: "malformed token"}
	}
	return credential, nil
}

package deviceflow

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/wrale/copilot-device-gateway/internal/oauth"
)

// GrantType is the grant_type sent to the token endpoint per RFC 8628 section 3.4
const GrantType = "urn:ietf:params:oauth:grant-type:device_code"

// DeviceAuthorization is what the user needs to complete the flow per RFC 8628 section 3.2
type DeviceAuthorization struct {
	DeviceCode      string        `json:"device_code"`
	UserCode        string        `json:"user_code"`
	VerificationURI string        `json:"verification_uri"`
	Interval        time.Duration `json:"-"`
	ExpiresIn       int           `json:"expires_in"`

	// Optional per RFC 8628 section 3.3.1
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
}

// Message is the instruction shown to the user
func (d *DeviceAuthorization) Message() string {
	return fmt.Sprintf("Please visit %s and enter the code: %s", d.VerificationURI, d.UserCode)
}

// PendingAuthorization tracks an in-flight flow, keyed by device code
type PendingAuthorization struct {
	ExpiresAt time.Time     `json:"expires_at"`
	Interval  time.Duration `json:"interval"`
}

// AccessToken is the provider token produced by a completed flow
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// OAuth2 converts the token for use as an Authorization credential
func (t *AccessToken) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{AccessToken: t.AccessToken, TokenType: t.TokenType}
	if t.Scope != "" {
		tok = tok.WithExtra(map[string]any{"scope": t.Scope})
	}
	return tok
}

// State is the outcome of a single status probe
type State string

const (
	StatePending   State = "pending"
	StateSlowDown  State = "slow_down"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Status is the result of PollStatus
type Status struct {
	State       State        `json:"status"`
	Token       *AccessToken `json:"-"`
	Error       string       `json:"error,omitempty"`
	Description string       `json:"error_description,omitempty"`
}

// tokenResponse covers both the success and error shapes of RFC 8628 section 3.5
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	oauth.ErrorResponse
}

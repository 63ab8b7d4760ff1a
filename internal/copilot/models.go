// Package copilot exchanges provider access tokens for Copilot tokens and
// calls the chat completions API with them
package copilot

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// Common errors
var (
	// ErrExchange indicates the access token could not be exchanged
	ErrExchange = errors.New("credential exchange failed")

	// ErrUnexpectedResponse indicates the chat API answered in an unknown shape
	ErrUnexpectedResponse = errors.New("unexpected response format from chat API")
)

// Credential is a short-lived Copilot token
type Credential struct {
	Token              string        `json:"token"`
	ExpiresAt          time.Time     `json:"expires_at"`
	RefreshIn          time.Duration `json:"refresh_in,omitempty"`
	OrganizationID     string        `json:"organization_id,omitempty"`
	OrganizationScoped bool          `json:"organization_scoped,omitempty"`
	TrackingID         string        `json:"tracking_id,omitempty"`
}

// Valid reports whether the credential is still usable at now.
// A credential without an expiry is never valid.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && !c.ExpiresAt.IsZero() && now.Before(c.ExpiresAt)
}

// OAuth2 returns the credential as a bearer token
func (c Credential) OAuth2() *oauth2.Token {
	return &oauth2.Token{AccessToken: c.Token, TokenType: "Bearer", Expiry: c.ExpiresAt}
}

// Roles used in chat messages
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Choice is one completion returned by the chat API
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage reports token accounting
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is a chat completion response
type Reply struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Content returns the text of the first choice
func (r *Reply) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// tokenResponse is the wire format of the Copilot token endpoint
type tokenResponse struct {
	Token              string `json:"token"`
	ExpiresAt          int64  `json:"expires_at"`
	RefreshIn          int    `json:"refresh_in"`
	OrganizationID     string `json:"organization_id"`
	OrganizationScoped bool   `json:"organization_scoped"`
	TrackingID         string `json:"tracking_id"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// chatResponse accepts the OpenAI-style shape and a bare {"message": "..."} fallback
type chatResponse struct {
	Reply
	Message *string `json:"message"`
}

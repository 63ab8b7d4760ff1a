// Package test provides handler test doubles and response helpers
package test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/gateway"
	"github.com/wrale/copilot-device-gateway/internal/session"
)

// MockFlow provides a full implementation of deviceflow.Flow for testing
type MockFlow struct {
	InitiateFunc     func(ctx context.Context) (*deviceflow.DeviceAuthorization, error)
	PollForTokenFunc func(ctx context.Context, deviceCode string) (*deviceflow.AccessToken, error)
	PollStatusFunc   func(ctx context.Context, deviceCode string) (*deviceflow.Status, error)
	CheckHealthFunc  func(ctx context.Context) error
}

var _ deviceflow.Flow = (*MockFlow)(nil)

// Initiate implements deviceflow.Flow
func (m *MockFlow) Initiate(ctx context.Context) (*deviceflow.DeviceAuthorization, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx)
	}
	return nil, nil
}

// PollForToken implements deviceflow.Flow
func (m *MockFlow) PollForToken(ctx context.Context, deviceCode string) (*deviceflow.AccessToken, error) {
	if m.PollForTokenFunc != nil {
		return m.PollForTokenFunc(ctx, deviceCode)
	}
	return nil, deviceflow.ErrUnknownDeviceCode
}

// PollStatus implements deviceflow.Flow
func (m *MockFlow) PollStatus(ctx context.Context, deviceCode string) (*deviceflow.Status, error) {
	if m.PollStatusFunc != nil {
		return m.PollStatusFunc(ctx, deviceCode)
	}
	return &deviceflow.Status{State: deviceflow.StatePending}, nil
}

// CheckHealth implements deviceflow.Flow
func (m *MockFlow) CheckHealth(ctx context.Context) error {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx)
	}
	return nil
}

// MockAuthenticator stands in for gateway.Service
type MockAuthenticator struct {
	InitiateFunc        func(ctx context.Context) (*deviceflow.DeviceAuthorization, error)
	CompleteFunc        func(ctx context.Context, deviceCode string) (*gateway.Completion, error)
	IssueCredentialFunc func(ctx context.Context, accessToken string) (*copilot.Credential, error)
}

// Initiate starts a device flow
func (m *MockAuthenticator) Initiate(ctx context.Context) (*deviceflow.DeviceAuthorization, error) {
	if m.InitiateFunc != nil {
		return m.InitiateFunc(ctx)
	}
	return nil, nil
}

// Complete finishes a device flow
func (m *MockAuthenticator) Complete(ctx context.Context, deviceCode string) (*gateway.Completion, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, deviceCode)
	}
	return nil, deviceflow.ErrUnknownDeviceCode
}

// IssueCredential exchanges an access token
func (m *MockAuthenticator) IssueCredential(ctx context.Context, accessToken string) (*copilot.Credential, error) {
	if m.IssueCredentialFunc != nil {
		return m.IssueCredentialFunc(ctx, accessToken)
	}
	return nil, copilot.ErrExchange
}

// MockSessions stands in for session.Manager
type MockSessions struct {
	GetFunc        func(ctx context.Context, id string) (*session.Session, error)
	IsValidFunc    func(ctx context.Context, id string) bool
	InvalidateFunc func(ctx context.Context, id string) error
	ChatFunc       func(ctx context.Context, id, message string) (*copilot.Reply, error)
	ConverseFunc   func(ctx context.Context, id string, messages []copilot.Message) (*copilot.Reply, error)
}

// Get returns a session
func (m *MockSessions) Get(ctx context.Context, id string) (*session.Session, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, session.ErrNotFound
}

// IsValid reports session validity
func (m *MockSessions) IsValid(ctx context.Context, id string) bool {
	if m.IsValidFunc != nil {
		return m.IsValidFunc(ctx, id)
	}
	return false
}

// Invalidate removes a session
func (m *MockSessions) Invalidate(ctx context.Context, id string) error {
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, id)
	}
	return nil
}

// Chat sends a single message
func (m *MockSessions) Chat(ctx context.Context, id, message string) (*copilot.Reply, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, id, message)
	}
	return nil, session.ErrInvalidSession
}

// Converse sends a message history
func (m *MockSessions) Converse(ctx context.Context, id string, messages []copilot.Message) (*copilot.Reply, error) {
	if m.ConverseFunc != nil {
		return m.ConverseFunc(ctx, id, messages)
	}
	return nil, session.ErrInvalidSession
}

// Envelope mirrors the response envelope with the payload left undecoded
type Envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
	Success bool            `json:"success"`
}

// DecodeEnvelope parses a recorded response. When data is non-nil the
// payload is decoded into it.
func DecodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) Envelope {
	t.Helper()

	var env Envelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("failed to decode data: %v", err)
		}
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("missing Cache-Control: no-store header")
	}
	return env
}

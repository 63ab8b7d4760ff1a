package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common/test"
	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/gateway"
)

var expiry = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

func TestInitiate(t *testing.T) {
	auth := &test.MockAuthenticator{
		InitiateFunc: func(ctx context.Context) (*deviceflow.DeviceAuthorization, error) {
			return &deviceflow.DeviceAuthorization{
				DeviceCode:      "D1",
				UserCode:        "ABCD-1234",
				VerificationURI: "https://github.com/login/device",
				Interval:        5 * time.Second,
				ExpiresIn:       900,
			}, nil
		},
	}

	w := httptest.NewRecorder()
	New(auth, nil).Initiate(w, httptest.NewRequest(http.MethodPost, "/api/copilot/v1/auth/initiate", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got InitResponse
	env := test.DecodeEnvelope(t, w, &got)
	assert.True(t, env.Success)
	assert.Equal(t, InitResponse{
		DeviceCode:      "D1",
		UserCode:        "ABCD-1234",
		VerificationURI: "https://github.com/login/device",
		ExpiresIn:       900,
		Interval:        5,
		Message:         "Please visit https://github.com/login/device and enter the code: ABCD-1234",
	}, got)
}

func TestInitiate_ProviderFailure(t *testing.T) {
	auth := &test.MockAuthenticator{
		InitiateFunc: func(ctx context.Context) (*deviceflow.DeviceAuthorization, error) {
			return nil, fmt.Errorf("%w: connection refused", deviceflow.ErrProvider)
		},
	}

	w := httptest.NewRecorder()
	New(auth, nil).Initiate(w, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	env := test.DecodeEnvelope(t, w, nil)
	assert.False(t, env.Success)
	assert.Equal(t, "provider_error", env.Code)
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		completion *gateway.Completion
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "signed in",
			body:       `{"device_code":"D1"}`,
			completion: &gateway.Completion{SessionID: "s-1", CopilotToken: "tok_123", ExpiresAt: expiry},
			wantStatus: http.StatusOK,
			wantCode:   "ok",
		},
		{
			name:       "user denied",
			body:       `{"device_code":"D1"}`,
			err:        fmt.Errorf("waiting for authorization: %w", &deviceflow.ProtocolError{Code: "access_denied"}),
			wantStatus: http.StatusForbidden,
			wantCode:   "access_denied",
		},
		{
			name:       "code expired",
			body:       `{"device_code":"D1"}`,
			err:        fmt.Errorf("waiting for authorization: %w", deviceflow.ErrExpired),
			wantStatus: http.StatusGone,
			wantCode:   "expired_token",
		},
		{
			name:       "exchange failed",
			body:       `{"device_code":"D1"}`,
			err:        fmt.Errorf("exchanging access token: %w", copilot.ErrExchange),
			wantStatus: http.StatusBadGateway,
			wantCode:   "exchange_failed",
		},
		{
			name:       "missing device code",
			body:       `{"device_code":""}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &test.MockAuthenticator{
				CompleteFunc: func(ctx context.Context, deviceCode string) (*gateway.Completion, error) {
					assert.Equal(t, "D1", deviceCode)
					return tt.completion, tt.err
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/api/copilot/v1/auth/complete", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			New(auth, nil).Complete(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			var got CompleteResponse
			env := test.DecodeEnvelope(t, w, &got)
			assert.Equal(t, tt.wantCode, env.Code)

			if tt.completion != nil {
				assert.Equal(t, CompleteResponse{
					SessionID:    "s-1",
					CopilotToken: "tok_123",
					ExpiresAt:    expiry.Unix(),
					Message:      "Authentication successful",
				}, got)
			}
		})
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantToken  string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "token scheme", header: "token gho_xyz", wantToken: "gho_xyz", wantStatus: http.StatusOK, wantCode: "ok"},
		{name: "bearer scheme", header: "Bearer gho_xyz", wantToken: "gho_xyz", wantStatus: http.StatusOK, wantCode: "ok"},
		{name: "missing header", wantStatus: http.StatusBadRequest, wantCode: "invalid_request"},
		{
			name:       "rejected by provider",
			header:     "token gho_revoked",
			wantToken:  "gho_revoked",
			err:        fmt.Errorf("%w: status 401", copilot.ErrExchange),
			wantStatus: http.StatusBadGateway,
			wantCode:   "exchange_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			auth := &test.MockAuthenticator{
				IssueCredentialFunc: func(ctx context.Context, accessToken string) (*copilot.Credential, error) {
					called = true
					assert.Equal(t, tt.wantToken, accessToken)
					if tt.err != nil {
						return nil, tt.err
					}
					return &copilot.Credential{Token: "tok_123", ExpiresAt: expiry, RefreshIn: 25 * time.Minute}, nil
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/api/copilot/v1/token", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			New(auth, nil).Token(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantToken != "", called)

			var got CredentialResponse
			env := test.DecodeEnvelope(t, w, &got)
			assert.Equal(t, tt.wantCode, env.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, CredentialResponse{Token: "tok_123", ExpiresAt: expiry.Unix(), RefreshIn: 1500}, got)
			}
		})
	}
}

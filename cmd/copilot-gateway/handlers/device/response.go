// Package device serves the raw device authorization endpoints
package device

import (
	"go.uber.org/zap"

	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
)

// CodeResponse is returned when a flow is initiated
type CodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
	Message                 string `json:"message"`
}

// TokenResponse carries the provider access token
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// StatusResponse reports the outcome of a single status probe
type StatusResponse struct {
	Status           deviceflow.State `json:"status"`
	Error            string           `json:"error,omitempty"`
	ErrorDescription string           `json:"error_description,omitempty"`
	Token            *TokenResponse   `json:"token,omitempty"`
}

// TokenRequest is the body of a token request
type TokenRequest struct {
	DeviceCode string `json:"device_code"`
}

func newCodeResponse(code *deviceflow.DeviceAuthorization) CodeResponse {
	return CodeResponse{
		DeviceCode:              code.DeviceCode,
		UserCode:                code.UserCode,
		VerificationURI:         code.VerificationURI,
		VerificationURIComplete: code.VerificationURIComplete,
		ExpiresIn:               code.ExpiresIn,
		Interval:                int(code.Interval.Seconds()),
		Message:                 code.Message(),
	}
}

func newTokenResponse(tok *deviceflow.AccessToken) *TokenResponse {
	if tok == nil {
		return nil
	}
	return &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Scope:       tok.Scope,
	}
}

func nopIfNil(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}

// Package auth serves the Copilot sign-in endpoints
package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/gateway"
	"github.com/wrale/copilot-device-gateway/internal/validation"
)

// Authenticator is implemented by gateway.Service
type Authenticator interface {
	Initiate(ctx context.Context) (*deviceflow.DeviceAuthorization, error)
	Complete(ctx context.Context, deviceCode string) (*gateway.Completion, error)
	IssueCredential(ctx context.Context, accessToken string) (*copilot.Credential, error)
}

var _ Authenticator = (*gateway.Service)(nil)

// InitResponse tells the user where to authorize
type InitResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
	Message                 string `json:"message"`
}

// CompleteRequest is the body of a completion request
type CompleteRequest struct {
	DeviceCode string `json:"device_code"`
}

// CompleteResponse carries the new session. ExpiresAt is in Unix seconds.
type CompleteResponse struct {
	SessionID    string `json:"session_id"`
	CopilotToken string `json:"copilot_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Message      string `json:"message"`
}

// CredentialResponse is a Copilot token issued for a caller-held access token
type CredentialResponse struct {
	Token          string `json:"token"`
	ExpiresAt      int64  `json:"expires_at"`
	RefreshIn      int    `json:"refresh_in,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	TrackingID     string `json:"tracking_id,omitempty"`
}

// Handler serves sign-in requests
type Handler struct {
	auth   Authenticator
	logger *zap.SugaredLogger
}

// New creates a sign-in handler
func New(auth Authenticator, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{auth: auth, logger: logger}
}

// Initiate starts a device flow and returns the user instructions
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	code, err := h.auth.Initiate(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to initiate sign-in", "error", err)
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, InitResponse{
		DeviceCode:              code.DeviceCode,
		UserCode:                code.UserCode,
		VerificationURI:         code.VerificationURI,
		VerificationURIComplete: code.VerificationURIComplete,
		ExpiresIn:               code.ExpiresIn,
		Interval:                int(code.Interval.Seconds()),
		Message:                 code.Message(),
	})
}

// Complete waits for authorization and opens a session
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	req.DeviceCode = strings.TrimSpace(req.DeviceCode)
	if err := validation.ValidateDeviceCode(req.DeviceCode); err != nil {
		common.WriteError(w, r, err)
		return
	}

	done, err := h.auth.Complete(r.Context(), req.DeviceCode)
	if err != nil {
		h.logger.Warnw("Sign-in failed", "error", err)
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, CompleteResponse{
		SessionID:    done.SessionID,
		CopilotToken: done.CopilotToken,
		ExpiresAt:    done.ExpiresAt.Unix(),
		Message:      "Authentication successful",
	})
}

// Token exchanges the access token in the Authorization header for a Copilot token
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	accessToken, err := validation.ParseAuthorization(r.Header.Get("Authorization"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}

	cred, err := h.auth.IssueCredential(r.Context(), accessToken)
	if err != nil {
		h.logger.Warnw("Credential exchange failed", "error", err)
		common.WriteError(w, r, err)
		return
	}

	common.WriteJSON(w, r, CredentialResponse{
		Token:          cred.Token,
		ExpiresAt:      cred.ExpiresAt.Unix(),
		RefreshIn:      int(cred.RefreshIn.Seconds()),
		OrganizationID: cred.OrganizationID,
		TrackingID:     cred.TrackingID,
	})
}

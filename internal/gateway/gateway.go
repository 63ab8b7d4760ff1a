// Package gateway ties the device flow, the credential exchange and the
// session manager into a single sign-in operation
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
)

// Exchanger trades an access token for a Copilot credential
type Exchanger interface {
	Exchange(ctx context.Context, token *oauth2.Token) (*copilot.Credential, error)
}

// SessionCreator stores a new session for an exchanged credential
type SessionCreator interface {
	Create(ctx context.Context, accessToken string, cred copilot.Credential) (string, error)
}

// Completion is the result of a successful sign-in
type Completion struct {
	SessionID    string    `json:"session_id"`
	CopilotToken string    `json:"copilot_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Service runs the sign-in sequence
type Service struct {
	flow      deviceflow.Flow
	exchanger Exchanger
	sessions  SessionCreator
	logger    *zap.SugaredLogger
}

// NewService creates a gateway service. A nil logger disables logging.
func NewService(flow deviceflow.Flow, exchanger Exchanger, sessions SessionCreator, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		flow:      flow,
		exchanger: exchanger,
		sessions:  sessions,
		logger:    logger,
	}
}

// Initiate starts a device flow
func (s *Service) Initiate(ctx context.Context) (*deviceflow.DeviceAuthorization, error) {
	return s.flow.Initiate(ctx)
}

// Complete waits for the user to authorize deviceCode, exchanges the access
// token and opens a session
func (s *Service) Complete(ctx context.Context, deviceCode string) (*Completion, error) {
	tok, err := s.flow.PollForToken(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("waiting for authorization: %w", err)
	}

	cred, err := s.exchanger.Exchange(ctx, tok.OAuth2())
	if err != nil {
		return nil, fmt.Errorf("exchanging access token: %w", err)
	}

	id, err := s.sessions.Create(ctx, tok.AccessToken, *cred)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Infow("Sign-in completed", "sessionID", id)
	return &Completion{
		SessionID:    id,
		CopilotToken: cred.Token,
		ExpiresAt:    cred.ExpiresAt,
	}, nil
}

// IssueCredential exchanges an access token obtained elsewhere
func (s *Service) IssueCredential(ctx context.Context, accessToken string) (*copilot.Credential, error) {
	return s.exchanger.Exchange(ctx, &oauth2.Token{AccessToken: accessToken})
}

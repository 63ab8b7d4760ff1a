package copilot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/wrale/copilot-device-gateway/internal/metrics"
	"github.com/wrale/copilot-device-gateway/internal/oauth"
)

// DefaultAuthScheme is the Authorization scheme GitHub expects on the token endpoint
const DefaultAuthScheme = "token"

// Exchanger trades a provider access token for a Copilot credential
type Exchanger struct {
	client   *oauth.Client
	tokenURL string
	scheme   string
	logger   *zap.SugaredLogger
}

// ExchangerOption configures an Exchanger
type ExchangerOption func(*Exchanger)

// WithAuthScheme overrides the Authorization scheme sent with the access token.
// Empty keeps the token's own type.
func WithAuthScheme(scheme string) ExchangerOption {
	return func(e *Exchanger) {
		e.scheme = scheme
	}
}

// WithExchangeLogger sets the logger
func WithExchangeLogger(logger *zap.SugaredLogger) ExchangerOption {
	return func(e *Exchanger) {
		e.logger = logger
	}
}

// NewExchanger creates an exchanger for the given token endpoint
func NewExchanger(client *oauth.Client, tokenURL string, opts ...ExchangerOption) *Exchanger {
	e := &Exchanger{
		client:   client,
		tokenURL: tokenURL,
		scheme:   DefaultAuthScheme,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exchange performs a single authorized GET against the token endpoint. It does not retry.
func (e *Exchanger) Exchange(ctx context.Context, token *oauth2.Token) (*Credential, error) {
	cred, err := e.exchange(ctx, token)
	if err != nil {
		metrics.CredentialExchanges.WithLabelValues("failed").Inc()
		e.logger.Warnw("Credential exchange failed", "error", err)
		return nil, err
	}

	metrics.CredentialExchanges.WithLabelValues("success").Inc()
	e.logger.Infow("Obtained Copilot token", "expiresAt", cred.ExpiresAt)
	return cred, nil
}

func (e *Exchanger) exchange(ctx context.Context, token *oauth2.Token) (*Credential, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrExchange)
	}

	authz := token
	if e.scheme != "" {
		authz = oauth.Credential(token.AccessToken, e.scheme)
	}

	resp, err := e.client.Get(ctx, e.tokenURL, authz)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: %w", ErrExchange, resp.StatusError())
	}

	var body tokenResponse
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchange, err)
	}
	if body.Token == "" {
		return nil, fmt.Errorf("%w: response missing token", ErrExchange)
	}

	cred := &Credential{
		Token:              body.Token,
		RefreshIn:          time.Duration(body.RefreshIn) * time.Second,
		OrganizationID:     body.OrganizationID,
		OrganizationScoped: body.OrganizationScoped,
		TrackingID:         body.TrackingID,
	}
	if body.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(body.ExpiresAt, 0).UTC()
	}
	return cred, nil
}

package deviceflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/wrale/copilot-device-gateway/internal/metrics"
	"github.com/wrale/copilot-device-gateway/internal/oauth"
	"github.com/wrale/copilot-device-gateway/internal/store"
)

const (
	// DefaultPollInterval is used when the provider omits interval, per RFC 8628 section 3.2
	DefaultPollInterval = 5 * time.Second

	// DefaultMaxAttempts bounds PollForToken round trips
	DefaultMaxAttempts = 60

	// pendingGrace keeps a pending entry readable past its expiry so callers
	// see ErrExpired instead of ErrUnknownDeviceCode
	pendingGrace = time.Minute
)

// Flow is the client side of the device authorization grant
type Flow interface {
	// Initiate requests a device and user code from the provider
	Initiate(ctx context.Context) (*DeviceAuthorization, error)

	// PollForToken blocks until the user authorizes, the code expires,
	// the provider reports a terminal error, or polling gives up
	PollForToken(ctx context.Context, deviceCode string) (*AccessToken, error)

	// PollStatus performs at most one token endpoint round trip and reports the outcome
	PollStatus(ctx context.Context, deviceCode string) (*Status, error)

	// CheckHealth verifies the backing stores
	CheckHealth(ctx context.Context) error
}

// Endpoints are the provider URLs used by the flow
type Endpoints struct {
	DeviceAuthURL string
	TokenURL      string
}

type flowImpl struct {
	client    *oauth.Client
	config    *oauth2.Config
	clientID  string
	endpoints Endpoints

	pending store.Store[PendingAuthorization]
	tokens  store.Store[AccessToken]

	scope        string
	pollInterval time.Duration
	maxAttempts  int
	pollTimeout  time.Duration
	clock        clock.Clock
	logger       *zap.SugaredLogger
}

// NewFlow creates a device flow client. pending and tokens must not be shared
// with other components.
func NewFlow(client *oauth.Client, clientID string, endpoints Endpoints, pending store.Store[PendingAuthorization], tokens store.Store[AccessToken], opts ...Option) Flow {
	f := &flowImpl{
		client:       client,
		clientID:     clientID,
		endpoints:    endpoints,
		pending:      pending,
		tokens:       tokens,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		clock:        clock.RealClock{},
		logger:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.pollInterval <= 0 {
		f.pollInterval = DefaultPollInterval
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = DefaultMaxAttempts
	}

	f.config = &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: endpoints.DeviceAuthURL,
			TokenURL:      endpoints.TokenURL,
		},
	}
	if f.scope != "" {
		// GitHub takes a comma separated list in a single value
		f.config.Scopes = []string{f.scope}
	}

	return f
}

// Initiate sends one device authorization request per RFC 8628 section 3.1.
// Failures are not retried.
func (f *flowImpl) Initiate(ctx context.Context) (*DeviceAuthorization, error) {
	auth, err := f.requestDeviceCode(ctx)
	if err != nil {
		metrics.DeviceAuthorizations.WithLabelValues("failed").Inc()
		return nil, err
	}

	pending := PendingAuthorization{ExpiresAt: auth.ExpiresAt, Interval: auth.Interval}
	ttl := time.Duration(auth.ExpiresIn)*time.Second + pendingGrace
	if err := f.pending.Put(ctx, auth.DeviceCode, pending, ttl); err != nil {
		metrics.DeviceAuthorizations.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("registering pending authorization: %w", err)
	}

	metrics.DeviceAuthorizations.WithLabelValues("issued").Inc()
	f.logger.Infow("Device authorization issued",
		"userCode", auth.UserCode,
		"expiresIn", auth.ExpiresIn,
		"interval", auth.Interval)

	return auth, nil
}

func (f *flowImpl) requestDeviceCode(ctx context.Context) (*DeviceAuthorization, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client.HTTPClient())

	resp, err := f.config.DeviceAuth(ctx)
	if err != nil {
		return nil, deviceAuthError(err)
	}

	// Expiry is stamped with the wall clock when the response is decoded
	expiresIn := int(math.Round(time.Until(resp.Expiry).Seconds()))

	switch {
	case resp.DeviceCode == "":
		return nil, providerError("response missing device_code")
	case resp.UserCode == "":
		return nil, providerError("response missing user_code")
	case resp.Expiry.IsZero() || expiresIn <= 0:
		return nil, providerError("invalid expires_in %d", expiresIn)
	}

	verificationURI, verificationURIComplete, err := verificationURIs(resp.VerificationURI, resp.VerificationURIComplete)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	interval := time.Duration(resp.Interval) * time.Second
	if interval <= 0 {
		interval = f.pollInterval
	}

	return &DeviceAuthorization{
		DeviceCode:              resp.DeviceCode,
		UserCode:                resp.UserCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURIComplete,
		Interval:                interval,
		ExpiresIn:               expiresIn,
		ExpiresAt:               f.clock.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// deviceAuthError maps a DeviceAuth failure onto ErrProvider, keeping the
// provider's error object when the response carried one
func deviceAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("%w: requesting device code: %w: %w", ErrProvider, oauth.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%w: requesting device code: %w", ErrProvider, err)
	}

	var body oauth.ErrorResponse
	if json.Unmarshal(retrieveErr.Body, &body) == nil && body.Error != "" {
		return providerError("device code request rejected: %s %s", body.Error, body.ErrorDescription)
	}

	status := &oauth.StatusError{Body: string(retrieveErr.Body)}
	if retrieveErr.Response != nil {
		status.StatusCode = retrieveErr.Response.StatusCode
	}
	return fmt.Errorf("%w: requesting device code: %w", ErrProvider, status)
}

// CheckHealth verifies both stores are reachable
func (f *flowImpl) CheckHealth(ctx context.Context) error {
	if err := f.pending.CheckHealth(ctx); err != nil {
		return fmt.Errorf("pending store: %w", err)
	}
	if err := f.tokens.CheckHealth(ctx); err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	return nil
}

// removePending drops the pending entry; a failure only leaves it to expire
func (f *flowImpl) removePending(ctx context.Context, deviceCode string) {
	if err := f.pending.Remove(ctx, deviceCode); err != nil {
		f.logger.Warnw("Failed to remove pending authorization", "error", err)
	}
}

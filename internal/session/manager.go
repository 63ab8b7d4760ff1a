package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/metrics"
	"github.com/wrale/copilot-device-gateway/internal/store"
)

// DefaultRetention keeps a session readable after its credential expires
const DefaultRetention = time.Hour

// Chatter is the chat API used by sessions
type Chatter interface {
	Complete(ctx context.Context, token *oauth2.Token, messages []copilot.Message) (*copilot.Reply, error)
}

// Manager owns the session store
type Manager struct {
	store     store.Store[Session]
	chat      Chatter
	clock     clock.PassiveClock
	retention time.Duration
	logger    *zap.SugaredLogger
}

// Option configures the manager
type Option func(*Manager)

// WithClock replaces the clock used for validity checks
func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRetention sets how long an expired session stays readable
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		m.retention = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session manager backed by st
func NewManager(st store.Store[Session], chat Chatter, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		chat:      chat,
		clock:     clock.RealClock{},
		retention: DefaultRetention,
		logger:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create stores a new session and returns its id
func (m *Manager) Create(ctx context.Context, accessToken string, cred copilot.Credential) (string, error) {
	if cred.Token == "" {
		return "", ErrInvalidCredential
	}

	now := m.clock.Now()
	s := Session{
		ID:          uuid.NewString(),
		AccessToken: accessToken,
		Credential:  cred,
		CreatedAt:   now,
	}

	ttl := m.retention
	if !cred.ExpiresAt.IsZero() && cred.ExpiresAt.After(now) {
		ttl += cred.ExpiresAt.Sub(now)
	}
	if err := m.store.Put(ctx, s.ID, s, ttl); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}

	metrics.SessionCreated.Inc()
	m.logger.Infow("Session created", "sessionID", s.ID, "expiresAt", cred.ExpiresAt)
	return s.ID, nil
}

// Get returns the session, valid or not
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	s, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

// IsValid reports whether the session exists and its credential has not expired
func (m *Manager) IsValid(ctx context.Context, id string) bool {
	s, err := m.Get(ctx, id)
	if err != nil {
		return false
	}
	return s.Valid(m.clock.Now())
}

// Invalidate removes the session. Unknown ids are ignored.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	if err := m.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	metrics.SessionInvalidated.Inc()
	m.logger.Infow("Session invalidated", "sessionID", id)
	return nil
}

// Chat sends a single user message
func (m *Manager) Chat(ctx context.Context, id, message string) (*copilot.Reply, error) {
	return m.Converse(ctx, id, copilot.UserMessage(message))
}

// Converse sends a caller-supplied message history
func (m *Manager) Converse(ctx context.Context, id string, messages []copilot.Message) (*copilot.Reply, error) {
	s, err := m.active(ctx, id)
	if err != nil {
		return nil, err
	}

	reply, err := m.chat.Complete(ctx, s.Credential.OAuth2(), messages)
	if err != nil {
		m.logger.Warnw("Chat request failed", "sessionID", id, "error", err)
		return nil, &UpstreamError{SessionID: id, Cause: err}
	}
	return reply, nil
}

// CheckHealth verifies the session store
func (m *Manager) CheckHealth(ctx context.Context) error {
	return m.store.CheckHealth(ctx)
}

// active returns a usable session. Expired sessions are removed.
func (m *Manager) active(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}

	if !s.Valid(m.clock.Now()) {
		metrics.SessionExpired.Inc()
		if err := m.store.Remove(ctx, id); err != nil {
			m.logger.Warnw("Failed to remove expired session", "sessionID", id, "error", err)
		}
		return nil, ErrInvalidSession
	}
	return s, nil
}

// Package deviceflow implements the client side of the OAuth 2.0 Device Authorization Grant (RFC 8628)
package deviceflow

import (
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Option configures the device flow implementation
type Option func(*flowImpl)

// WithPollInterval sets the interval used when the provider omits one
func WithPollInterval(d time.Duration) Option {
	return func(f *flowImpl) {
		f.pollInterval = d
	}
}

// WithMaxAttempts bounds the number of token endpoint round trips per PollForToken
func WithMaxAttempts(n int) Option {
	return func(f *flowImpl) {
		f.maxAttempts = n
	}
}

// WithPollTimeout sets an overall deadline for PollForToken.
// Zero disables the deadline.
func WithPollTimeout(d time.Duration) Option {
	return func(f *flowImpl) {
		f.pollTimeout = d
	}
}

// WithScope sets the scope requested from the device authorization endpoint
func WithScope(scope string) Option {
	return func(f *flowImpl) {
		f.scope = scope
	}
}

// WithClock replaces the clock used for expiry checks and poll waits
func WithClock(c clock.Clock) Option {
	return func(f *flowImpl) {
		f.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(f *flowImpl) {
		f.logger = logger
	}
}

package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/wrale/copilot-device-gateway/internal/metrics"
)

// PollForToken polls the token endpoint per RFC 8628 section 3.4.
// Expiry and the token cache are checked before every round trip, so a flow
// completed by a concurrent PollStatus is returned without contacting the provider.
func (f *flowImpl) PollForToken(ctx context.Context, deviceCode string) (*AccessToken, error) {
	start := f.clock.Now()
	tok, err := f.pollForToken(ctx, deviceCode, start)

	result := "success"
	if err != nil {
		result = pollResult(err)
	}
	metrics.PollDuration.WithLabelValues(result).Observe(f.clock.Since(start).Seconds())

	return tok, err
}

func (f *flowImpl) pollForToken(ctx context.Context, deviceCode string, start time.Time) (*AccessToken, error) {
	pending, tok, err := f.resolve(ctx, deviceCode)
	if err != nil || tok != nil {
		return tok, err
	}

	var deadline time.Time
	if f.pollTimeout > 0 {
		deadline = start.Add(f.pollTimeout)
	}

	next := pending.Interval
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := f.wait(ctx, next, deadline, pending.ExpiresAt); err != nil {
			return nil, err
		}

		pending, tok, err = f.resolve(ctx, deviceCode)
		if err != nil || tok != nil {
			return tok, err
		}

		resp, err := f.requestToken(ctx, deviceCode)
		if err != nil {
			return nil, err
		}

		switch resp.Error {
		case "":
			if resp.AccessToken != "" {
				return f.complete(ctx, deviceCode, pending, resp)
			}
			// Neither token nor error is treated as still pending
			next = pending.Interval
		case ErrorCodeAuthorizationPending:
			next = pending.Interval
		case ErrorCodeSlowDown:
			next = 2 * pending.Interval
			f.logger.Debugw("Provider requested slow down", "attempt", attempt, "next", next)
		default:
			f.removePending(ctx, deviceCode)
			return nil, &ProtocolError{Code: resp.Error, Description: resp.ErrorDescription}
		}
	}

	f.logger.Infow("Polling attempts exhausted", "attempts", f.maxAttempts)
	return nil, fmt.Errorf("%w: no result after %d attempts", ErrTimeout, f.maxAttempts)
}

// resolve returns the pending entry of an unresolved flow, or the cached token
// of a completed one. Expired entries are removed.
func (f *flowImpl) resolve(ctx context.Context, deviceCode string) (PendingAuthorization, *AccessToken, error) {
	pending, ok, err := f.pending.Get(ctx, deviceCode)
	if err != nil {
		return pending, nil, fmt.Errorf("loading pending authorization: %w", err)
	}

	if !ok {
		// A concurrent poller may have completed the flow
		tok, found, err := f.tokens.TakeIfPresent(ctx, deviceCode)
		if err != nil {
			return pending, nil, fmt.Errorf("taking cached token: %w", err)
		}
		if found {
			return pending, &tok, nil
		}
		return pending, nil, ErrUnknownDeviceCode
	}

	if !f.clock.Now().Before(pending.ExpiresAt) {
		f.removePending(ctx, deviceCode)
		return pending, nil, ErrExpired
	}

	tok, found, err := f.tokens.TakeIfPresent(ctx, deviceCode)
	if err != nil {
		return pending, nil, fmt.Errorf("taking cached token: %w", err)
	}
	if found {
		f.removePending(ctx, deviceCode)
		return pending, &tok, nil
	}

	return pending, nil, nil
}

// wait sleeps for d on the flow's clock. Reaching the deadline or the end of
// ctx ends polling with ErrTimeout. A code that expires no later than the
// deadline is waited out instead, so the next resolve reports ErrExpired.
func (f *flowImpl) wait(ctx context.Context, d time.Duration, deadline, expiresAt time.Time) error {
	if now := f.clock.Now(); !deadline.IsZero() && now.Add(d).After(deadline) {
		if expiresAt.After(deadline) {
			return fmt.Errorf("%w: poll deadline reached", ErrTimeout)
		}
		d = expiresAt.Sub(now)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	case <-f.clock.After(d):
		return nil
	}
}

// requestToken performs one device access token request
func (f *flowImpl) requestToken(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	form := url.Values{
		"client_id":   {f.clientID},
		"device_code": {deviceCode},
		"grant_type":  {GrantType},
	}

	resp, err := f.client.PostForm(ctx, f.endpoints.TokenURL, form)
	if err != nil {
		metrics.PollRounds.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("%w: polling token endpoint: %w", ErrProvider, err)
	}

	var body tokenResponse
	if err := resp.Decode(&body); err != nil {
		metrics.PollRounds.WithLabelValues("transport_error").Inc()
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("%w: polling token endpoint: %w", ErrProvider, resp.StatusError())
		}
		return nil, fmt.Errorf("%w: polling token endpoint: %w", ErrProvider, err)
	}

	// RFC 6749 error responses arrive with 400; anything else without an error object is a failure
	if !resp.IsSuccess() && body.Error == "" {
		metrics.PollRounds.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("%w: polling token endpoint: %w", ErrProvider, resp.StatusError())
	}

	outcome := body.Error
	switch {
	case body.AccessToken != "" && body.Error == "":
		outcome = "token"
	case outcome == "":
		outcome = ErrorCodeAuthorizationPending
	case outcome != ErrorCodeAuthorizationPending && outcome != ErrorCodeSlowDown:
		outcome = "error"
	}
	metrics.PollRounds.WithLabelValues(outcome).Inc()

	return &body, nil
}

// complete caches the token and resolves the pending entry
func (f *flowImpl) complete(ctx context.Context, deviceCode string, pending PendingAuthorization, resp *tokenResponse) (*AccessToken, error) {
	tok := AccessToken{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		Scope:       resp.Scope,
	}

	ttl := pending.ExpiresAt.Sub(f.clock.Now())
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := f.tokens.Put(ctx, deviceCode, tok, ttl); err != nil {
		return nil, fmt.Errorf("caching token: %w", err)
	}
	f.removePending(ctx, deviceCode)

	f.logger.Infow("Device authorization completed", "scope", tok.Scope)
	return &tok, nil
}

func pollResult(err error) string {
	var protoErr *ProtocolError
	switch {
	case errors.Is(err, ErrUnknownDeviceCode):
		return "unknown"
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.As(err, &protoErr):
		return "protocol_error"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	default:
		return "error"
	}
}

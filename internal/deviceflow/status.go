package deviceflow

import (
	"context"
	"fmt"
)

// PollStatus reports the state of a flow without blocking. A flow that is
// already completed is answered from the token cache without a provider call,
// and the cached token is left for PollForToken to consume.
func (f *flowImpl) PollStatus(ctx context.Context, deviceCode string) (*Status, error) {
	pending, ok, err := f.pending.Get(ctx, deviceCode)
	if err != nil {
		return nil, fmt.Errorf("loading pending authorization: %w", err)
	}

	if !ok {
		if _, found, err := f.tokens.Get(ctx, deviceCode); err != nil {
			return nil, fmt.Errorf("reading cached token: %w", err)
		} else if found {
			return &Status{State: StateCompleted}, nil
		}
		return nil, ErrUnknownDeviceCode
	}

	if !f.clock.Now().Before(pending.ExpiresAt) {
		f.removePending(ctx, deviceCode)
		return nil, ErrExpired
	}

	if tok, found, err := f.tokens.Get(ctx, deviceCode); err != nil {
		return nil, fmt.Errorf("reading cached token: %w", err)
	} else if found {
		return &Status{State: StateCompleted, Token: &tok}, nil
	}

	resp, err := f.requestToken(ctx, deviceCode)
	if err != nil {
		return nil, err
	}

	switch resp.Error {
	case "":
		if resp.AccessToken == "" {
			return &Status{State: StatePending}, nil
		}
		tok, err := f.complete(ctx, deviceCode, pending, resp)
		if err != nil {
			return nil, err
		}
		return &Status{State: StateCompleted, Token: tok}, nil
	case ErrorCodeAuthorizationPending:
		return &Status{State: StatePending}, nil
	case ErrorCodeSlowDown:
		return &Status{State: StateSlowDown}, nil
	default:
		f.removePending(ctx, deviceCode)
		return &Status{
			State:       StateError,
			Error:       resp.Error,
			Description: resp.ErrorDescription,
		}, nil
	}
}

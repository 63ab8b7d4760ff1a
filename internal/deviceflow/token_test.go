package deviceflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/wrale/copilot-device-gateway/internal/oauth"
	"github.com/wrale/copilot-device-gateway/internal/store"
)

const (
	pendingBody  = `{"error":"authorization_pending","error_description":"The authorization request is still pending."}`
	slowDownBody = `{"error":"slow_down"}`
	tokenBody    = `{"access_token":"gho_xyz","token_type":"bearer","scope":"read:user"}`
)

func initiate(t *testing.T, f *testFlow) *DeviceAuthorization {
	t.Helper()
	auth, err := f.Initiate(context.Background())
	if err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}
	return auth
}

func TestPollForToken_PendingThenToken(t *testing.T) {
	p := newFakeProvider(t)
	clk := newSteppingClock()
	f := newTestFlow(t, p, clk)
	initiate(t, f)
	p.queueTokens(pendingBody, pendingBody, tokenBody)

	start := clk.Now()
	tok, err := f.PollForToken(context.Background(), "D1")
	if err != nil {
		t.Fatalf("PollForToken() error = %v", err)
	}
	if tok.AccessToken != "gho_xyz" || tok.Scope != "read:user" {
		t.Errorf("token = %+v", tok)
	}
	if _, calls := p.calls(); calls != 3 {
		t.Errorf("token calls = %d, want 3", calls)
	}
	if elapsed := clk.Since(start); elapsed != 3*time.Second {
		t.Errorf("elapsed = %v, want 3s", elapsed)
	}
	if _, ok, _ := f.pending.Get(context.Background(), "D1"); ok {
		t.Error("pending authorization should be removed after success")
	}

	form := p.tokenForms[0]
	if form.Get("grant_type") != GrantType || form.Get("device_code") != "D1" || form.Get("client_id") != "Iv1.test" {
		t.Errorf("token request form = %v", form)
	}
}

func TestPollForToken_SlowDownBacksOff(t *testing.T) {
	p := newFakeProvider(t)
	p.setDevice(http.StatusOK, `{"device_code":"D1","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","interval":5,"expires_in":900}`)
	clk := newSteppingClock()
	f := newTestFlow(t, p, clk)
	initiate(t, f)
	p.queueTokens(slowDownBody, tokenBody)

	start := clk.Now()
	if _, err := f.PollForToken(context.Background(), "D1"); err != nil {
		t.Fatalf("PollForToken() error = %v", err)
	}
	if elapsed := clk.Since(start); elapsed < 15*time.Second {
		t.Errorf("elapsed = %v, want at least interval + 2*interval (15s)", elapsed)
	}
}

func TestPollForToken_PendingUntilExpiry(t *testing.T) {
	p := newFakeProvider(t)
	clk := newSteppingClock()
	f := newTestFlow(t, p, clk)
	initiate(t, f)
	p.queueTokens(pendingBody)

	_, err := f.PollForToken(context.Background(), "D1")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("PollForToken() error = %v, want ErrExpired", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("expiry must not be reported as timeout")
	}
	if _, calls := p.calls(); calls != 9 {
		t.Errorf("token calls = %d, want 9 (one per second before expiry)", calls)
	}
	if _, ok, _ := f.pending.Get(context.Background(), "D1"); ok {
		t.Error("expired pending authorization should be removed")
	}
}

func TestPollForToken_UnknownDeviceCode(t *testing.T) {
	p := newFakeProvider(t)
	f := newTestFlow(t, p, newSteppingClock())

	_, err := f.PollForToken(context.Background(), "never-issued")
	if !errors.Is(err, ErrUnknownDeviceCode) {
		t.Fatalf("PollForToken() error = %v, want ErrUnknownDeviceCode", err)
	}
	if _, calls := p.calls(); calls != 0 {
		t.Errorf("token calls = %d, want 0", calls)
	}
}

func TestPollForToken_TerminalErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantIs   error
		wantCode string
		wantDesc string
	}{
		{
			name:     "access denied",
			body:     `{"error":"access_denied","error_description":"The user has denied your application access."}`,
			wantIs:   ErrDenied,
			wantCode: ErrorCodeAccessDenied,
			wantDesc: "The user has denied your application access.",
		},
		{
			name:     "expired token",
			body:     `{"error":"expired_token"}`,
			wantIs:   ErrExpired,
			wantCode: ErrorCodeExpiredToken,
		},
		{
			name:     "other error without description",
			body:     `{"error":"unsupported_grant_type"}`,
			wantCode: "unsupported_grant_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			f := newTestFlow(t, p, newSteppingClock())
			initiate(t, f)
			p.queueTokens(pendingBody, tt.body)

			_, err := f.PollForToken(context.Background(), "D1")

			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("PollForToken() error = %v, want *ProtocolError", err)
			}
			if protoErr.Code != tt.wantCode || protoErr.Description != tt.wantDesc {
				t.Errorf("ProtocolError = %+v", protoErr)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error %v should match %v", err, tt.wantIs)
			}
			if tt.wantIs == nil && (errors.Is(err, ErrDenied) || errors.Is(err, ErrExpired)) {
				t.Errorf("error %v should not match a well-known sentinel", err)
			}
			if _, ok, _ := f.pending.Get(context.Background(), "D1"); ok {
				t.Error("terminal error should remove the pending authorization")
			}
		})
	}
}

func TestPollForToken_MaxAttempts(t *testing.T) {
	p := newFakeProvider(t)
	p.setDevice(http.StatusOK, `{"device_code":"D1","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","interval":1,"expires_in":900}`)
	f := newTestFlow(t, p, newSteppingClock(), WithMaxAttempts(3))
	initiate(t, f)

	_, err := f.PollForToken(context.Background(), "D1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("PollForToken() error = %v, want ErrTimeout", err)
	}
	if _, calls := p.calls(); calls != 3 {
		t.Errorf("token calls = %d, want 3", calls)
	}
	if _, ok, _ := f.pending.Get(context.Background(), "D1"); !ok {
		t.Error("timeout leaves the flow pending")
	}
}

func TestPollForToken_Deadline(t *testing.T) {
	p := newFakeProvider(t)
	p.setDevice(http.StatusOK, `{"device_code":"D1","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","interval":2,"expires_in":900}`)
	f := newTestFlow(t, p, newSteppingClock(), WithPollTimeout(5*time.Second))
	initiate(t, f)

	_, err := f.PollForToken(context.Background(), "D1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("PollForToken() error = %v, want ErrTimeout", err)
	}
	if _, calls := p.calls(); calls != 2 {
		t.Errorf("token calls = %d, want 2", calls)
	}
}

func TestPollForToken_ExpiresBeforeDeadline(t *testing.T) {
	p := newFakeProvider(t)
	p.setDevice(http.StatusOK, `{"device_code":"D1","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","interval":3,"expires_in":10}`)
	clk := newSteppingClock()
	f := newTestFlow(t, p, clk, WithPollTimeout(11*time.Second))
	initiate(t, f)

	_, err := f.PollForToken(context.Background(), "D1")
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("PollForToken() error = %v, want ErrExpired", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("PollForToken() error = %v, should not be a timeout", err)
	}
	if elapsed := clk.Since(testEpoch); elapsed != 10*time.Second {
		t.Errorf("elapsed = %v, want 10s", elapsed)
	}
	if _, calls := p.calls(); calls != 3 {
		t.Errorf("token calls = %d, want 3", calls)
	}
	if f.pending.Len() != 0 {
		t.Error("expired pending authorization should be removed")
	}
}

func TestPollForToken_ContextCancelled(t *testing.T) {
	p := newFakeProvider(t)
	clk := testingclock.NewFakeClock(testEpoch)
	pending := store.NewMemoryStore[PendingAuthorization](clk)
	tokens := store.NewMemoryStore[AccessToken](clk)
	f := NewFlow(oauth.NewClient(p.srv.Client()), "Iv1.test", p.endpoints(), pending, tokens, WithClock(clk))

	if _, err := f.Initiate(context.Background()); err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.PollForToken(ctx, "D1")
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.Canceled) {
		t.Fatalf("PollForToken() error = %v, want ErrTimeout wrapping context.Canceled", err)
	}
	if _, calls := p.calls(); calls != 0 {
		t.Errorf("token calls = %d, want 0", calls)
	}
}

func TestPollForToken_ProviderFailure(t *testing.T) {
	p := newFakeProvider(t)
	f := newTestFlow(t, p, newSteppingClock())
	initiate(t, f)
	p.setTokenResponse(http.StatusBadGateway, "<html>bad gateway</html>")

	_, err := f.PollForToken(context.Background(), "D1")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("PollForToken() error = %v, want ErrProvider", err)
	}
	if _, ok, _ := f.pending.Get(context.Background(), "D1"); !ok {
		t.Error("provider failure leaves the flow pending")
	}
}

func TestPollForToken_AfterStatusCompleted(t *testing.T) {
	p := newFakeProvider(t)
	f := newTestFlow(t, p, newSteppingClock())
	initiate(t, f)
	p.queueTokens(tokenBody)

	status, err := f.PollStatus(context.Background(), "D1")
	if err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}
	if status.State != StateCompleted {
		t.Fatalf("PollStatus() state = %q, want completed", status.State)
	}

	tok, err := f.PollForToken(context.Background(), "D1")
	if err != nil {
		t.Fatalf("PollForToken() error = %v", err)
	}
	if tok.AccessToken != status.Token.AccessToken {
		t.Errorf("token = %q, want %q", tok.AccessToken, status.Token.AccessToken)
	}
	if _, calls := p.calls(); calls != 1 {
		t.Errorf("token calls = %d, want 1", calls)
	}

	// the cached token is consumed once
	if _, err := f.PollForToken(context.Background(), "D1"); !errors.Is(err, ErrUnknownDeviceCode) {
		t.Errorf("second PollForToken() error = %v, want ErrUnknownDeviceCode", err)
	}
	if _, calls := p.calls(); calls != 1 {
		t.Errorf("token calls = %d, want 1", calls)
	}
}

func TestPollForToken_ConcurrentConsumers(t *testing.T) {
	const callers = 12

	p := newFakeProvider(t)
	f := newTestFlow(t, p, newSteppingClock())
	initiate(t, f)
	p.queueTokens(tokenBody)

	if _, err := f.PollStatus(context.Background(), "D1"); err != nil {
		t.Fatalf("PollStatus() error = %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		unknown int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.PollForToken(context.Background(), "D1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrUnknownDeviceCode):
				unknown++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 || unknown != callers-1 {
		t.Errorf("winners = %d, unknown = %d; want 1 and %d", winners, unknown, callers-1)
	}
	if _, calls := p.calls(); calls != 1 {
		t.Errorf("token calls = %d, want 1", calls)
	}
}

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{Code: "access_denied"}
	if got, want := err.Error(), "device flow error: access_denied"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err = &ProtocolError{Code: "access_denied", Description: "no"}
	if got, want := err.Error(), "device flow error: access_denied: no"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestPollForToken_SuccessLeavesOneCachedCopy(t *testing.T) {
	p := newFakeProvider(t)
	f := newTestFlow(t, p, newSteppingClock())
	initiate(t, f)
	p.queueTokens(tokenBody)

	first, err := f.PollForToken(context.Background(), "D1")
	if err != nil {
		t.Fatalf("PollForToken() error = %v", err)
	}
	if n := f.tokens.Len(); n != 1 {
		t.Fatalf("token cache has %d entries, want 1", n)
	}

	// a poller that lost the race observes the cached result
	second, err := f.PollForToken(context.Background(), "D1")
	if err != nil {
		t.Fatalf("second PollForToken() error = %v", err)
	}
	if second.AccessToken != first.AccessToken {
		t.Errorf("token = %q, want %q", second.AccessToken, first.AccessToken)
	}

	if _, err := f.PollForToken(context.Background(), "D1"); !errors.Is(err, ErrUnknownDeviceCode) {
		t.Errorf("third PollForToken() error = %v, want ErrUnknownDeviceCode", err)
	}
	if _, calls := p.calls(); calls != 1 {
		t.Errorf("token calls = %d, want 1", calls)
	}
}

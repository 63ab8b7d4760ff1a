package deviceflow

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	testingclock "k8s.io/utils/clock/testing"

	"github.com/wrale/copilot-device-gateway/internal/oauth"
	"github.com/wrale/copilot-device-gateway/internal/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// steppingClock advances fake time by the full duration whenever a wait starts,
// so poll loops run instantly while elapsed time stays observable
type steppingClock struct {
	*testingclock.FakeClock
}

func newSteppingClock() *steppingClock {
	return &steppingClock{FakeClock: testingclock.NewFakeClock(testEpoch)}
}

func (c *steppingClock) After(d time.Duration) <-chan time.Time {
	c.Step(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type fakeResponse struct {
	status int
	body   string
}

// fakeProvider stubs the device code and token endpoints and counts calls
type fakeProvider struct {
	srv *httptest.Server

	mu          sync.Mutex
	device      fakeResponse
	tokens      []fakeResponse
	deviceCalls int
	tokenCalls  int
	deviceForm  url.Values
	tokenForms  []url.Values
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{
		device: fakeResponse{status: http.StatusOK, body: `{
			"device_code": "D1",
			"user_code": "ABCD-1234",
			"verification_uri": "https://github.com/login/device",
			"interval": 1,
			"expires_in": 10
		}`},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/login/device/code", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		p.deviceCalls++
		p.deviceForm = r.PostForm
		resp := p.device
		p.mu.Unlock()
		write(w, resp)
	})
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.mu.Lock()
		p.tokenCalls++
		p.tokenForms = append(p.tokenForms, r.PostForm)
		resp := fakeResponse{status: http.StatusOK, body: `{"error":"authorization_pending"}`}
		if len(p.tokens) > 0 {
			resp = p.tokens[0]
			// the last response repeats
			if len(p.tokens) > 1 {
				p.tokens = p.tokens[1:]
			}
		}
		p.mu.Unlock()
		write(w, resp)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func write(w http.ResponseWriter, resp fakeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (p *fakeProvider) setDevice(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = fakeResponse{status: status, body: body}
}

// queueTokens sets the token endpoint responses; all use status 200
func (p *fakeProvider) queueTokens(bodies ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = nil
	for _, b := range bodies {
		p.tokens = append(p.tokens, fakeResponse{status: http.StatusOK, body: b})
	}
}

func (p *fakeProvider) setTokenResponse(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = []fakeResponse{{status: status, body: body}}
}

func (p *fakeProvider) calls() (device, token int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceCalls, p.tokenCalls
}

func (p *fakeProvider) endpoints() Endpoints {
	return Endpoints{
		DeviceAuthURL: p.srv.URL + "/login/device/code",
		TokenURL:      p.srv.URL + "/login/oauth/access_token",
	}
}

type testFlow struct {
	Flow
	pending *store.MemoryStore[PendingAuthorization]
	tokens  *store.MemoryStore[AccessToken]
}

func newTestFlow(t *testing.T, p *fakeProvider, clk *steppingClock, opts ...Option) *testFlow {
	t.Helper()
	pending := store.NewMemoryStore[PendingAuthorization](clk)
	tokens := store.NewMemoryStore[AccessToken](clk)

	opts = append([]Option{WithClock(clk), WithScope("read:user,copilot")}, opts...)
	flow := NewFlow(oauth.NewClient(p.srv.Client()), "Iv1.test", p.endpoints(), pending, tokens, opts...)

	return &testFlow{Flow: flow, pending: pending, tokens: tokens}
}

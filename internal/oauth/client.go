package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "copilot-device-gateway"
)

// Client performs form and JSON requests against the provider.
// Timeouts and pooling belong to the injected *http.Client.
type Client struct {
	http   *resty.Client
	logger *zap.SugaredLogger
}

// Option configures the client
type Option func(*Client)

// WithLogger routes transport warnings to logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.http.SetHeader(key, value)
	}
}

// NewClient creates a provider client on top of hc. A nil hc gets a client
// with a 60 second timeout.
func NewClient(hc *http.Client, opts ...Option) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}

	c := &Client{
		http: resty.NewWithClient(hc).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", defaultUserAgent).
			SetDisableWarn(true),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.SetLogger(c.logger)

	return c
}

// HTTPClient returns the underlying *http.Client for libraries that take one directly
func (c *Client) HTTPClient() *http.Client {
	return c.http.GetClient()
}

// Response is a fully read provider response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// StatusError converts the response into a *StatusError
func (r *Response) StatusError() error {
	return &StatusError{StatusCode: r.StatusCode, Body: string(r.Body)}
}

// PostForm sends an application/x-www-form-urlencoded POST
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) (*Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormDataFromValues(form)

	return c.do(req, http.MethodPost, endpoint)
}

// Get sends a GET authorized with token
func (c *Client) Get(ctx context.Context, endpoint string, token *oauth2.Token) (*Response, error) {
	req := c.http.R().SetContext(ctx)
	authorize(req, token)

	return c.do(req, http.MethodGet, endpoint)
}

// PostJSON sends body as JSON, authorized with token
func (c *Client) PostJSON(ctx context.Context, endpoint string, token *oauth2.Token, body any) (*Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	authorize(req, token)

	return c.do(req, http.MethodPost, endpoint)
}

func (c *Client) do(req *resty.Request, method, endpoint string) (*Response, error) {
	resp, err := req.Execute(method, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrProviderUnavailable, method, endpoint, err)
	}

	c.logger.Debugw("Provider request completed", "method", method, "endpoint", endpoint, "status", resp.StatusCode())
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// authorize sets the Authorization header from the token type, so a GitHub
// "token" scheme and the default "Bearer" share one path
func authorize(req *resty.Request, token *oauth2.Token) {
	if token == nil || token.AccessToken == "" {
		return
	}
	req.SetAuthScheme(token.Type()).SetAuthToken(token.AccessToken)
}

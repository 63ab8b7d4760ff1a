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

const (
	DefaultModel       = "gpt-5"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// ChatClient calls the chat completions API with a Copilot credential
type ChatClient struct {
	client      *oauth.Client
	url         string
	model       string
	temperature float64
	maxTokens   int
	logger      *zap.SugaredLogger
}

// ChatOption configures a ChatClient
type ChatOption func(*ChatClient)

// WithModel sets the model name sent with every request
func WithModel(model string) ChatOption {
	return func(c *ChatClient) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) ChatOption {
	return func(c *ChatClient) {
		c.temperature = t
	}
}

// WithMaxTokens bounds the completion length
func WithMaxTokens(n int) ChatOption {
	return func(c *ChatClient) {
		c.maxTokens = n
	}
}

// WithChatLogger sets the logger
func WithChatLogger(logger *zap.SugaredLogger) ChatOption {
	return func(c *ChatClient) {
		c.logger = logger
	}
}

// NewChatClient creates a chat client for the completions endpoint at url
func NewChatClient(client *oauth.Client, url string, opts ...ChatOption) *ChatClient {
	c := &ChatClient{
		client:      client,
		url:         url,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		logger:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends messages authorized with token and returns the completion.
// Failures are not retried.
func (c *ChatClient) Complete(ctx context.Context, token *oauth2.Token, messages []Message) (*Reply, error) {
	start := time.Now()
	reply, err := c.complete(ctx, token, messages)
	metrics.ChatDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ChatRequests.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.ChatRequests.WithLabelValues("success").Inc()
	return reply, nil
}

func (c *ChatClient) complete(ctx context.Context, token *oauth2.Token, messages []Message) (*Reply, error) {
	c.logger.Infow("Sending chat request", "messages", len(messages), "model", c.model)

	req := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      false,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	resp, err := c.client.PostJSON(ctx, c.url, token, req)
	if err != nil {
		return nil, fmt.Errorf("calling chat API: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("calling chat API: %w", resp.StatusError())
	}

	var body chatResponse
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}

	switch {
	case len(body.Choices) > 0:
		c.logger.Debugw("Received chat response", "choices", len(body.Choices))
		return &body.Reply, nil
	case body.Message != nil:
		return &Reply{
			Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: *body.Message}}},
		}, nil
	}

	return nil, ErrUnexpectedResponse
}

// UserMessage is a convenience for a single user turn
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}

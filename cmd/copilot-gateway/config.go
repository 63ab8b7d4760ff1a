package main

import "time"

// Config holds server configuration loaded from environment variables
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	RedisURL string `envconfig:"REDIS_URL"`

	// Identity provider
	ClientID       string `envconfig:"GITHUB_CLIENT_ID" default:"Iv1.b507a08c87ecfe98"`
	Scope          string `envconfig:"GITHUB_SCOPE" default:"read:user,copilot"`
	DeviceCodeURL  string `envconfig:"DEVICE_CODE_URL" default:"https://github.com/login/device/code"`
	AccessTokenURL string `envconfig:"ACCESS_TOKEN_URL" default:"https://github.com/login/oauth/access_token"`

	// Copilot
	CopilotTokenURL    string  `envconfig:"COPILOT_TOKEN_URL" default:"https://api.github.com/copilot_internal/v2/token"`
	ChatAPIURL         string  `envconfig:"CHAT_API_URL" default:"https://api.githubcopilot.com/chat/completions"`
	ChatModel          string  `envconfig:"CHAT_MODEL" default:"gpt-5"`
	ChatTemperature    float64 `envconfig:"CHAT_TEMPERATURE" default:"0.7"`
	ChatMaxTokens      int     `envconfig:"CHAT_MAX_TOKENS" default:"2000"`
	ExchangeAuthScheme string  `envconfig:"EXCHANGE_AUTH_SCHEME" default:"token"`
	IntegrationID      string  `envconfig:"COPILOT_INTEGRATION_ID" default:"vscode-chat"`
	EditorVersion      string  `envconfig:"EDITOR_VERSION"`

	// Polling
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	MaxPollAttempts int           `envconfig:"MAX_POLL_ATTEMPTS" default:"60"`
	PollTimeout     time.Duration `envconfig:"POLL_TIMEOUT" default:"120s"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s"`

	// Sessions and rate limiting
	SessionRetention time.Duration `envconfig:"SESSION_RETENTION" default:"1h"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	StatusRate       float64       `envconfig:"STATUS_RATE" default:"1"`
	StatusBurst      int           `envconfig:"STATUS_BURST" default:"3"`

	// Server timeouts
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"200s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

// longPollTimeout bounds requests that block on the device flow
func (c Config) longPollTimeout() time.Duration {
	return c.PollTimeout + c.HTTPTimeout
}

// writeGrace leaves room to write the response after a long poll times out
const writeGrace = 10 * time.Second

// writeTimeout is WRITE_TIMEOUT raised, if needed, past the long-poll route timeout
func (c Config) writeTimeout() time.Duration {
	if floor := c.longPollTimeout() + writeGrace; c.WriteTimeout < floor {
		return floor
	}
	return c.WriteTimeout
}

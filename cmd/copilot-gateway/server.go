package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/auth"
	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/chat"
	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/common"
	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/device"
	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/health"
	"github.com/wrale/copilot-device-gateway/cmd/copilot-gateway/handlers/sessions"
	"github.com/wrale/copilot-device-gateway/internal/copilot"
	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/gateway"
	"github.com/wrale/copilot-device-gateway/internal/metrics"
	"github.com/wrale/copilot-device-gateway/internal/oauth"
	"github.com/wrale/copilot-device-gateway/internal/ratelimit"
	"github.com/wrale/copilot-device-gateway/internal/session"
)

// components are the services behind the API
type components struct {
	flow     deviceflow.Flow
	gateway  *gateway.Service
	sessions *session.Manager
	limiter  *ratelimit.Limiter
}

// newComponents wires the device flow, the Copilot clients and the session
// manager. hc may be nil.
func newComponents(cfg Config, st *stores, hc *http.Client, clk clock.WithTicker, logger *zap.SugaredLogger) *components {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	githubClient := oauth.NewClient(hc, oauth.WithLogger(logger.Named("github")))

	copilotOpts := []oauth.Option{oauth.WithLogger(logger.Named("copilot"))}
	if cfg.IntegrationID != "" {
		copilotOpts = append(copilotOpts, oauth.WithHeader("Copilot-Integration-Id", cfg.IntegrationID))
	}
	if cfg.EditorVersion != "" {
		copilotOpts = append(copilotOpts, oauth.WithHeader("Editor-Version", cfg.EditorVersion))
	}
	copilotClient := oauth.NewClient(hc, copilotOpts...)

	flow := deviceflow.NewFlow(githubClient, cfg.ClientID,
		deviceflow.Endpoints{
			DeviceAuthURL: cfg.DeviceCodeURL,
			TokenURL:      cfg.AccessTokenURL,
		},
		st.pending, st.tokens,
		deviceflow.WithScope(cfg.Scope),
		deviceflow.WithPollInterval(cfg.PollInterval),
		deviceflow.WithMaxAttempts(cfg.MaxPollAttempts),
		deviceflow.WithPollTimeout(cfg.PollTimeout),
		deviceflow.WithClock(clk),
		deviceflow.WithLogger(logger.Named("deviceflow")),
	)

	exchanger := copilot.NewExchanger(copilotClient, cfg.CopilotTokenURL,
		copilot.WithAuthScheme(cfg.ExchangeAuthScheme),
		copilot.WithExchangeLogger(logger.Named("exchange")),
	)

	chatClient := copilot.NewChatClient(copilotClient, cfg.ChatAPIURL,
		copilot.WithModel(cfg.ChatModel),
		copilot.WithTemperature(cfg.ChatTemperature),
		copilot.WithMaxTokens(cfg.ChatMaxTokens),
		copilot.WithChatLogger(logger.Named("chat")),
	)

	manager := session.NewManager(st.sessions, chatClient,
		session.WithClock(clk),
		session.WithRetention(cfg.SessionRetention),
		session.WithLogger(logger.Named("session")),
	)

	limiter := ratelimit.New(statusLimitConfig(cfg), clk)

	return &components{
		flow:     flow,
		gateway:  gateway.NewService(flow, exchanger, manager, logger.Named("gateway")),
		sessions: manager,
		limiter:  limiter,
	}
}

// statusLimitConfig overlays the configured rate on the status probe defaults
func statusLimitConfig(cfg Config) ratelimit.Config {
	lc := ratelimit.DefaultStatusConfig()
	if cfg.StatusRate > 0 {
		lc.Rate = cfg.StatusRate
	}
	if cfg.StatusBurst > 0 {
		lc.Burst = cfg.StatusBurst
	}
	return lc
}

type server struct {
	cfg    Config
	router *chi.Mux
	comps  *components
	logger *zap.SugaredLogger
}

func newServer(cfg Config, comps *components, logger *zap.SugaredLogger) *server {
	srv := &server{
		cfg:    cfg,
		router: chi.NewRouter(),
		comps:  comps,
		logger: logger,
	}

	// Set up middleware
	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(requestLogger(logger.Named("http")))
	srv.router.Use(middleware.Recoverer)

	// Register routes
	srv.routes()

	return srv
}

func (s *server) routes() {
	s.router.Get("/health", health.New(map[string]health.Checker{
		"device_flow": s.comps.flow,
		"sessions":    s.comps.sessions,
	}).WithVersion(Version).ServeHTTP)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	authHandler := auth.New(s.comps.gateway, s.logger.Named("auth"))
	chatHandler := chat.New(s.comps.sessions, s.logger.Named("chat"))
	sessionHandler := sessions.New(s.comps.sessions, s.logger.Named("sessions"))
	statusLimit := s.comps.limiter.Middleware("device_status",
		ratelimit.ByQuery("device_code"), http.HandlerFunc(common.RateLimited))

	s.router.Route("/api", func(r chi.Router) {
		// Requests answered after at most one upstream round trip
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))

			r.Post("/auth/device/initiate", device.NewInitiate(s.comps.flow, s.logger).ServeHTTP)
			r.With(statusLimit).Get("/auth/device/status", device.NewStatus(s.comps.flow, s.logger).ServeHTTP)

			r.Post("/copilot/v1/auth/initiate", authHandler.Initiate)
			r.Post("/copilot/v1/token", authHandler.Token)
			r.Get("/copilot/v1/session/{id}", sessionHandler.Get)
			r.Delete("/copilot/v1/session/{id}", sessionHandler.Delete)
		})

		// Chat completions may take as long as the upstream client allows
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.HTTPTimeout))

			r.Post("/copilot/v1/chat", chatHandler.Chat)
			r.Post("/copilot/v1/chat/conversation", chatHandler.Conversation)
		})

		// Long polls block until the user acts on the device code
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.longPollTimeout()))

			r.Post("/auth/device/token", device.NewToken(s.comps.flow, s.logger).ServeHTTP)
			r.Post("/copilot/v1/auth/complete", authHandler.Complete)
		})
	})
}

func (s *server) checkHealth(ctx context.Context) error {
	return errors.Join(
		s.comps.flow.CheckHealth(ctx),
		s.comps.sessions.CheckHealth(ctx),
	)
}

// requestLogger writes one access log line per request and counts it by route
// pattern. Query strings are not logged since they can carry device codes.
func requestLogger(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
				logger.Infow("Request served",
					"method", r.Method,
					"route", route,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"requestID", middleware.GetReqID(r.Context()),
					"remote", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"
)

// Version is set by the build process
var Version = "dev"

func main() {
	// Load configuration from environment
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		stdlog.Fatalf("Error loading configuration: %v", err)
	}

	zlog, err := setupLogger(cfg)
	if err != nil {
		stdlog.Fatalf("Error setting up logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	logger := zlog.Sugar()

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("Server stopped", "error", err)
	}
}

func setupLogger(cfg Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	zcfg.Level = level
	zcfg.DisableStacktrace = true
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}

	return zcfg.Build()
}

func run(cfg Config, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.RealClock{}

	// Redis is optional; without it all state lives in process
	var st *stores
	if cfg.RedisURL != "" {
		var err error
		if st, err = newRedisStores(ctx, cfg.RedisURL); err != nil {
			return err
		}
		logger.Infow("Using Redis stores")
	} else {
		st = newMemoryStores(clk)
		go st.sweep(ctx, clk, cfg.SweepInterval, logger.Named("sweeper"))
		logger.Infow("Using in-memory stores")
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warnw("Error closing stores", "error", err)
		}
	}()

	comps := newComponents(cfg, st, nil, clk, logger)
	defer comps.limiter.Stop()

	srv := newServer(cfg, comps, logger)
	if err := srv.checkHealth(ctx); err != nil {
		return fmt.Errorf("checking stores: %w", err)
	}

	// Create HTTP server with proper timeout configurations
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.writeTimeout(),
		IdleTimeout:       cfg.IdleTimeout,
	}

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		logger.Infow("Server listening", "port", cfg.Port, "version", Version)
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("starting server: %w", err)
		}
		return nil

	case sig := <-shutdown:
		logger.Infow("Starting shutdown", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("Error shutting down server", "error", err)
			if err := httpServer.Close(); err != nil {
				logger.Warnw("Error closing server", "error", err)
			}
		}
		return nil
	}
}

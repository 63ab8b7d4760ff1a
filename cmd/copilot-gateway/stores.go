package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/wrale/copilot-device-gateway/internal/deviceflow"
	"github.com/wrale/copilot-device-gateway/internal/session"
	"github.com/wrale/copilot-device-gateway/internal/store"
)

// stores are the keyed state shared by the flow and the session manager
type stores struct {
	pending  store.Store[deviceflow.PendingAuthorization]
	tokens   store.Store[deviceflow.AccessToken]
	sessions store.Store[session.Session]

	// sweepers are the in-memory stores that need periodic eviction
	sweepers []interface{ Sweep() int }
	close    func() error
}

// newMemoryStores keeps all state in process
func newMemoryStores(c clock.PassiveClock) *stores {
	pending := store.NewMemoryStore[deviceflow.PendingAuthorization](c)
	tokens := store.NewMemoryStore[deviceflow.AccessToken](c)
	sessions := store.NewMemoryStore[session.Session](c)

	return &stores{
		pending:  pending,
		tokens:   tokens,
		sessions: sessions,
		sweepers: []interface{ Sweep() int }{pending, tokens, sessions},
		close:    func() error { return nil },
	}
}

// newRedisStores connects to Redis and verifies the connection
func newRedisStores(ctx context.Context, redisURL string) (*stores, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &stores{
		pending:  store.NewRedisStore[deviceflow.PendingAuthorization](client, store.PendingPrefix),
		tokens:   store.NewRedisStore[deviceflow.AccessToken](client, store.TokenPrefix),
		sessions: store.NewRedisStore[session.Session](client, store.SessionPrefix),
		close:    client.Close,
	}, nil
}

// sweep evicts expired in-memory entries every interval until ctx is done
func (s *stores) sweep(ctx context.Context, c clock.WithTicker, interval time.Duration, logger *zap.SugaredLogger) {
	if len(s.sweepers) == 0 || interval <= 0 {
		return
	}

	ticker := c.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			removed := 0
			for _, sw := range s.sweepers {
				removed += sw.Sweep()
			}
			if removed > 0 {
				logger.Debugw("Evicted expired entries", "count", removed)
			}
		}
	}
}

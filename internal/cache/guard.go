package cache

import (
	"context"
	"time"

	"github.com/soyeahso/veil/internal/logging"
	"github.com/soyeahso/veil/internal/metrics"
)

// Guard wraps a Store so that backend failures never fail a request: a
// failed read is a miss and a failed write is logged and dropped.
type Guard struct {
	inner Store
	log   *logging.Logger
}

// NewGuard wraps inner.
func NewGuard(inner Store, log *logging.Logger) *Guard {
	return &Guard{inner: inner, log: log.Sub("cache")}
}

func (g *Guard) Get(ctx context.Context, key string) (*Entry, error) {
	e, err := g.inner.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheOpsTotal.WithLabelValues("get", "error").Inc()
		g.log.Warn().Err(err).Msg("cache read failed, treating as miss")
		return nil, nil
	case e == nil:
		metrics.CacheOpsTotal.WithLabelValues("get", "miss").Inc()
	default:
		metrics.CacheOpsTotal.WithLabelValues("get", "hit").Inc()
	}
	return e, nil
}

func (g *Guard) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if err := g.inner.Set(ctx, key, entry, ttl); err != nil {
		metrics.CacheOpsTotal.WithLabelValues("set", "error").Inc()
		g.log.Warn().Err(err).Msg("cache write failed")
		return nil
	}
	metrics.CacheOpsTotal.WithLabelValues("set", "ok").Inc()
	return nil
}

func (g *Guard) Close() error { return g.inner.Close() }

// RunSweeper evicts expired entries every interval until ctx ends. Only the
// in-memory backend needs it; for the others it returns at once.
func (g *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	if m, ok := g.inner.(*MemoryStore); ok {
		m.RunSweeper(ctx, interval)
	}
}

// Open builds the configured backend wrapped in a Guard. When Redis cannot
// be reached at startup the in-memory store is used instead.
func Open(ctx context.Context, backend, redisURL string, log *logging.Logger) *Guard {
	var inner Store
	switch backend {
	case "none":
		inner = NopStore{}
	case "redis":
		rs, err := NewRedisStore(ctx, redisURL, 2*time.Second)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory cache")
			inner = NewMemoryStore()
		} else {
			inner = rs
		}
	default:
		inner = NewMemoryStore()
	}
	return NewGuard(inner, log)
}

// Package ratelimit wraps github.com/vnmchuo/ratelimiter with per-client
// request-per-minute limits over a fixed one-minute window. Fixed windows
// under-admit just before a boundary and over-admit just after it; that
// trade-off is accepted here in exchange for a single redis op per check.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type Limiter struct {
	rdb          *redis.Client
	defaultLimit int64

	mu     sync.Mutex
	stores map[int64]extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultRPM int64) *Limiter {
	return &Limiter{
		rdb:          rdb,
		defaultLimit: defaultRPM,
		stores:       make(map[int64]extratelimit.Limiter),
	}
}

// NewTestLimiter injects a fake store for all limits.
func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{
		stores: map[int64]extratelimit.Limiter{0: store},
	}
}

// storeFor returns the fixed-window store for a limit value, creating it on
// first use. Clients share counters only if they share the same key.
func (l *Limiter) storeFor(limit int64) extratelimit.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.stores[0]; ok && l.rdb == nil {
		return s // test store handles every limit
	}

	if s, ok := l.stores[limit]; ok {
		return s
	}
	s := extratelimit.NewRedisStore(l.rdb,
		extratelimit.WithLimit(int(limit)),
		extratelimit.WithWindow(time.Minute),
	)
	l.stores[limit] = s
	return s
}

// Allow counts one request for clientID against its per-minute limit. A
// non-positive limit falls back to the process default.
func (l *Limiter) Allow(ctx context.Context, clientID string, limit int64) (bool, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	key := fmt.Sprintf("ratelimit:client:%s", clientID)
	res, err := l.storeFor(limit).Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, clientID string, limit int64) (*extratelimit.Result, error) {
	if limit <= 0 {
		limit = l.defaultLimit
	}
	key := fmt.Sprintf("ratelimit:client:%s", clientID)
	return l.storeFor(limit).Status(ctx, key)
}

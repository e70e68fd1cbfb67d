package upstream

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter spaces outbound requests per scope key. Each key admits one
// request per interval; waiters are admitted in reservation order.
type RateLimiter struct {
	interval time.Duration
	limiters sync.Map // scope key -> *rate.Limiter
}

// NewRateLimiter returns a limiter enforcing interval between dispatches on
// the same key. A non-positive interval disables spacing.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval}
}

// AwaitTurn blocks until key may dispatch, then records the dispatch.
// It returns early with an error if ctx ends first.
func (l *RateLimiter) AwaitTurn(ctx context.Context, key string) error {
	if l.interval <= 0 {
		return ctx.Err()
	}
	return l.limiter(key).Wait(ctx)
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(rate.Every(l.interval), 1))
	return v.(*rate.Limiter)
}

package auth

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// LimiterConfig tunes InitLimiter. A zero PerMinute disables throttling.
type LimiterConfig struct {
	PerMinute int
	Burst     int
	Size      int
	EntryTTL  time.Duration
}

// InitLimiter throttles login attempts per remote address.
type InitLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	cache *expirable.LRU[string, *rate.Limiter]
}

// NewInitLimiter builds a limiter, or returns nil when cfg disables it. A nil
// limiter allows everything.
func NewInitLimiter(cfg LimiterConfig) *InitLimiter {
	if cfg.PerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	size := cfg.Size
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.EntryTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &InitLimiter{
		limit: rate.Every(time.Minute / time.Duration(cfg.PerMinute)),
		burst: burst,
		cache: expirable.NewLRU[string, *rate.Limiter](size, nil, ttl),
	}
}

// Allow reports whether another attempt from addr may proceed.
func (l *InitLimiter) Allow(addr string) bool {
	if l == nil || addr == "" {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.cache.Get(addr)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.cache.Add(addr, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// Tracked returns the number of addresses currently held.
func (l *InitLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	return l.cache.Len()
}

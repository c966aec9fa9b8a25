package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedTokenBucket keeps one token bucket per key (e.g. client IP) and drops buckets idle
// longer than idleTTL.
type KeyedTokenBucket struct {
	mu       sync.Mutex
	limiters map[string]*bucket
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedTokenBucket returns buckets refilling at perSecond with the given burst.
func NewKeyedTokenBucket(perSecond float64, burst int, idleTTL time.Duration) *KeyedTokenBucket {
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &KeyedTokenBucket{
		limiters: make(map[string]*bucket),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket.
func (k *KeyedTokenBucket) Allow(key string) bool {
	now := k.now()
	k.mu.Lock()
	b, ok := k.limiters[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = b
	}
	b.lastSeen = now
	k.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// Cleanup removes buckets not used within idleTTL and returns how many were removed.
func (k *KeyedTokenBucket) Cleanup() int {
	cutoff := k.now().Add(-k.idleTTL)
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	for key, b := range k.limiters {
		if b.lastSeen.Before(cutoff) {
			delete(k.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (k *KeyedTokenBucket) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// Run calls Cleanup every interval until ctx is done.
func (k *KeyedTokenBucket) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Cleanup()
		}
	}
}

package memory

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/ratelimit"
)

// bucket is the per-key accounting state. The same struct serves all
// three algorithms; each uses the fields it needs.
type bucket struct {
	// Token bucket: current token count and last refill instant.
	tokens   float64
	refilled time.Time
	// Fixed and sliding window: counters keyed by window index.
	windowStart  time.Time
	count        int64
	prevCount    int64
	lastActivity time.Time
}

// RateLimiter implements ratelimit.Limiter in memory. Accounting is
// per-key under a single mutex; suitable for single-instance
// deployments. A background cleanup goroutine drops idle buckets.
type RateLimiter struct {
	algorithm ratelimit.Algorithm
	buckets   map[string]*bucket
	mu        sync.Mutex
	now       func() time.Time

	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxIdle         time.Duration
}

var _ ratelimit.Limiter = (*RateLimiter)(nil)

// NewRateLimiter creates an in-memory limiter with default cleanup
// settings: a 5 minute sweep dropping buckets idle for over an hour.
func NewRateLimiter(algorithm ratelimit.Algorithm) *RateLimiter {
	return NewRateLimiterWithConfig(algorithm, 5*time.Minute, time.Hour)
}

// NewRateLimiterWithConfig creates an in-memory limiter with custom
// cleanup settings.
func NewRateLimiterWithConfig(algorithm ratelimit.Algorithm, cleanupInterval, maxIdle time.Duration) *RateLimiter {
	return &RateLimiter{
		algorithm:       algorithm,
		buckets:         make(map[string]*bucket),
		now:             time.Now,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxIdle:         maxIdle,
	}
}

// Enabled reports that the in-memory limiter is always active.
func (r *RateLimiter) Enabled() bool { return true }

// CheckAndConsume deducts one unit from the key's bucket.
func (r *RateLimiter) CheckAndConsume(_ context.Context, key ratelimit.Key, limit ratelimit.EffectiveLimit) (ratelimit.Decision, error) {
	return r.check(key, limit, true), nil
}

// GetStatus reports the bucket state without consuming.
func (r *RateLimiter) GetStatus(_ context.Context, key ratelimit.Key, limit ratelimit.EffectiveLimit) (ratelimit.Decision, error) {
	return r.check(key, limit, false), nil
}

// Reset drops the bucket for the key.
func (r *RateLimiter) Reset(_ context.Context, key ratelimit.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buckets, key.String())
	return nil
}

// RemoveKeysMatching drops every bucket whose key starts with prefix.
func (r *RateLimiter) RemoveKeysMatching(_ context.Context, prefix string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.buckets {
		if strings.HasPrefix(k, prefix) {
			delete(r.buckets, k)
		}
	}
	return nil
}

func (r *RateLimiter) check(key ratelimit.Key, limit ratelimit.EffectiveLimit, consume bool) ratelimit.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	k := key.String()
	b, ok := r.buckets[k]
	if !ok {
		b = &bucket{tokens: float64(limit.BurstCapacity), refilled: now, windowStart: now}
		r.buckets[k] = b
	}
	b.lastActivity = now

	switch r.algorithm {
	case ratelimit.AlgorithmFixedWindow:
		return r.fixedWindow(b, limit, now, consume)
	case ratelimit.AlgorithmSlidingWindow:
		return r.slidingWindow(b, limit, now, consume)
	default:
		return r.tokenBucket(b, limit, now, consume)
	}
}

// tokenBucket refills at requestsPerWindow/windowSeconds per second up
// to burstCapacity and deducts one token on allow.
func (r *RateLimiter) tokenBucket(b *bucket, limit ratelimit.EffectiveLimit, now time.Time, consume bool) ratelimit.Decision {
	ratePerSec := float64(limit.RequestsPerWindow) / float64(limit.WindowSeconds)
	elapsed := now.Sub(b.refilled).Seconds()
	b.tokens = math.Min(float64(limit.BurstCapacity), b.tokens+elapsed*ratePerSec)
	b.refilled = now

	if b.tokens < 1 {
		var wait time.Duration
		if ratePerSec > 0 {
			wait = time.Duration((1 - b.tokens) / ratePerSec * float64(time.Second))
		} else {
			wait = limit.Window()
		}
		return ratelimit.Decision{
			Allowed:      false,
			Remaining:    0,
			ResetAt:      now.Add(wait),
			RetryAfter:   wait,
			CurrentUsage: limit.BurstCapacity,
			Limit:        limit.RequestsPerWindow,
		}
	}

	if consume {
		b.tokens--
	}
	return ratelimit.Decision{
		Allowed:      true,
		Remaining:    int64(b.tokens),
		ResetAt:      now.Add(limit.Window()),
		CurrentUsage: limit.BurstCapacity - int64(b.tokens),
		Limit:        limit.RequestsPerWindow,
	}
}

// fixedWindow counts per (key, floor(now/window)).
func (r *RateLimiter) fixedWindow(b *bucket, limit ratelimit.EffectiveLimit, now time.Time, consume bool) ratelimit.Decision {
	window := limit.Window()
	start := now.Truncate(window)
	if !b.windowStart.Equal(start) {
		b.prevCount = b.count
		b.windowStart = start
		b.count = 0
	}
	resetAt := start.Add(window)

	if b.count >= limit.RequestsPerWindow {
		return ratelimit.Decision{
			Allowed:      false,
			Remaining:    0,
			ResetAt:      resetAt,
			RetryAfter:   resetAt.Sub(now),
			CurrentUsage: b.count,
			Limit:        limit.RequestsPerWindow,
		}
	}
	if consume {
		b.count++
	}
	return ratelimit.Decision{
		Allowed:      true,
		Remaining:    limit.RequestsPerWindow - b.count,
		ResetAt:      resetAt,
		CurrentUsage: b.count,
		Limit:        limit.RequestsPerWindow,
	}
}

// slidingWindow weights the previous window's count by the fraction of
// the current window remaining.
func (r *RateLimiter) slidingWindow(b *bucket, limit ratelimit.EffectiveLimit, now time.Time, consume bool) ratelimit.Decision {
	window := limit.Window()
	start := now.Truncate(window)
	if !b.windowStart.Equal(start) {
		if b.windowStart.Equal(start.Add(-window)) {
			b.prevCount = b.count
		} else {
			b.prevCount = 0
		}
		b.windowStart = start
		b.count = 0
	}
	resetAt := start.Add(window)

	elapsedFrac := now.Sub(start).Seconds() / window.Seconds()
	weighted := float64(b.count) + float64(b.prevCount)*(1-elapsedFrac)

	if weighted >= float64(limit.RequestsPerWindow) {
		return ratelimit.Decision{
			Allowed:      false,
			Remaining:    0,
			ResetAt:      resetAt,
			RetryAfter:   resetAt.Sub(now),
			CurrentUsage: int64(weighted),
			Limit:        limit.RequestsPerWindow,
		}
	}
	if consume {
		b.count++
		weighted++
	}
	remaining := limit.RequestsPerWindow - int64(weighted)
	if remaining < 0 {
		remaining = 0
	}
	return ratelimit.Decision{
		Allowed:      true,
		Remaining:    remaining,
		ResetAt:      resetAt,
		CurrentUsage: int64(weighted),
		Limit:        limit.RequestsPerWindow,
	}
}

// StartCleanup starts the background sweep goroutine. It stops when
// ctx is cancelled or Stop is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup drops buckets with no activity for maxIdle.
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxIdle)
	for k, b := range r.buckets {
		if b.lastActivity.Before(cutoff) {
			delete(r.buckets, k)
		}
	}
}

// Stop halts the cleanup goroutine and waits for it to exit.
func (r *RateLimiter) Stop() {
	r.once.Do(func() { close(r.stopChan) })
	r.wg.Wait()
}

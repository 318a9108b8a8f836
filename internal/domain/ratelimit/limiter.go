package ratelimit

import "context"

// Limiter is the port for rate-limit accounting backends.
//
// CheckAndConsume must be atomic per key across all gateway instances
// sharing a backend: remote implementations run a single server-side
// script that reads, mutates, and answers in one step. The in-memory
// implementation is only suitable for single-instance deployments.
type Limiter interface {
	// CheckAndConsume deducts one unit from the key's bucket and reports
	// the decision. A denied decision carries RetryAfter.
	CheckAndConsume(ctx context.Context, key Key, limit EffectiveLimit) (Decision, error)

	// GetStatus reports the bucket state without consuming.
	GetStatus(ctx context.Context, key Key, limit EffectiveLimit) (Decision, error)

	// Reset drops the bucket for the key.
	Reset(ctx context.Context, key Key) error

	// RemoveKeysMatching drops every bucket whose key starts with prefix.
	// Used to clear per-connection WebSocket buckets on disconnect.
	RemoveKeysMatching(ctx context.Context, prefix string) error

	// Enabled reports whether limiting is active; a disabled limiter
	// allows everything.
	Enabled() bool
}

// Package ratelimit provides rate limiting domain types, hierarchical
// limit resolution, and the limiter port.
package ratelimit

import (
	"fmt"
	"time"
)

// Algorithm selects the accounting strategy. Process-wide; every limiter
// backend implements all three.
type Algorithm string

const (
	// AlgorithmTokenBucket refills burstCapacity tokens at
	// requestsPerWindow/windowSeconds per second.
	AlgorithmTokenBucket Algorithm = "token_bucket"
	// AlgorithmFixedWindow counts per (key, floor(now/window)).
	AlgorithmFixedWindow Algorithm = "fixed_window"
	// AlgorithmSlidingWindow weights the previous fixed window by the
	// fraction of the current window remaining.
	AlgorithmSlidingWindow Algorithm = "sliding_window"
)

// IsValid reports whether the algorithm is known.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmTokenBucket, AlgorithmFixedWindow, AlgorithmSlidingWindow:
		return true
	}
	return false
}

// KeyType identifies which traffic class a bucket accounts.
type KeyType string

const (
	// KeyTypeHTTP is per-request HTTP accounting.
	KeyTypeHTTP KeyType = "http"
	// KeyTypeWSConnection is WebSocket connection establishment.
	KeyTypeWSConnection KeyType = "ws_conn"
	// KeyTypeWSMessage is per-message WebSocket accounting.
	KeyTypeWSMessage KeyType = "ws_msg"
)

// Key identifies one accounting bucket.
type Key struct {
	Type       KeyType
	ClientID   string
	ServiceID  string
	EndpointID string
}

// String renders the bucket key: "ratelimit:{type}:{client}:{service}"
// with an optional endpoint suffix.
func (k Key) String() string {
	base := fmt.Sprintf("ratelimit:%s:%s:%s", k.Type, k.ClientID, k.ServiceID)
	if k.EndpointID != "" {
		return base + ":" + k.EndpointID
	}
	return base
}

// ConnectionPrefix returns the key prefix shared by every bucket of one
// WebSocket connection, for RemoveKeysMatching on disconnect.
func (k Key) ConnectionPrefix() string {
	return fmt.Sprintf("ratelimit:%s:%s:", k.Type, k.ClientID)
}

// EffectiveLimit is the limit actually enforced after hierarchical
// resolution and platform clamping.
// Invariant: BurstCapacity >= RequestsPerWindow >= 0.
type EffectiveLimit struct {
	RequestsPerWindow int64
	WindowSeconds     int64
	BurstCapacity     int64
}

// Window returns the accounting window as a duration.
func (l EffectiveLimit) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// Decision is the outcome of one rate-limit check.
// Invariants: Remaining >= 0 and ResetAt >= the decision time.
type Decision struct {
	Allowed      bool
	Remaining    int64
	ResetAt      time.Time
	RetryAfter   time.Duration
	CurrentUsage int64
	Limit        int64
}

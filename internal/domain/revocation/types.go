package revocation

import (
	"context"
	"time"
)

// EventKind discriminates revocation events on the bus.
type EventKind string

const (
	// EventTokenRevoked announces a single token revocation.
	EventTokenRevoked EventKind = "token_revoked"
	// EventUserRevoked announces a revoke-all for a user.
	EventUserRevoked EventKind = "user_revoked"
)

// Event is published to peer instances on every revocation so their
// bloom filters and caches converge without waiting for a rebuild.
type Event struct {
	Kind EventKind `json:"kind"`
	// JTI is set for token revocations.
	JTI string `json:"jti,omitempty"`
	// UserID and IssuedBefore are set for user revocations.
	UserID       string    `json:"userId,omitempty"`
	IssuedBefore time.Time `json:"issuedBefore,omitempty"`
	// ExpiresAt bounds the revocation record's lifetime.
	ExpiresAt time.Time `json:"expiresAt"`
}

// UserRevocation is a revoke-all record for one user: every token of
// theirs issued before IssuedBefore is revoked.
type UserRevocation struct {
	UserID       string
	IssuedBefore time.Time
}

// Repository is the authoritative revocation store.
type Repository interface {
	// IsTokenRevoked reports whether the JTI has a live revocation
	// record.
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)

	// UserRevokedBefore returns the user's revoke-all cutoff, if any.
	UserRevokedBefore(ctx context.Context, userID string) (time.Time, bool, error)

	// RevokeToken writes a token revocation with the given lifetime.
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error

	// RevokeUser writes a user revoke-all record with the given
	// lifetime.
	RevokeUser(ctx context.Context, userID string, issuedBefore time.Time, ttl time.Duration) error

	// ListRevoked streams the currently live revocations for filter
	// rebuilds.
	ListRevoked(ctx context.Context) (jtis []string, users []UserRevocation, err error)
}

// EventBus fans revocation events out to peer instances.
type EventBus interface {
	// Publish sends an event to all subscribers, including remote
	// instances.
	Publish(ctx context.Context, event Event) error

	// Subscribe returns a channel of events published by other
	// instances. The channel closes when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

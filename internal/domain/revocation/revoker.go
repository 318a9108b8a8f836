package revocation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Revoker is the mutation side of the pipeline: it writes revocations
// to the store, folds them into the local checker, and publishes them
// to peer instances. It also runs the subscriber loop and the periodic
// filter rebuild.
type Revoker struct {
	repo    Repository
	bus     EventBus
	checker *Checker
	logger  *slog.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRevoker creates a Revoker bound to the checker it keeps current.
func NewRevoker(repo Repository, bus EventBus, checker *Checker, logger *slog.Logger) *Revoker {
	return &Revoker{
		repo:    repo,
		bus:     bus,
		checker: checker,
		logger:  logger.With("component", "revoker"),
		stopCh:  make(chan struct{}),
	}
}

// RevokeToken revokes a single token until its expiry.
func (r *Revoker) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; nothing to record.
		return nil
	}
	if err := r.repo.RevokeToken(ctx, jti, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	event := Event{Kind: EventTokenRevoked, JTI: jti, ExpiresAt: expiresAt}
	r.checker.observe(event)
	r.publish(ctx, event)
	return nil
}

// RevokeAllForUser revokes every token of the user issued before the
// cutoff. expiresAt bounds the record's lifetime and should cover the
// longest-lived outstanding token.
func (r *Revoker) RevokeAllForUser(ctx context.Context, userID string, issuedBefore, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.repo.RevokeUser(ctx, userID, issuedBefore, ttl); err != nil {
		return fmt.Errorf("revoke user: %w", err)
	}
	event := Event{Kind: EventUserRevoked, UserID: userID, IssuedBefore: issuedBefore, ExpiresAt: expiresAt}
	r.checker.observe(event)
	r.publish(ctx, event)
	return nil
}

func (r *Revoker) publish(ctx context.Context, event Event) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, event); err != nil {
		// Peers converge at the next rebuild; the store already holds
		// the record.
		r.logger.Warn("revocation event publish failed", "kind", event.Kind, "error", err)
	}
}

// Start launches the subscriber loop and the periodic rebuild, and
// kicks off the initial asynchronous filter build. Boot serves from an
// empty filter until that build lands.
func (r *Revoker) Start(ctx context.Context) error {
	var events <-chan Event
	if r.bus != nil {
		var err error
		events, err = r.bus.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("subscribe revocation events: %w", err)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.checker.Rebuild(ctx); err != nil {
			r.logger.Warn("initial filter build failed, serving empty filter", "error", err)
		}
		r.run(ctx, events)
	}()
	return nil
}

func (r *Revoker) run(ctx context.Context, events <-chan Event) {
	ticker := time.NewTicker(r.checker.cfg.RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.checker.Rebuild(ctx); err == nil {
				r.logger.Debug("periodic filter rebuild complete")
			}
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.checker.observe(event)
		}
	}
}

// Stop halts the background loop and waits for it to exit.
func (r *Revoker) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

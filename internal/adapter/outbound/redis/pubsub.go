package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/revocation"
)

// eventChannel is the pub-sub channel revocation events travel on.
const eventChannel = "revocation:events"

// EventBus implements revocation.EventBus on Redis pub-sub. Delivery
// is at-most-once; missed events converge at the next filter rebuild.
type EventBus struct {
	client goredis.UniversalClient
	logger *slog.Logger
}

var _ revocation.EventBus = (*EventBus)(nil)

// NewEventBus creates a Redis-backed revocation event bus.
func NewEventBus(client goredis.UniversalClient, logger *slog.Logger) *EventBus {
	return &EventBus{client: client, logger: logger.With("component", "revocation_bus")}
}

// Publish sends the event to all subscribed instances.
func (b *EventBus) Publish(ctx context.Context, event revocation.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal revocation event: %w", err)
	}
	if err := b.client.Publish(ctx, eventChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish revocation event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of peer events. The pump goroutine exits
// and closes the channel when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan revocation.Event, error) {
	sub := b.client.Subscribe(ctx, eventChannel)
	// Force the subscription to be established before returning so
	// callers never miss events published right after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", eventChannel, err)
	}

	out := make(chan revocation.Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event revocation.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.logger.Warn("dropping malformed revocation event", "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

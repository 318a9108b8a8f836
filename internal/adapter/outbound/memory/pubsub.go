package memory

import (
	"context"
	"sync"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/revocation"
)

// EventBus implements revocation.EventBus in process. Publish fans out
// to every subscriber, including the publisher's own subscription;
// folding an event twice is idempotent on the checker side.
type EventBus struct {
	mu   sync.Mutex
	subs []chan revocation.Event
}

var _ revocation.EventBus = (*EventBus)(nil)

// NewEventBus creates an empty in-process bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Publish delivers the event to every subscriber without blocking; a
// subscriber with a full buffer misses the event and converges at the
// next rebuild.
func (b *EventBus) Publish(_ context.Context, event revocation.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a buffered subscriber channel, closed when ctx
// is cancelled.
func (b *EventBus) Subscribe(ctx context.Context) (<-chan revocation.Event, error) {
	ch := make(chan revocation.Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, sub := range b.subs {
			if sub == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

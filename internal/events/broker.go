// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package events

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/logging"
)

// subscriberBuffer bounds each subscriber's backlog. A slow subscriber loses
// records rather than stalling the broker.
const subscriberBuffer = 1024

// Broker drains the ring and fans records out to subscribers.
type Broker struct {
	ring   *Ring
	logger *logging.Logger

	mu   sync.Mutex
	subs map[string]chan types.Event

	done chan struct{}
}

// NewBroker creates a broker over the given ring.
func NewBroker(ring *Ring, logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Broker{
		ring:   ring,
		logger: logger,
		subs:   make(map[string]chan types.Event),
		done:   make(chan struct{}),
	}
}

// Run drains the ring until ctx is cancelled. Call from its own goroutine.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case ev := <-b.ring.Records():
			b.fanout(ev)
		}
	}
}

// Subscribe registers a consumer and returns its id and record channel. The
// channel is closed on Unsubscribe or broker shutdown.
func (b *Broker) Subscribe() (string, <-chan types.Event) {
	id := uuid.NewString()
	ch := make(chan types.Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	n := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("Event subscriber attached", "id", id, "subscribers", n)
	return id, ch
}

// Unsubscribe detaches a consumer.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()

	if ok {
		b.logger.Debug("Event subscriber detached", "id", id)
	}
}

// Done is closed once Run has returned.
func (b *Broker) Done() <-chan struct{} { return b.done }

func (b *Broker) fanout(ev types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber backlog full; the record is gone for this consumer.
		}
	}
}

func (b *Broker) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

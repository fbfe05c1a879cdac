// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package events carries decision records from the data plane to control-plane
// consumers. The ring never blocks the producer: when consumers fall behind,
// records are dropped and only a counter remembers them. Consumers must
// tolerate gaps.
package events

import (
	"sync/atomic"

	"grimm.is/breakwater/internal/dataplane/types"
)

// DefaultCapacity is sized for a 16 MiB ring of 48-byte records.
const DefaultCapacity = (16 << 20) / 48

// Ring is the bounded event queue between the data plane and the broker.
type Ring struct {
	ch      chan types.Event
	dropped atomic.Uint64
}

// NewRing creates a ring with the given record capacity. Non-positive
// capacities fall back to DefaultCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{ch: make(chan types.Event, capacity)}
}

// Submit enqueues an event without blocking. If the ring is full the event is
// discarded and Submit reports false; the packet's verdict is unaffected
// either way.
func (r *Ring) Submit(ev types.Event) bool {
	select {
	case r.ch <- ev:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Dropped returns how many events have been discarded since start.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

// Records exposes the consumer side of the ring.
func (r *Ring) Records() <-chan types.Event { return r.ch }

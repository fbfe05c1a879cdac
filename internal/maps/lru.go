// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package maps

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// PerCPULRU models a per-CPU LRU hash map: one bounded cache per worker slot.
// The owning worker reads and mutates only its own slot inside the data plane;
// the control plane iterates every slot. Insertion into a full slot evicts the
// least-recently-looked-up entry.
//
// Values are pointers so the owning worker can mutate an entry in place
// without a second map write.
type PerCPULRU[K comparable, V any] struct {
	slots []*lru.Cache[K, *V]
}

// NewPerCPULRU creates a per-CPU LRU with the given number of worker slots and
// per-slot capacity.
func NewPerCPULRU[K comparable, V any](cpus, capacity int) (*PerCPULRU[K, V], error) {
	m := &PerCPULRU[K, V]{slots: make([]*lru.Cache[K, *V], cpus)}
	for i := range m.slots {
		c, err := lru.New[K, *V](capacity)
		if err != nil {
			return nil, err
		}
		m.slots[i] = c
	}
	return m, nil
}

// Lookup returns the entry for key in the given worker slot, promoting it to
// most recently used.
func (m *PerCPULRU[K, V]) Lookup(cpu int, key K) (*V, bool) {
	return m.slots[cpu].Get(key)
}

// Insert stores the entry for key in the given worker slot, evicting the LRU
// entry if the slot is full.
func (m *PerCPULRU[K, V]) Insert(cpu int, key K, value *V) {
	m.slots[cpu].Add(key, value)
}

// Delete removes the entry for key from the given worker slot.
func (m *PerCPULRU[K, V]) Delete(cpu int, key K) {
	m.slots[cpu].Remove(key)
}

// CPUs returns the number of worker slots.
func (m *PerCPULRU[K, V]) CPUs() int { return len(m.slots) }

// Len returns the total entry count across all slots.
func (m *PerCPULRU[K, V]) Len() int {
	n := 0
	for _, s := range m.slots {
		n += s.Len()
	}
	return n
}

// Keys returns every key in the given worker slot, oldest first. The snapshot
// may be momentarily inconsistent with concurrent data-plane updates.
func (m *PerCPULRU[K, V]) Keys(cpu int) []K {
	return m.slots[cpu].Keys()
}

// Peek returns the entry for key without promoting it. Control-plane sweeps
// use this so a scan does not perturb eviction order.
func (m *PerCPULRU[K, V]) Peek(cpu int, key K) (*V, bool) {
	return m.slots[cpu].Peek(key)
}

// Purge drops every entry in every slot and returns the number removed.
func (m *PerCPULRU[K, V]) Purge() int {
	n := 0
	for _, s := range m.slots {
		n += s.Len()
		s.Purge()
	}
	return n
}

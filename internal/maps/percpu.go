// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package maps

import (
	"sync/atomic"

	"grimm.is/breakwater/internal/dataplane/types"
)

// Stats is one CPU's slot of the global stats map: an array of u64 counters.
// Only the owning worker bumps a slot's counters; the adds are atomic so
// control-plane readers see untorn values, at the cost of one uncontended
// atomic per bump.
type Stats struct {
	counters [types.StatMax]uint64
}

// Add bumps counter idx by n.
func (s *Stats) Add(idx uint32, n uint64) {
	if idx >= types.StatMax {
		return
	}
	atomic.AddUint64(&s.counters[idx], n)
}

// Inc bumps counter idx by one.
func (s *Stats) Inc(idx uint32) { s.Add(idx, 1) }

// Get reads counter idx.
func (s *Stats) Get(idx uint32) uint64 {
	if idx >= types.StatMax {
		return 0
	}
	return atomic.LoadUint64(&s.counters[idx])
}

// PerCPUStats is the per-CPU stats map.
type PerCPUStats struct {
	slots []*Stats
}

// NewPerCPUStats creates a stats map with one slot per worker.
func NewPerCPUStats(cpus int) *PerCPUStats {
	m := &PerCPUStats{slots: make([]*Stats, cpus)}
	for i := range m.slots {
		m.slots[i] = &Stats{}
	}
	return m
}

// Slot returns the stats slot owned by the given worker.
func (m *PerCPUStats) Slot(cpu int) *Stats { return m.slots[cpu] }

// CPUs returns the number of worker slots.
func (m *PerCPUStats) CPUs() int { return len(m.slots) }

// Sum aggregates every counter across all slots. The snapshot is not a
// consistent cut; individual counters are monotonic so a later Sum never
// reports less than an earlier one.
func (m *PerCPUStats) Sum() [types.StatMax]uint64 {
	var out [types.StatMax]uint64
	for _, s := range m.slots {
		for i := uint32(0); i < types.StatMax; i++ {
			out[i] += s.Get(i)
		}
	}
	return out
}

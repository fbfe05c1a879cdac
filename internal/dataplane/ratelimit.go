// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// sourceRateLimiter enforces a per-source token bucket keyed by source IP.
// The rate is the per-protocol default unless adaptive rating is enabled and
// an adaptive override is installed for the source.
func (s *Scrubber) sourceRateLimiter(cpu int, ctx *PacketContext, nowNS uint64) types.Verdict {
	rate := s.defaultRate(ctx.L3Proto)
	if s.cfg(types.ConfigAdaptiveRateEnabled) != 0 {
		if override, ok := s.adaptiveRate(ctx.SrcIP); ok {
			rate = override
		}
	}
	if rate == 0 {
		return types.VerdictPass
	}

	bucket, ok := s.rate.Lookup(cpu, ctx.SrcIP)
	if !ok {
		bucket = &types.TokenBucket{
			Tokens:       2 * rate,
			LastRefillNS: nowNS,
			Rate:         rate,
			Burst:        2 * rate,
		}
		s.rate.Insert(cpu, ctx.SrcIP, bucket)
	} else if bucket.Rate != rate {
		// Config or override changed; the bucket follows on its next packet.
		bucket.Rate = rate
		bucket.Burst = 2 * rate
		if bucket.Tokens > bucket.Burst {
			bucket.Tokens = bucket.Burst
		}
	}

	bucket.Refill(nowNS)
	bucket.TotalPackets++
	if bucket.Tokens >= 1 {
		bucket.Tokens--
		return types.VerdictPass
	}

	bucket.Dropped++
	s.stats.Slot(cpu).Inc(types.StatRateLimited)
	s.Penalize(cpu, ctx.SrcIP, types.PenaltyRateExceeded, nowNS)
	s.emit(cpu, ctx, types.AttackNone, types.EventActionDrop, types.DropSourceRateLimit, 0, 0)
	return types.VerdictDrop
}

// globalRateLimiter paces aggregate packets per second and bytes per second
// through two per-worker buckets. Either limit at zero disables its bucket.
func (s *Scrubber) globalRateLimiter(cpu int, ctx *PacketContext, nowNS uint64) types.Verdict {
	if pps := s.cfg(types.ConfigGlobalPPSLimit); pps != 0 {
		if !consumeGlobal(&s.global[cpu][0], pps, 1, nowNS) {
			s.stats.Slot(cpu).Inc(types.StatGlobalRateDropped)
			s.emit(cpu, ctx, types.AttackNone, types.EventActionDrop, types.DropGlobalRateLimit, 0, 0)
			return types.VerdictDrop
		}
	}
	if bps := s.cfg(types.ConfigGlobalBPSLimit); bps != 0 {
		if !consumeGlobal(&s.global[cpu][1], bps, ctx.PacketLen(), nowNS) {
			s.stats.Slot(cpu).Inc(types.StatGlobalRateDropped)
			s.emit(cpu, ctx, types.AttackNone, types.EventActionDrop, types.DropGlobalRateLimit, 0, 0)
			return types.VerdictDrop
		}
	}
	return types.VerdictPass
}

// consumeGlobal takes cost tokens from an aggregate bucket, reinitializing it
// when the configured limit changes.
func consumeGlobal(b *types.TokenBucket, limit, cost, nowNS uint64) bool {
	if b.Rate != limit {
		b.Rate = limit
		b.Burst = limit
		b.Tokens = limit
		b.LastRefillNS = nowNS
	}
	b.Refill(nowNS)
	b.TotalPackets++
	if b.Tokens >= cost {
		b.Tokens -= cost
		return true
	}
	b.Dropped++
	return false
}

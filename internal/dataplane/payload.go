// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"sync/atomic"

	"grimm.is/breakwater/internal/dataplane/types"
)

// payloadFilter compares the L4 payload against the active masked patterns.
// The rule scan and the byte compare are both bounded.
func (s *Scrubber) payloadFilter(cpu int, ctx *PacketContext) types.Verdict {
	if s.cfg(types.ConfigPayloadMatchEnabled) == 0 || !ctx.HasL4 || ctx.PayloadLen <= 0 {
		return types.VerdictPass
	}
	n := s.payloadCount.Load()
	if n == 0 {
		return types.VerdictPass
	}
	if n > types.PayloadRuleScanLimit {
		n = types.PayloadRuleScanLimit
	}

	s.ruleMu.RLock()
	defer s.ruleMu.RUnlock()

	for i := uint32(0); i < n; i++ {
		rule := &s.payloadRules[i]
		if !s.payloadRuleMatches(rule, ctx) {
			continue
		}
		atomic.AddUint64(&rule.Hits, 1)

		switch rule.Action {
		case types.PayloadActionDrop:
			s.stats.Slot(cpu).Inc(types.StatPayloadDropped)
			s.Penalize(cpu, ctx.SrcIP, types.PenaltyBadPayload, s.now())
			s.emit(cpu, ctx, types.AttackPayload, types.EventActionDrop, types.DropPayload, 0, 0)
			return types.VerdictDrop
		case types.PayloadActionRateLimit:
			rate := s.defaultRate(ctx.L3Proto) / 4
			s.InstallAdaptiveOverride(ctx.SrcIP, rate)
			return types.VerdictPass
		case types.PayloadActionMonitor:
			s.emit(cpu, ctx, types.AttackPayload, types.EventActionPass, types.DropNone, 0, 0)
			return types.VerdictPass
		}
	}
	return types.VerdictPass
}

// payloadRuleMatches applies one masked pattern to the payload bytes. Every
// dereference is bounds-checked against both the frame and the declared
// payload length.
func (s *Scrubber) payloadRuleMatches(rule *types.PayloadRule, ctx *PacketContext) bool {
	if rule.Proto != 0 && rule.Proto != ctx.L3Proto {
		return false
	}
	if rule.DstPort != 0 && rule.DstPort != ctx.DstPort {
		return false
	}
	plen := int(rule.PatternLen)
	if plen <= 0 || plen > types.PayloadPatternMax {
		return false
	}

	start := ctx.PayloadOffset + int(rule.Offset)
	end := ctx.PayloadOffset + ctx.PayloadLen
	if end > len(ctx.Data) {
		end = len(ctx.Data)
	}
	if start < ctx.PayloadOffset || start+plen > end {
		return false
	}

	data := ctx.Data[start : start+plen]
	for i := 0; i < plen; i++ {
		if data[i]&rule.Mask[i] != rule.Pattern[i]&rule.Mask[i] {
			return false
		}
	}
	return true
}

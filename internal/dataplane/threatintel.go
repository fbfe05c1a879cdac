// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// threatThresholds returns the confidence levels at which an entry drops or
// rate-limits, tightening with the escalation level.
func threatThresholds(escalation uint64) (drop, rateLimit uint8) {
	switch escalation {
	case types.EscalationCritical:
		return 30, 10
	case types.EscalationHigh:
		return 50, 30
	default:
		return 80, 50
	}
}

// threatIntelFilter acts on threat-feed entries covering the source address.
func (s *Scrubber) threatIntelFilter(cpu int, ctx *PacketContext) types.Verdict {
	if s.cfg(types.ConfigThreatIntelEnabled) == 0 {
		return types.VerdictPass
	}
	entry, ok := s.threatIntel.Lookup(ctx.SrcIP)
	if !ok {
		return types.VerdictPass
	}

	dropAt, rateAt := threatThresholds(s.escalation())

	switch entry.Action {
	case types.ThreatActionDrop:
		if entry.Confidence >= dropAt {
			s.stats.Slot(cpu).Inc(types.StatThreatIntelDropped)
			s.emit(cpu, ctx, types.AttackReputation, types.EventActionDrop, types.DropThreatIntel, 0, 0)
			return types.VerdictDrop
		}
	case types.ThreatActionRateLimit:
		if entry.Confidence >= rateAt {
			rate := s.defaultRate(ctx.L3Proto) / 4
			s.InstallAdaptiveOverride(ctx.SrcIP, rate)
		}
	case types.ThreatActionMonitor:
		s.emit(cpu, ctx, types.AttackReputation, types.EventActionPass, types.DropNone, 0, 0)
	}
	return types.VerdictPass
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// geoIPFilter applies per-country policy to the source address. A country
// policy takes precedence over the GeoIP entry's own action. Sources with no
// GeoIP entry, or with neither a policy nor a per-entry action, pass, except
// at CRITICAL escalation where they drop.
func (s *Scrubber) geoIPFilter(cpu int, ctx *PacketContext) types.Verdict {
	if s.cfg(types.ConfigGeoIPEnabled) == 0 {
		return types.VerdictPass
	}

	critical := s.escalation() == types.EscalationCritical

	entry, ok := s.geoip.Lookup(ctx.SrcIP)
	if !ok {
		if critical {
			s.stats.Slot(cpu).Inc(types.StatGeoIPDropped)
			s.emit(cpu, ctx, types.AttackGeoIP, types.EventActionDrop, types.DropGeoIP, 0, 0)
			return types.VerdictDrop
		}
		return types.VerdictPass
	}

	action := entry.Action
	if policy, ok := s.lookupCountryPolicy(entry.Country); ok {
		action = policy
	} else if action == types.CountryActionPass {
		// No per-entry action and no per-country policy.
		if critical {
			s.stats.Slot(cpu).Inc(types.StatGeoIPDropped)
			s.emit(cpu, ctx, types.AttackGeoIP, types.EventActionDrop, types.DropGeoIP, 0, entry.Country)
			return types.VerdictDrop
		}
		return types.VerdictPass
	}

	switch action {
	case types.CountryActionDrop:
		s.stats.Slot(cpu).Inc(types.StatGeoIPDropped)
		s.emit(cpu, ctx, types.AttackGeoIP, types.EventActionDrop, types.DropGeoIP, 0, entry.Country)
		return types.VerdictDrop
	case types.CountryActionRateLimit:
		rate := s.defaultRate(ctx.L3Proto) / 2
		s.InstallAdaptiveOverride(ctx.SrcIP, rate)
	case types.CountryActionMonitor:
		s.emit(cpu, ctx, types.AttackGeoIP, types.EventActionPass, types.DropNone, 0, entry.Country)
	}
	return types.VerdictPass
}

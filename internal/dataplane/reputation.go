// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// decayRate is how many score points drain per second; decayTickCap bounds
// the catch-up work for a long-idle source.
const (
	decayRate    = 5
	decayTickCap = 60
)

// reputationThreshold returns the configured auto-block score.
func (s *Scrubber) reputationThreshold() uint32 {
	t := s.cfg(types.ConfigReputationThreshold)
	if t == 0 {
		return types.DefaultReputationThreshold
	}
	return uint32(t)
}

// reputationFilter scores the source, decays old score, detects port scans,
// and drops blocked or over-threshold sources. A source latched blocked stays
// blocked until the control plane clears it.
func (s *Scrubber) reputationFilter(cpu int, ctx *PacketContext, nowNS uint64) types.Verdict {
	if s.cfg(types.ConfigReputationEnabled) == 0 {
		return types.VerdictPass
	}
	st := s.stats.Slot(cpu)

	rep, ok := s.reputation.Lookup(cpu, ctx.SrcIP)
	if !ok {
		rep = &types.Reputation{
			FirstSeenNS: nowNS,
			LastSeenNS:  nowNS,
			LastDecayNS: nowNS,
		}
		s.reputation.Insert(cpu, ctx.SrcIP, rep)
		s.detectPortScan(cpu, ctx, rep, nowNS)
		if rep.Score >= s.reputationThreshold() {
			return s.blockSource(cpu, ctx, rep)
		}
		return types.VerdictPass
	}

	if rep.Blocked != 0 {
		rep.DroppedPacket++
		st.Inc(types.StatReputationDropped)
		s.emit(cpu, ctx, types.AttackReputation, types.EventActionDrop, types.DropReputation, rep.Score, 0)
		return types.VerdictDrop
	}

	rep.TotalPackets++
	rep.LastSeenNS = nowNS
	decayScore(rep, nowNS)

	s.detectPortScan(cpu, ctx, rep, nowNS)

	if rep.Score >= s.reputationThreshold() {
		return s.blockSource(cpu, ctx, rep)
	}
	return types.VerdictPass
}

func (s *Scrubber) blockSource(cpu int, ctx *PacketContext, rep *types.Reputation) types.Verdict {
	rep.Blocked = 1
	rep.DroppedPacket++
	st := s.stats.Slot(cpu)
	st.Inc(types.StatReputationBlocked)
	st.Inc(types.StatReputationDropped)
	s.emit(cpu, ctx, types.AttackReputation, types.EventActionDrop, types.DropReputation, rep.Score, 0)
	return types.VerdictDrop
}

// decayScore drains the score by decayRate per elapsed second, saturating at
// zero. The tick count is capped so one packet never does unbounded catch-up.
func decayScore(rep *types.Reputation, nowNS uint64) {
	if nowNS <= rep.LastDecayNS {
		return
	}
	ticks := (nowNS - rep.LastDecayNS) / 1e9
	if ticks == 0 {
		return
	}
	if ticks > decayTickCap {
		ticks = decayTickCap
	}
	drain := uint32(ticks * decayRate)
	if drain >= rep.Score {
		rep.Score = 0
	} else {
		rep.Score -= drain
	}
	rep.LastDecayNS = nowNS
}

// DecayReputation applies the standard score decay to an entry. The
// control-plane sweep shares the data plane's decay schedule.
func DecayReputation(rep *types.Reputation, nowNS uint64) {
	decayScore(rep, nowNS)
}

// detectPortScan marks the destination port in the source's 10-second window
// bitmap and penalizes the score when the distinct-port count crosses the
// threshold.
func (s *Scrubber) detectPortScan(cpu int, ctx *PacketContext, rep *types.Reputation, nowNS uint64) {
	if !ctx.HasL4 || (ctx.L3Proto != ProtoTCP && ctx.L3Proto != ProtoUDP) {
		return
	}

	ps, ok := s.portScan.Lookup(cpu, ctx.SrcIP)
	if !ok {
		ps = &types.PortScan{WindowStartNS: nowNS}
		s.portScan.Insert(cpu, ctx.SrcIP, ps)
	} else if nowNS-ps.WindowStartNS > types.PortScanWindowNS {
		ps.WindowStartNS = nowNS
		ps.PortBitmap = 0
		ps.DistinctPorts = 0
	}

	bit := uint64(1) << (ctx.DstPort & 63)
	if ps.PortBitmap&bit == 0 {
		ps.PortBitmap |= bit
		ps.DistinctPorts++
		rep.DistinctPorts = uint16(ps.DistinctPorts)
		// The count only moves on a new port, so the penalty fires once per
		// window.
		if ps.DistinctPorts == types.PortScanThreshold {
			s.addPenalty(rep, types.PenaltyPortScan)
			s.stats.Slot(cpu).Inc(types.StatPortScansDetected)
		}
	}
}

// addPenalty raises a reputation score, saturating at ScoreMax.
func (s *Scrubber) addPenalty(rep *types.Reputation, weight uint32) {
	rep.Violations++
	if rep.Score+weight > types.ScoreMax {
		rep.Score = types.ScoreMax
		return
	}
	rep.Score += weight
}

// Penalize raises the source's reputation score by the given violation
// weight; mitigation stages call in here when they observe misbehavior. The
// block decision itself is made by the reputation stage on a later packet.
func (s *Scrubber) Penalize(cpu int, srcIP uint32, weight uint32, nowNS uint64) {
	if s.cfg(types.ConfigReputationEnabled) == 0 {
		return
	}
	rep, ok := s.reputation.Lookup(cpu, srcIP)
	if !ok {
		rep = &types.Reputation{
			FirstSeenNS: nowNS,
			LastSeenNS:  nowNS,
			LastDecayNS: nowNS,
		}
		s.reputation.Insert(cpu, srcIP, rep)
	}
	s.addPenalty(rep, weight)
}

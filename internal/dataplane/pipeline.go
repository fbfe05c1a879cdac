// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// Process runs one frame through the pipeline on the given worker slot and
// returns the verdict. The frame may be rewritten in place when the verdict
// is VerdictTransmit (SYN-ACK synthesis).
func (s *Scrubber) Process(cpu int, frame []byte) types.Verdict {
	st := s.stats.Slot(cpu)

	var ctx PacketContext
	if err := Parse(frame, &ctx); err != nil {
		st.Inc(types.StatMalformed)
		st.Inc(types.StatDropPackets)
		st.Add(types.StatDropBytes, uint64(len(frame)))
		s.emit(cpu, &ctx, types.AttackNone, types.EventActionDrop, types.DropMalformed, 0, 0)
		return types.VerdictDrop
	}

	nowNS := s.now()
	s.est[cpu].tick(nowNS, ctx.PacketLen())
	st.Inc(types.StatRxPackets)
	st.Add(types.StatRxBytes, ctx.PacketLen())

	if s.cfg(types.ConfigEnabled) == 0 {
		st.Inc(types.StatPassPackets)
		st.Inc(types.StatTxPackets)
		st.Add(types.StatTxBytes, ctx.PacketLen())
		return types.VerdictPass
	}

	verdict := s.run(cpu, &ctx, nowNS)
	switch verdict {
	case types.VerdictPass:
		st.Inc(types.StatPassPackets)
		st.Inc(types.StatTxPackets)
		st.Add(types.StatTxBytes, ctx.PacketLen())
	case types.VerdictTransmit, types.VerdictRedirect:
		st.Inc(types.StatTxPackets)
		st.Add(types.StatTxBytes, ctx.PacketLen())
	case types.VerdictDrop:
		st.Inc(types.StatDropPackets)
		st.Add(types.StatDropBytes, ctx.PacketLen())
	}
	return verdict
}

// run walks the mitigation stages in order. Stage order is fixed; any stage
// may short-circuit the walk.
func (s *Scrubber) run(cpu int, ctx *PacketContext, nowNS uint64) types.Verdict {
	// ACL first: a whitelist hit bypasses every later stage.
	if v, decided := s.aclFilter(cpu, ctx); decided {
		return v
	}
	if v := s.threatIntelFilter(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.geoIPFilter(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.reputationFilter(cpu, ctx, nowNS); v != types.VerdictPass {
		return v
	}
	if v := s.fragmentFilter(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.signatureFilter(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.payloadFilter(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.protocolValidator(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.synFloodFilter(cpu, ctx, nowNS); v != types.VerdictPass {
		return v
	}
	if v := s.ackFloodFilter(cpu, ctx, nowNS); v != types.VerdictPass {
		return v
	}
	if v := s.udpFloodFilter(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.icmpFloodFilter(cpu, ctx); v != types.VerdictPass {
		return v
	}
	if v := s.sourceRateLimiter(cpu, ctx, nowNS); v != types.VerdictPass {
		return v
	}
	if v := s.globalRateLimiter(cpu, ctx, nowNS); v != types.VerdictPass {
		return v
	}
	s.conntrackUpdate(cpu, ctx, nowNS)

	// Clean traffic for a protected prefix behind a return tunnel leaves via
	// redirect instead of the host stack.
	if _, ok := s.greTunnels.Lookup(ctx.DstIP); ok {
		return types.VerdictRedirect
	}
	return types.VerdictPass
}

// emit submits a decision record to the event ring. Submission never blocks;
// a full ring only bumps the dropped-events counter.
func (s *Scrubber) emit(cpu int, ctx *PacketContext, attack, action, reason uint8, score uint32, country uint16) {
	est := &s.est[cpu]
	ev := types.Event{
		Timestamp:       s.now(),
		SrcIP:           ctx.SrcIP,
		DstIP:           ctx.DstIP,
		SrcPort:         ctx.SrcPort,
		DstPort:         ctx.DstPort,
		Proto:           ctx.L3Proto,
		Attack:          attack,
		Action:          action,
		DropReason:      reason,
		PPS:             est.pps,
		BPS:             est.bps,
		ReputationScore: score,
		Country:         country,
		Escalation:      uint8(s.escalation()),
	}
	if !s.ring.Submit(ev) {
		s.stats.Slot(cpu).Inc(types.StatEventsDropped)
	}
}

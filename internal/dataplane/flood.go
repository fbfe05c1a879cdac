// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// ackFloodFilter drops pure ACKs that belong to no tracked flow in either
// direction.
func (s *Scrubber) ackFloodFilter(cpu int, ctx *PacketContext, nowNS uint64) types.Verdict {
	if s.cfg(types.ConfigConntrackEnabled) == 0 || ctx.L3Proto != ProtoTCP || !ctx.HasL4 {
		return types.VerdictPass
	}
	if ctx.TCPFlags&(TCPSyn|TCPFin|TCPRst) != 0 || ctx.TCPFlags&TCPAck == 0 {
		return types.VerdictPass
	}

	// Advance last-seen only; the conntrack updater at the end of the
	// pipeline is the single accounting point for packet and byte counters.
	key := connKey(ctx)
	if entry, ok := s.conntrack.Lookup(cpu, key); ok {
		entry.LastSeenNS = nowNS
		return types.VerdictPass
	}
	if entry, ok := s.conntrack.Lookup(cpu, key.Reverse()); ok {
		entry.LastSeenNS = nowNS
		return types.VerdictPass
	}

	s.stats.Slot(cpu).Inc(types.StatAckFloodDropped)
	s.emit(cpu, ctx, types.AttackAckFlood, types.EventActionDrop, types.DropAckFlood, 0, 0)
	return types.VerdictDrop
}

// ampLimit is one reflector-port size heuristic.
type ampLimit struct {
	maxPayload int
	counter    uint32
	attack     uint8
}

// reflectorLimits maps known reflector source ports to the payload size above
// which a packet is amplification.
var reflectorLimits = map[uint16]ampLimit{
	portDNS:       {512, types.StatDNSAmpDropped, types.AttackDNSAmp},
	portNTP:       {468, types.StatNTPAmpDropped, types.AttackNTPAmp},
	portSSDP:      {256, types.StatSSDPAmpDropped, types.AttackSSDPAmp},
	portMemcached: {1400, types.StatMemcachedDropped, types.AttackMemcachedAmp},
	portCHARGEN:   {256, types.StatUDPAmpDropped, types.AttackUDPFlood},
	portCLDAP:     {256, types.StatUDPAmpDropped, types.AttackUDPFlood},
	portSNMP:      {256, types.StatUDPAmpDropped, types.AttackUDPFlood},
}

// ampSensitiveLimit applies to ports registered amplification-sensitive in
// the port-protocol map.
const ampSensitiveLimit = 512

// udpFloodFilter applies response-size heuristics to traffic sourced from
// known reflector ports.
func (s *Scrubber) udpFloodFilter(cpu int, ctx *PacketContext) types.Verdict {
	if ctx.L3Proto != ProtoUDP || !ctx.HasL4 {
		return types.VerdictPass
	}

	if lim, ok := reflectorLimits[ctx.SrcPort]; ok && ctx.PayloadLen > lim.maxPayload {
		return s.dropAmplification(cpu, ctx, lim.attack, lim.counter)
	}
	if s.portBits(ctx.SrcPort)&PortAmpSensitive != 0 && ctx.PayloadLen > ampSensitiveLimit {
		return s.dropAmplification(cpu, ctx, types.AttackUDPFlood, types.StatUDPAmpDropped)
	}
	return types.VerdictPass
}

func (s *Scrubber) dropAmplification(cpu int, ctx *PacketContext, attack uint8, counter uint32) types.Verdict {
	s.stats.Slot(cpu).Inc(counter)
	s.emit(cpu, ctx, attack, types.EventActionDrop, types.DropUDPAmplification, 0, 0)
	return types.VerdictDrop
}

// icmpAllowedTypes: echo-reply, dest-unreachable, echo-request,
// time-exceeded.
var icmpAllowedTypes = map[uint16]bool{0: true, 3: true, 8: true, 11: true}

// icmpMaxLen caps the ICMP header plus payload.
const icmpMaxLen = 1024

// icmpFloodFilter allows only benign ICMP types within a size cap. The ICMP
// type rides in the destination-port slot of the context.
func (s *Scrubber) icmpFloodFilter(cpu int, ctx *PacketContext) types.Verdict {
	if ctx.L3Proto != ProtoICMP || !ctx.HasL4 {
		return types.VerdictPass
	}
	if !icmpAllowedTypes[ctx.DstPort] || ctx.PayloadLen+8 > icmpMaxLen {
		s.stats.Slot(cpu).Inc(types.StatICMPDropped)
		s.emit(cpu, ctx, types.AttackICMPFlood, types.EventActionDrop, types.DropICMPFlood, 0, 0)
		return types.VerdictDrop
	}
	return types.VerdictPass
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"bytes"
	"encoding/binary"

	"grimm.is/breakwater/internal/dataplane/types"
)

// Well-known reflector ports.
const (
	portDNS       = 53
	portNTP       = 123
	portSNMP      = 161
	portCLDAP     = 389
	portSSDP      = 1900
	portMemcached = 11211
	portCHARGEN   = 19
)

// NTP packet modes.
const (
	ntpModeClient  = 3
	ntpModeServer  = 4
	ntpModeControl = 6
	ntpModeMonlist = 7
)

// dnsMaxAnswers is the answer count above which an inbound response is
// treated as amplification-sized.
const dnsMaxAnswers = 10

// connKey builds the forward 5-tuple for the packet.
func connKey(ctx *PacketContext) types.ConnKey {
	return types.ConnKey{
		SrcIP:   ctx.SrcIP,
		DstIP:   ctx.DstIP,
		SrcPort: ctx.SrcPort,
		DstPort: ctx.DstPort,
		Proto:   ctx.L3Proto,
	}
}

// protocolValidator runs L7 sanity checks for DNS, NTP, SSDP, and Memcached,
// and the read-only TCP state machine. State transitions themselves happen in
// the conntrack updater; this stage only reads and counts.
func (s *Scrubber) protocolValidator(cpu int, ctx *PacketContext) types.Verdict {
	if s.cfg(types.ConfigProtoValidation) == 0 || !ctx.HasL4 {
		return types.VerdictPass
	}

	if ctx.L3Proto == ProtoTCP {
		return s.validateTCPState(cpu, ctx)
	}
	if ctx.L3Proto != ProtoUDP {
		return types.VerdictPass
	}

	bits := s.portBits(ctx.DstPort)
	switch {
	case ctx.DstPort == portDNS || bits&PortProtoDNS != 0:
		return s.validateDNS(cpu, ctx)
	case ctx.DstPort == portNTP || bits&PortProtoNTP != 0:
		return s.validateNTP(cpu, ctx)
	case ctx.DstPort == portSSDP || bits&PortProtoSSDP != 0:
		return s.validateSSDP(cpu, ctx)
	case ctx.DstPort == portMemcached || bits&PortProtoMemcached != 0:
		return s.dropProtoViolation(cpu, ctx, types.AttackMemcachedAmp,
			types.DropMemcached, types.StatMemcachedDropped)
	}
	return types.VerdictPass
}

// validateTCPState checks the packet's flags against the allowed transitions
// for the flow's stored state.
func (s *Scrubber) validateTCPState(cpu int, ctx *PacketContext) types.Verdict {
	if s.cfg(types.ConfigTCPStateEnabled) == 0 || s.cfg(types.ConfigConntrackEnabled) == 0 {
		return types.VerdictPass
	}

	entry, ok := s.conntrack.Lookup(cpu, connKey(ctx))
	if !ok {
		pureSYN := ctx.TCPFlags&(TCPSyn|TCPAck) == TCPSyn
		bareRST := ctx.TCPFlags == TCPRst
		if pureSYN || bareRST {
			return types.VerdictPass
		}
		return s.dropTCPState(cpu, ctx)
	}

	violation := !tcpFlagsAllowed(entry.State, ctx.TCPFlags)
	if !violation && entry.State == types.ConnStateEstablished && entry.ExpectedSeq != 0 {
		violation = !seqInWindow(ctx.Seq, entry.ExpectedSeq)
	}
	if !violation {
		return types.VerdictPass
	}

	if entry.Violations < 0xFF {
		entry.Violations++
	}
	threshold := uint8(3)
	if s.escalation() >= types.EscalationHigh {
		threshold = 1
	}
	if entry.Violations > threshold {
		return s.dropTCPState(cpu, ctx)
	}
	return types.VerdictPass
}

func (s *Scrubber) dropTCPState(cpu int, ctx *PacketContext) types.Verdict {
	st := s.stats.Slot(cpu)
	st.Inc(types.StatTCPStateDropped)
	st.Inc(types.StatProtoViolationDropped)
	s.Penalize(cpu, ctx.SrcIP, types.PenaltyProtoAnomaly, s.now())
	s.emit(cpu, ctx, types.AttackProtoViolation, types.EventActionDrop, types.DropTCPState, 0, 0)
	return types.VerdictDrop
}

// tcpFlagsAllowed is the per-state allow table for observed flag bytes.
func tcpFlagsAllowed(state uint8, flags uint8) bool {
	switch state {
	case types.ConnStateNew:
		return flags == TCPSyn
	case types.ConnStateSynSent:
		return flags&(TCPSyn|TCPAck) == TCPSyn|TCPAck || flags&TCPRst != 0
	case types.ConnStateSynRecv:
		// SYN alone is a violation here.
		return (flags&TCPAck != 0 && flags&TCPSyn == 0) || flags&TCPRst != 0
	case types.ConnStateEstablished:
		return !(flags&TCPSyn != 0 && flags&TCPAck == 0)
	case types.ConnStateFinWait:
		return flags&TCPSyn == 0
	case types.ConnStateClosed, types.ConnStateTimeWait, types.ConnStateRst:
		return flags&TCPRst != 0
	default:
		return true
	}
}

// seqInWindow checks unsigned circular distance between seq and expected
// against a fixed 2^30 window.
func seqInWindow(seq, expected uint32) bool {
	const window = uint32(1) << 30
	d := seq - expected
	return d <= window || -d <= window
}

// validateDNS applies the configured DNS validation mode to port-53 UDP.
func (s *Scrubber) validateDNS(cpu int, ctx *PacketContext) types.Verdict {
	mode := s.cfg(types.ConfigDNSValidationMode)
	if mode == 0 {
		return types.VerdictPass
	}
	p, ok := s.payload(ctx, 12)
	if !ok {
		return types.VerdictPass
	}

	flags := binary.BigEndian.Uint16(p[2:4])
	qr := flags>>15 != 0
	opcode := uint8(flags >> 11 & 0xF)
	qdcount := binary.BigEndian.Uint16(p[4:6])
	ancount := binary.BigEndian.Uint16(p[6:8])

	if qr && ancount > dnsMaxAnswers {
		return s.dropProtoViolation(cpu, ctx, types.AttackDNSAmp,
			types.DropProtoViolation, types.StatDNSAmpDropped)
	}
	if mode >= 2 && !qr {
		if qdcount != 1 || opcode != 0 || ctx.PayloadLen > 512 {
			return s.dropProtoViolation(cpu, ctx, types.AttackProtoViolation,
				types.DropProtoViolation, types.StatProtoViolationDropped)
		}
	}
	return types.VerdictPass
}

// validateNTP blocks monlist outright, control mode without an established
// flow, and undersized client/server packets.
func (s *Scrubber) validateNTP(cpu int, ctx *PacketContext) types.Verdict {
	p, ok := s.payload(ctx, 1)
	if !ok {
		return types.VerdictPass
	}
	mode := p[0] & 0x07

	switch mode {
	case ntpModeMonlist:
		return s.dropProtoViolation(cpu, ctx, types.AttackNTPAmp,
			types.DropNTPMonlist, types.StatNTPMonlistBlocked)
	case ntpModeControl:
		if !s.hasEstablishedConn(cpu, ctx) {
			return s.dropProtoViolation(cpu, ctx, types.AttackNTPAmp,
				types.DropProtoViolation, types.StatProtoViolationDropped)
		}
	case ntpModeClient, ntpModeServer:
		if ctx.PayloadLen < 48 {
			return s.dropProtoViolation(cpu, ctx, types.AttackProtoViolation,
				types.DropProtoViolation, types.StatProtoViolationDropped)
		}
	}
	return types.VerdictPass
}

var (
	ssdpHTTPMarker   = []byte("HTTP/1.1")
	ssdpNotifyMarker = []byte("NOTIFY")
)

// validateSSDP drops response and NOTIFY payloads arriving inbound on the
// SSDP port; both indicate reflection.
func (s *Scrubber) validateSSDP(cpu int, ctx *PacketContext) types.Verdict {
	if p, ok := s.payload(ctx, len(ssdpHTTPMarker)); ok && bytes.Equal(p[:len(ssdpHTTPMarker)], ssdpHTTPMarker) {
		return s.dropProtoViolation(cpu, ctx, types.AttackSSDPAmp,
			types.DropSSDPReflection, types.StatSSDPAmpDropped)
	}
	if p, ok := s.payload(ctx, len(ssdpNotifyMarker)); ok && bytes.Equal(p[:len(ssdpNotifyMarker)], ssdpNotifyMarker) {
		return s.dropProtoViolation(cpu, ctx, types.AttackSSDPAmp,
			types.DropSSDPReflection, types.StatSSDPAmpDropped)
	}
	return types.VerdictPass
}

// hasEstablishedConn reports whether either direction of the 5-tuple has an
// established conntrack entry.
func (s *Scrubber) hasEstablishedConn(cpu int, ctx *PacketContext) bool {
	key := connKey(ctx)
	if e, ok := s.conntrack.Lookup(cpu, key); ok && e.State == types.ConnStateEstablished {
		return true
	}
	if e, ok := s.conntrack.Lookup(cpu, key.Reverse()); ok && e.State == types.ConnStateEstablished {
		return true
	}
	return false
}

// dropProtoViolation drops with a protocol-violation event, bumping the given
// counter plus the aggregate proto-violation counter.
func (s *Scrubber) dropProtoViolation(cpu int, ctx *PacketContext, attack, reason uint8, counter uint32) types.Verdict {
	st := s.stats.Slot(cpu)
	st.Inc(counter)
	if counter != types.StatProtoViolationDropped {
		st.Inc(types.StatProtoViolationDropped)
	}
	s.Penalize(cpu, ctx.SrcIP, types.PenaltyProtoAnomaly, s.now())
	s.emit(cpu, ctx, attack, types.EventActionDrop, reason, 0, 0)
	return types.VerdictDrop
}

// payload returns the first n payload bytes if they lie within both the frame
// and the declared payload length.
func (s *Scrubber) payload(ctx *PacketContext, n int) ([]byte, bool) {
	if ctx.PayloadLen < n || ctx.PayloadOffset+n > len(ctx.Data) {
		return nil, false
	}
	return ctx.Data[ctx.PayloadOffset : ctx.PayloadOffset+n], true
}

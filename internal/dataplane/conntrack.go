// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// conntrackUpdate maintains the 5-tuple flow table: counters, last-seen, and
// TCP state transitions. It is informational and never drops; the verdict
// stages (ACK flood, protocol validator) read what it writes.
func (s *Scrubber) conntrackUpdate(cpu int, ctx *PacketContext, nowNS uint64) {
	if s.cfg(types.ConfigConntrackEnabled) == 0 || !ctx.HasL4 {
		return
	}
	switch ctx.L3Proto {
	case ProtoTCP, ProtoUDP, ProtoICMP:
	default:
		return
	}
	st := s.stats.Slot(cpu)
	key := connKey(ctx)

	if entry, ok := s.conntrack.Lookup(cpu, key); ok {
		entry.LastSeenNS = nowNS
		entry.FwdPackets++
		entry.FwdBytes += uint32(ctx.PacketLen())
		if ctx.L3Proto == ProtoTCP {
			tcpTransition(entry, ctx.TCPFlags, false)
			updateExpectedSeq(entry, ctx)
		}
		st.Inc(types.StatConntrackHits)
		return
	}

	if entry, ok := s.conntrack.Lookup(cpu, key.Reverse()); ok {
		entry.LastSeenNS = nowNS
		entry.RevPackets++
		entry.RevBytes += uint32(ctx.PacketLen())
		switch ctx.L3Proto {
		case ProtoTCP:
			tcpTransition(entry, ctx.TCPFlags, true)
		default:
			// Bidirectional UDP/ICMP traffic promotes the flow.
			if entry.State == types.ConnStateNew {
				entry.State = types.ConnStateEstablished
			}
		}
		st.Inc(types.StatConntrackHits)
		return
	}

	s.conntrack.Insert(cpu, key, &types.ConnEntry{
		LastSeenNS: nowNS,
		FwdPackets: 1,
		FwdBytes:   uint32(ctx.PacketLen()),
		State:      types.ConnStateNew,
	})
	st.Inc(types.StatConntrackCreated)
}

// tcpTransition advances the stored state for the observed flag byte. The
// transitions are deterministic; unknown combinations leave the state alone.
func tcpTransition(entry *types.ConnEntry, flags uint8, reverse bool) {
	switch entry.State {
	case types.ConnStateNew:
		if !reverse && flags&TCPSyn != 0 && flags&TCPAck == 0 {
			entry.State = types.ConnStateSynSent
		}
	case types.ConnStateSynSent:
		if reverse && flags&(TCPSyn|TCPAck) == TCPSyn|TCPAck {
			entry.State = types.ConnStateSynRecv
		}
	case types.ConnStateSynRecv:
		if !reverse && flags&TCPAck != 0 && flags&TCPSyn == 0 {
			entry.State = types.ConnStateEstablished
		}
	case types.ConnStateEstablished:
		if flags&TCPRst != 0 {
			entry.State = types.ConnStateClosed
		} else if flags&TCPFin != 0 {
			entry.State = types.ConnStateFinWait
		}
	case types.ConnStateFinWait:
		if flags&TCPRst != 0 || (reverse && flags&TCPFin != 0) {
			entry.State = types.ConnStateClosed
		}
	}
}

// updateExpectedSeq records the next sequence number we expect from the
// forward direction: current seq plus payload, plus one for SYN or FIN.
func updateExpectedSeq(entry *types.ConnEntry, ctx *PacketContext) {
	// Out-of-window segments do not move the tracker; the validator keeps
	// flagging them against the last good position.
	if entry.ExpectedSeq != 0 && !seqInWindow(ctx.Seq, entry.ExpectedSeq) {
		return
	}
	next := ctx.Seq + uint32(ctx.PayloadLen)
	if ctx.TCPFlags&(TCPSyn|TCPFin) != 0 {
		next++
	}
	entry.ExpectedSeq = next
}

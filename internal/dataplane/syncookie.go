// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"encoding/binary"

	"github.com/dchest/siphash"

	"grimm.is/breakwater/internal/dataplane/types"
)

// cookieKey1 is the fixed second SipHash key; the first is derived from the
// rotating seed.
const cookieKey1 = 0x7465646279746573

// mssTable maps the 2-bit index encoded in a cookie's low bits to an MSS.
var mssTable = [4]uint16{256, 536, 1220, 1460}

// cookieHash computes SipHash-2-4 over the flow 4-tuple under the given seed.
func cookieHash(seed uint32, srcIP, dstIP uint32, srcPort, dstPort uint16) uint32 {
	k0 := uint64(seed) | uint64(seed)<<32
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], srcIP)
	binary.BigEndian.PutUint32(buf[4:8], dstIP)
	binary.BigEndian.PutUint16(buf[8:10], srcPort)
	binary.BigEndian.PutUint16(buf[10:12], dstPort)
	return uint32(siphash.Hash(k0, cookieKey1, buf[:]))
}

// makeCookie builds a cookie: the hash's high 30 bits plus a 2-bit MSS index.
func makeCookie(seed uint32, ctx *PacketContext, mssIdx uint32) uint32 {
	h := cookieHash(seed, ctx.SrcIP, ctx.DstIP, ctx.SrcPort, ctx.DstPort)
	return h&^3 | mssIdx&3
}

// cookieValid reports whether the cookie's hash bits match the tuple under
// the given seed. The MSS bits are not part of the check.
func cookieValid(cookie, seed uint32, ctx *PacketContext) bool {
	h := cookieHash(seed, ctx.SrcIP, ctx.DstIP, ctx.SrcPort, ctx.DstPort)
	return cookie&^3 == h&^3
}

// mssIndexFor picks the largest table entry not exceeding the client's MSS.
func mssIndexFor(mss uint16) uint32 {
	switch {
	case mss >= 1460:
		return 3
	case mss >= 1220:
		return 2
	case mss >= 536:
		return 1
	default:
		return 0
	}
}

// maxTCPOptionScan bounds the option walk of a SYN.
const maxTCPOptionScan = 10

// synMSS extracts the MSS option from a SYN's TCP options, defaulting to 536
// when absent or unreadable.
func synMSS(ctx *PacketContext) uint16 {
	opts := ctx.Data
	start := ctx.L4Offset + 20
	end := ctx.PayloadOffset
	if end > len(opts) {
		end = len(opts)
	}
	for i, off := 0, start; i < maxTCPOptionScan && off < end; i++ {
		kind := opts[off]
		switch kind {
		case 0: // end of options
			return 536
		case 1: // nop
			off++
		case 2: // MSS
			if off+4 <= end && opts[off+1] == 4 {
				return binary.BigEndian.Uint16(opts[off+2 : off+4])
			}
			return 536
		default:
			if off+1 >= end || opts[off+1] < 2 {
				return 536
			}
			off += int(opts[off+1])
		}
	}
	return 536
}

// synFloodFilter answers TCP SYNs with a cookie-carrying SYN-ACK rewritten in
// place, and validates the follow-up ACK against the current and previous
// seeds. The cookie is the state; no per-SYN memory is kept.
func (s *Scrubber) synFloodFilter(cpu int, ctx *PacketContext, nowNS uint64) types.Verdict {
	if s.cfg(types.ConfigSynCookieEnabled) == 0 || ctx.L3Proto != ProtoTCP || !ctx.HasL4 {
		return types.VerdictPass
	}
	st := s.stats.Slot(cpu)

	if ctx.TCPFlags&(TCPSyn|TCPAck) == TCPSyn {
		seeds := s.synCookie.Load()
		cookie := makeCookie(seeds.Current, ctx, mssIndexFor(synMSS(ctx)))
		s.synthesizeSynAck(ctx, cookie)
		st.Inc(types.StatSynCookiesSent)
		return types.VerdictTransmit
	}

	if ctx.TCPFlags&(TCPSyn|TCPRst|TCPFin) != 0 || ctx.TCPFlags&TCPAck == 0 {
		return types.VerdictPass
	}

	// Pure ACK: established flows pass on the conntrack hit alone.
	entry, found := s.conntrack.Lookup(cpu, connKey(ctx))
	if found && entry.State >= types.ConnStateEstablished {
		return types.VerdictPass
	}

	cookie := ctx.Ack - 1
	seeds := s.synCookie.Load()
	if cookieValid(cookie, seeds.Current, ctx) || cookieValid(cookie, seeds.Previous, ctx) {
		s.conntrack.Insert(cpu, connKey(ctx), &types.ConnEntry{
			LastSeenNS: nowNS,
			FwdPackets: 1,
			FwdBytes:   uint32(ctx.PacketLen()),
			State:      types.ConnStateEstablished,
			Flags:      types.ConnFlagCookieVerified,
		})
		st.Inc(types.StatSynCookiesValidated)
		st.Inc(types.StatConntrackCreated)
		return types.VerdictPass
	}

	if !found {
		st.Inc(types.StatSynCookiesFailed)
		s.Penalize(cpu, ctx.SrcIP, types.PenaltySynNoAck, nowNS)
		s.emit(cpu, ctx, types.AttackSynFlood, types.EventActionDrop, types.DropSynCookieFailed, 0, 0)
		return types.VerdictDrop
	}
	return types.VerdictPass
}

// synthesizeSynAck rewrites the SYN in place into the SYN-ACK we answer
// with: swapped MACs, swapped addresses and ports, cookie as our sequence
// number. Positions are re-derived from the stored offsets; the TCP checksum
// is left zero on the offload assumption.
func (s *Scrubber) synthesizeSynAck(ctx *PacketContext, cookie uint32) {
	data := ctx.Data

	// Ethernet: swap destination and source MACs.
	for i := 0; i < 6; i++ {
		data[i], data[6+i] = data[6+i], data[i]
	}

	// IPv4: swap addresses, reset TTL and ID, recompute the header checksum.
	ip := data[ctx.IPOffset:]
	for i := 0; i < 4; i++ {
		ip[12+i], ip[16+i] = ip[16+i], ip[12+i]
	}
	ip[8] = 64
	ip[4], ip[5] = 0, 0
	ip[10], ip[11] = 0, 0
	binary.BigEndian.PutUint16(ip[10:12], ipv4Checksum(ip[:20]))

	// TCP: swap ports, ack the client's sequence, answer with the cookie.
	tcp := data[ctx.L4Offset:]
	for i := 0; i < 2; i++ {
		tcp[i], tcp[2+i] = tcp[2+i], tcp[i]
	}
	binary.BigEndian.PutUint32(tcp[8:12], ctx.Seq+1)
	binary.BigEndian.PutUint32(tcp[4:8], cookie)
	tcp[13] = TCPSyn | TCPAck
	binary.BigEndian.PutUint16(tcp[14:16], 65535)
	tcp[16], tcp[17] = 0, 0
}

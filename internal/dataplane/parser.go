// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"encoding/binary"
	"errors"
)

// Ethernet / VLAN constants.
const (
	ethHeaderLen  = 14
	vlanTagLen    = 4
	etherTypeIPv4 = 0x0800
	etherTypeVLAN = 0x8100
	etherTypeQinQ = 0x88A8

	// At most two stacked 802.1Q tags are peeled.
	maxVLANTags = 2
)

// IP protocol numbers.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// TCP flag bits.
const (
	TCPFin uint8 = 0x01
	TCPSyn uint8 = 0x02
	TCPRst uint8 = 0x04
	TCPPsh uint8 = 0x08
	TCPAck uint8 = 0x10
	TCPUrg uint8 = 0x20
)

// Parse errors. The pipeline maps any of them to a drop; they are never
// propagated past the entry point.
var (
	ErrFrameTooShort = errors.New("frame shorter than ethernet header")
	ErrNotIPv4       = errors.New("ethertype is not IPv4")
	ErrBadIPHeader   = errors.New("IPv4 header invalid or truncated")
	ErrBadL4Header   = errors.New("L4 header truncated")
)

// PacketContext is the per-frame scratch state built by the parser and read
// by every stage. Offsets are from the start of Data; stages that modify the
// frame re-derive positions from Data plus the stored offsets.
type PacketContext struct {
	Data []byte

	L2Proto uint16
	L3Proto uint8

	SrcIP    uint32
	DstIP    uint32
	TotalLen uint16
	TTL      uint8

	Fragmented bool
	FragOffset uint16
	MoreFrags  bool

	// SrcPort and DstPort hold the decoded port numbers. For ICMP the type
	// is encoded into DstPort and SrcPort is zero.
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8
	Seq      uint32
	Ack      uint32

	IPOffset      int
	L4Offset      int
	PayloadOffset int
	PayloadLen    int
	HasL4         bool

	// First4 is the first four payload bytes as a big-endian word, zero when
	// fewer than four payload bytes lie within the frame.
	First4    uint32
	HasFirst4 bool
}

// Reset clears the context for reuse without reallocating.
func (ctx *PacketContext) Reset() {
	*ctx = PacketContext{}
}

// Parse decodes an Ethernet frame into ctx. On a malformed frame it returns a
// non-nil error and the context contents are undefined. Every offset it
// stores has been bounds-checked against len(data).
func Parse(data []byte, ctx *PacketContext) error {
	ctx.Reset()
	ctx.Data = data

	if len(data) < ethHeaderLen {
		return ErrFrameTooShort
	}

	off := ethHeaderLen
	ethType := binary.BigEndian.Uint16(data[12:14])
	for i := 0; i < maxVLANTags && (ethType == etherTypeVLAN || ethType == etherTypeQinQ); i++ {
		if off+vlanTagLen > len(data) {
			return ErrFrameTooShort
		}
		ethType = binary.BigEndian.Uint16(data[off+2 : off+4])
		off += vlanTagLen
	}
	if ethType != etherTypeIPv4 {
		return ErrNotIPv4
	}
	ctx.L2Proto = ethType
	ctx.IPOffset = off

	if off+20 > len(data) {
		return ErrBadIPHeader
	}
	ihl := int(data[off]&0x0F) * 4
	if ihl < 20 || off+ihl > len(data) {
		return ErrBadIPHeader
	}

	ctx.TotalLen = binary.BigEndian.Uint16(data[off+2 : off+4])
	ctx.TTL = data[off+8]
	ctx.L3Proto = data[off+9]
	ctx.SrcIP = binary.BigEndian.Uint32(data[off+12 : off+16])
	ctx.DstIP = binary.BigEndian.Uint32(data[off+16 : off+20])

	fragField := binary.BigEndian.Uint16(data[off+6 : off+8])
	ctx.FragOffset = fragField & 0x1FFF
	ctx.MoreFrags = fragField&0x2000 != 0
	if ctx.FragOffset != 0 || ctx.MoreFrags {
		ctx.Fragmented = true
	}
	// Non-first fragments carry no L4 header to parse.
	if ctx.FragOffset != 0 {
		return nil
	}

	l4 := off + ihl
	ctx.L4Offset = l4

	switch ctx.L3Proto {
	case ProtoTCP:
		if l4+20 > len(data) {
			return ErrBadL4Header
		}
		doff := int(data[l4+12]>>4) * 4
		if doff < 20 || l4+doff > len(data) {
			return ErrBadL4Header
		}
		ctx.SrcPort = binary.BigEndian.Uint16(data[l4 : l4+2])
		ctx.DstPort = binary.BigEndian.Uint16(data[l4+2 : l4+4])
		ctx.Seq = binary.BigEndian.Uint32(data[l4+4 : l4+8])
		ctx.Ack = binary.BigEndian.Uint32(data[l4+8 : l4+12])
		ctx.TCPFlags = data[l4+13]
		ctx.PayloadOffset = l4 + doff
		ctx.PayloadLen = int(ctx.TotalLen) - ihl - doff
		ctx.HasL4 = true

	case ProtoUDP:
		if l4+8 > len(data) {
			return ErrBadL4Header
		}
		ctx.SrcPort = binary.BigEndian.Uint16(data[l4 : l4+2])
		ctx.DstPort = binary.BigEndian.Uint16(data[l4+2 : l4+4])
		ctx.PayloadOffset = l4 + 8
		ctx.PayloadLen = int(ctx.TotalLen) - ihl - 8
		ctx.HasL4 = true

	case ProtoICMP:
		if l4+8 > len(data) {
			return ErrBadL4Header
		}
		// ICMP has no ports; the type rides in the destination-port slot.
		ctx.SrcPort = 0
		ctx.DstPort = uint16(data[l4])
		ctx.PayloadOffset = l4 + 8
		ctx.PayloadLen = int(ctx.TotalLen) - ihl - 8
		ctx.HasL4 = true

	default:
		// Unknown L4: record the offset and remaining length, parse nothing.
		ctx.PayloadOffset = l4
		ctx.PayloadLen = int(ctx.TotalLen) - ihl
	}

	if ctx.PayloadLen < 0 {
		ctx.PayloadLen = 0
	}
	if ctx.PayloadLen >= 4 && ctx.PayloadOffset+4 <= len(data) {
		ctx.First4 = binary.BigEndian.Uint32(data[ctx.PayloadOffset : ctx.PayloadOffset+4])
		ctx.HasFirst4 = true
	}

	return nil
}

// PacketLen returns the frame length on the wire used for byte counters.
func (ctx *PacketContext) PacketLen() uint64 {
	return uint64(len(ctx.Data))
}

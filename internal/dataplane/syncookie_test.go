// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/testutil"
)

func enableSynCookies(s *Scrubber) {
	s.ConfigMap().Set(types.ConfigSynCookieEnabled, 1)
	s.ConfigMap().Set(types.ConfigConntrackEnabled, 1)
	s.RotateSynCookieSeeds(0xDEADBEEF)
}

func TestSynCookie_RoundTrip(t *testing.T) {
	s, _ := newTestScrubber(t)
	enableSynCookies(s)

	clientSeq := uint32(123456)
	syn := testutil.TCPFrame("10.0.0.7", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{SYN: true}, clientSeq, 0, nil)

	v := s.Process(0, syn)
	require.Equal(t, types.VerdictTransmit, v, "SYN answered in place")
	assert.Equal(t, uint64(1), stat(s, types.StatSynCookiesSent))

	// The frame now carries our SYN-ACK back toward the client.
	var ctx PacketContext
	require.NoError(t, Parse(syn, &ctx))
	assert.Equal(t, uint32(0xC0A80101), ctx.SrcIP, "addresses swapped")
	assert.Equal(t, uint32(0x0A000007), ctx.DstIP)
	assert.Equal(t, uint16(443), ctx.SrcPort, "ports swapped")
	assert.Equal(t, uint16(44444), ctx.DstPort)
	assert.Equal(t, TCPSyn|TCPAck, ctx.TCPFlags)
	assert.Equal(t, clientSeq+1, ctx.Ack)
	assert.Equal(t, uint8(64), ctx.TTL)
	cookie := ctx.Seq

	// The rewritten IPv4 checksum verifies.
	hdr := make([]byte, 20)
	copy(hdr, syn[14:34])
	stored := binary.BigEndian.Uint16(hdr[10:12])
	hdr[10], hdr[11] = 0, 0
	assert.Equal(t, stored, ipv4Checksum(hdr))

	// Client completes with ACK = cookie+1.
	ack := testutil.TCPFrame("10.0.0.7", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{ACK: true}, clientSeq+1, cookie+1, nil)
	v = s.Process(0, ack)
	assert.Equal(t, types.VerdictPass, v)
	assert.Equal(t, uint64(1), stat(s, types.StatSynCookiesValidated))

	key := types.ConnKey{
		SrcIP: 0x0A000007, DstIP: 0xC0A80101,
		SrcPort: 44444, DstPort: 443, Proto: ProtoTCP,
	}
	entry, ok := s.Conntrack().Peek(0, key)
	require.True(t, ok, "validated handshake creates the flow")
	assert.Equal(t, types.ConnStateEstablished, entry.State)
	assert.NotZero(t, entry.Flags&types.ConnFlagCookieVerified)
}

func TestSynCookie_BogusAckDrops(t *testing.T) {
	s, _ := newTestScrubber(t)
	enableSynCookies(s)

	ack := testutil.TCPFrame("10.0.0.8", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{ACK: true}, 7, 99999, nil)
	v := s.Process(0, ack)

	assert.Equal(t, types.VerdictDrop, v)
	assert.Equal(t, uint64(1), stat(s, types.StatSynCookiesFailed))
}

func TestSynCookie_SurvivesOneRotation(t *testing.T) {
	s, _ := newTestScrubber(t)
	enableSynCookies(s)

	syn := testutil.TCPFrame("10.0.0.7", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{SYN: true}, 1000, 0, nil)
	require.Equal(t, types.VerdictTransmit, s.Process(0, syn))
	var ctx PacketContext
	require.NoError(t, Parse(syn, &ctx))
	cookie := ctx.Seq

	s.RotateSynCookieSeeds(0x12345678)

	ack := testutil.TCPFrame("10.0.0.7", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{ACK: true}, 1001, cookie+1, nil)
	assert.Equal(t, types.VerdictPass, s.Process(0, ack),
		"cookie minted under the previous seed still validates")
}

func TestSynCookie_TwoRotationsInvalidate(t *testing.T) {
	s, _ := newTestScrubber(t)
	enableSynCookies(s)

	syn := testutil.TCPFrame("10.0.0.7", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{SYN: true}, 1000, 0, nil)
	require.Equal(t, types.VerdictTransmit, s.Process(0, syn))
	var ctx PacketContext
	require.NoError(t, Parse(syn, &ctx))
	cookie := ctx.Seq

	s.RotateSynCookieSeeds(0x12345678)
	s.RotateSynCookieSeeds(0x9ABCDEF0)

	ack := testutil.TCPFrame("10.0.0.7", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{ACK: true}, 1001, cookie+1, nil)
	assert.Equal(t, types.VerdictDrop, s.Process(0, ack),
		"the pre-previous seed is unreachable")
}

func TestSynCookie_DisabledPassesSynThrough(t *testing.T) {
	s, _ := newTestScrubber(t)
	s.ConfigMap().Set(types.ConfigConntrackEnabled, 1)

	syn := testutil.TCPFrame("10.0.0.7", "192.168.1.1", 44444, 443,
		testutil.TCPFlags{SYN: true}, 1000, 0, nil)
	v := s.Process(0, syn)

	assert.Equal(t, types.VerdictPass, v)
	key := types.ConnKey{
		SrcIP: 0x0A000007, DstIP: 0xC0A80101,
		SrcPort: 44444, DstPort: 443, Proto: ProtoTCP,
	}
	entry, ok := s.Conntrack().Peek(0, key)
	require.True(t, ok, "conntrack tracks the raw SYN instead")
	assert.Equal(t, types.ConnStateNew, entry.State)
}

func TestCookieHash_DistinctTuples(t *testing.T) {
	base := &PacketContext{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4}
	c1 := makeCookie(42, base, 0)

	other := &PacketContext{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 5}
	c2 := makeCookie(42, other, 0)
	assert.NotEqual(t, c1&^3, c2&^3, "different tuples get different cookies")

	c3 := makeCookie(43, base, 0)
	assert.NotEqual(t, c1&^3, c3&^3, "different seeds get different cookies")
}

func TestCookie_MSSIndexEncoding(t *testing.T) {
	ctx := &PacketContext{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4}
	for idx := uint32(0); idx < 4; idx++ {
		c := makeCookie(7, ctx, idx)
		assert.Equal(t, idx, c&3)
		assert.True(t, cookieValid(c, 7, ctx), "MSS bits do not affect validity")
	}
}

func TestMSSIndexFor(t *testing.T) {
	assert.Equal(t, uint32(3), mssIndexFor(1460))
	assert.Equal(t, uint32(2), mssIndexFor(1300))
	assert.Equal(t, uint32(1), mssIndexFor(600))
	assert.Equal(t, uint32(0), mssIndexFor(100))
	assert.Equal(t, uint16(1460), mssTable[3])
}

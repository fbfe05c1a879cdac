// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/breakwater/internal/testutil"
)

func TestParse_TCP(t *testing.T) {
	frame := testutil.TCPFrame("10.0.0.1", "192.168.1.1", 12345, 80,
		testutil.TCPFlags{SYN: true}, 1000, 0, nil)

	var ctx PacketContext
	require.NoError(t, Parse(frame, &ctx))

	assert.Equal(t, ProtoTCP, ctx.L3Proto)
	assert.Equal(t, uint32(0x0A000001), ctx.SrcIP)
	assert.Equal(t, uint32(0xC0A80101), ctx.DstIP)
	assert.Equal(t, uint16(12345), ctx.SrcPort)
	assert.Equal(t, uint16(80), ctx.DstPort)
	assert.Equal(t, TCPSyn, ctx.TCPFlags)
	assert.Equal(t, uint32(1000), ctx.Seq)
	assert.True(t, ctx.HasL4)
	assert.False(t, ctx.Fragmented)
	assert.Equal(t, 0, ctx.PayloadLen)
}

func TestParse_UDPWithPayload(t *testing.T) {
	payload := []byte("0123456789")
	frame := testutil.UDPFrame("10.0.0.2", "192.168.1.1", 5353, 53, payload)

	var ctx PacketContext
	require.NoError(t, Parse(frame, &ctx))

	assert.Equal(t, ProtoUDP, ctx.L3Proto)
	assert.Equal(t, len(payload), ctx.PayloadLen)
	assert.True(t, ctx.HasFirst4)
	assert.Equal(t, uint32(0x30313233), ctx.First4, "first four payload bytes as a word")
}

func TestParse_ICMPTypeInDstPort(t *testing.T) {
	frame := testutil.ICMPFrame("10.0.0.3", "192.168.1.1", 8, []byte("ping"))

	var ctx PacketContext
	require.NoError(t, Parse(frame, &ctx))

	assert.Equal(t, ProtoICMP, ctx.L3Proto)
	assert.Equal(t, uint16(8), ctx.DstPort)
	assert.Equal(t, uint16(0), ctx.SrcPort)
}

func TestParse_VLAN(t *testing.T) {
	frame := testutil.VLANFrame(42, "10.0.0.4", "192.168.1.1", 1111, 2222, []byte("x"))

	var ctx PacketContext
	require.NoError(t, Parse(frame, &ctx))

	assert.Equal(t, ProtoUDP, ctx.L3Proto)
	assert.Equal(t, uint16(1111), ctx.SrcPort)
	assert.Equal(t, 18, ctx.IPOffset, "one VLAN tag shifts the IP header by 4")
}

func TestParse_Fragments(t *testing.T) {
	t.Run("first fragment keeps L4", func(t *testing.T) {
		frame := testutil.FragmentFrame("10.0.0.5", "192.168.1.1", 0, true, make([]byte, 32))
		var ctx PacketContext
		require.NoError(t, Parse(frame, &ctx))
		assert.True(t, ctx.Fragmented)
		assert.True(t, ctx.MoreFrags)
	})

	t.Run("non-first fragment has no L4", func(t *testing.T) {
		frame := testutil.FragmentFrame("10.0.0.5", "192.168.1.1", 100, false, make([]byte, 32))
		var ctx PacketContext
		require.NoError(t, Parse(frame, &ctx))
		assert.True(t, ctx.Fragmented)
		assert.False(t, ctx.HasL4)
	})
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"short ethernet", make([]byte, 10)},
		{"not ipv4", func() []byte {
			f := testutil.UDPFrame("10.0.0.1", "192.168.1.1", 1, 2, nil)
			f[12], f[13] = 0x86, 0xDD // IPv6 ethertype
			return f
		}()},
		{"truncated ip header", func() []byte {
			f := testutil.UDPFrame("10.0.0.1", "192.168.1.1", 1, 2, nil)
			return f[:16]
		}()},
		{"bad ihl", func() []byte {
			f := testutil.UDPFrame("10.0.0.1", "192.168.1.1", 1, 2, nil)
			f[14] = 0x42 // IHL = 2
			return f
		}()},
		{"truncated tcp", func() []byte {
			f := testutil.TCPFrame("10.0.0.1", "192.168.1.1", 1, 2, testutil.TCPFlags{SYN: true}, 0, 0, nil)
			return f[:14+20+10]
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctx PacketContext
			assert.Error(t, Parse(tt.frame, &ctx))
		})
	}
}

// After a successful parse, every stored offset must be dereferenceable
// without running past the frame.
func TestParse_OffsetsInBounds(t *testing.T) {
	frames := [][]byte{
		testutil.TCPFrame("10.0.0.1", "192.168.1.1", 1, 2, testutil.TCPFlags{SYN: true}, 0, 0, []byte("abc")),
		testutil.UDPFrame("10.0.0.1", "192.168.1.1", 1, 2, []byte("abcdef")),
		testutil.ICMPFrame("10.0.0.1", "192.168.1.1", 8, []byte("ping")),
		testutil.VLANFrame(7, "10.0.0.1", "192.168.1.1", 1, 2, nil),
	}
	for _, frame := range frames {
		var ctx PacketContext
		require.NoError(t, Parse(frame, &ctx))
		if ctx.HasL4 {
			assert.LessOrEqual(t, ctx.PayloadOffset, len(frame))
			assert.LessOrEqual(t, ctx.PayloadOffset+ctx.PayloadLen, len(frame))
			assert.Greater(t, ctx.L4Offset, ctx.IPOffset)
		}
	}
}

// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackCountryRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"US", "US"},
		{"de", "DE"},
		{"Cn", "CN"},
	}
	for _, tt := range tests {
		packed := PackCountry(tt.in)
		assert.Equal(t, tt.want, UnpackCountry(packed), "round trip of %q", tt.in)
	}
}

func TestPackCountry_TooShort(t *testing.T) {
	assert.Equal(t, uint16(0), PackCountry("X"))
	assert.Equal(t, uint16(0), PackCountry(""))
}

func TestTokenBucketRefill_CapsAtBurst(t *testing.T) {
	b := TokenBucket{
		Tokens:       5,
		LastRefillNS: 0,
		Rate:         10,
		Burst:        20,
	}
	// 10 seconds elapsed would add 100 tokens; the bucket saturates.
	b.Refill(10 * 1e9)
	assert.Equal(t, uint64(20), b.Tokens)
	assert.Equal(t, uint64(10*1e9), b.LastRefillNS)
}

func TestTokenBucketRefill_NeverDecreases(t *testing.T) {
	b := TokenBucket{
		Tokens:       7,
		LastRefillNS: 1e9,
		Rate:         10,
		Burst:        20,
	}
	before := b.Tokens

	// Sub-token elapsed time adds nothing and must not regress.
	b.Refill(1e9 + 1000)
	assert.GreaterOrEqual(t, b.Tokens, before)

	// Clock going backwards is a no-op.
	b.Refill(0)
	assert.Equal(t, before, b.Tokens)
}

func TestTokenBucketRefill_LinearRate(t *testing.T) {
	b := TokenBucket{
		Tokens:       0,
		LastRefillNS: 0,
		Rate:         100,
		Burst:        1000,
	}
	b.Refill(500 * 1e6) // half a second
	assert.Equal(t, uint64(50), b.Tokens)
}

func TestConnKeyReverse(t *testing.T) {
	k := ConnKey{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4, Proto: 6}
	r := k.Reverse()
	assert.Equal(t, ConnKey{SrcIP: 2, DstIP: 1, SrcPort: 4, DstPort: 3, Proto: 6}, r)
	assert.Equal(t, k, r.Reverse())
}

func TestStatNames(t *testing.T) {
	seen := map[string]bool{}
	for i := uint32(0); i < StatMax; i++ {
		name := StatName(i)
		assert.NotEqual(t, "unknown", name, "index %d", i)
		assert.False(t, seen[name], "duplicate name %q", name)
		seen[name] = true
	}
	assert.Equal(t, "unknown", StatName(StatMax))
}

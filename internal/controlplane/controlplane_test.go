// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/breakwater/internal/clock"
	"grimm.is/breakwater/internal/dataplane"
	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/testutil"
)

func newTestManager(t *testing.T) (*Manager, *dataplane.Scrubber, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Unix(1700000000, 0))
	cfg := dataplane.Config{
		CPUs:              2,
		ConntrackEntries:  256,
		RateLimitEntries:  256,
		ReputationEntries: 256,
		PortScanEntries:   256,
		EventRingSize:     64,
	}
	scrub, err := dataplane.New(cfg, clk)
	require.NoError(t, err)
	scrub.ConfigMap().Set(types.ConfigEnabled, 1)

	mgr := New(scrub, Options{Clock: clk})
	return mgr, scrub, clk
}

func TestParseCIDR(t *testing.T) {
	addr, plen, err := ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x0A000000), addr)
	assert.Equal(t, uint32(8), plen)

	addr, plen, err = ParseCIDR("192.168.1.1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xC0A80101), addr)
	assert.Equal(t, uint32(32), plen, "bare address becomes /32")

	_, _, err = ParseCIDR("not-a-cidr")
	assert.Error(t, err)
	_, _, err = ParseCIDR("2001:db8::/32")
	assert.Error(t, err, "IPv6 rejected")
}

func TestManager_AddRemoveCIDR(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)

	require.NoError(t, mgr.AddCIDR(ListBlacklist, "10.0.0.0/8", 3))
	reason, found := scrub.Blacklist().Lookup(0x0A010203)
	require.True(t, found)
	assert.Equal(t, uint32(3), reason)

	// Idempotent re-add.
	require.NoError(t, mgr.AddCIDR(ListBlacklist, "10.0.0.0/8", 3))
	assert.Equal(t, 1, scrub.Blacklist().Len())

	require.NoError(t, mgr.RemoveCIDR(ListBlacklist, "10.0.0.0/8"))
	_, found = scrub.Blacklist().Lookup(0x0A010203)
	assert.False(t, found)

	assert.Error(t, mgr.AddCIDR("no-such-list", "10.0.0.0/8", 0))
	assert.Error(t, mgr.AddCIDR(ListWhitelist, "bogus", 0))
}

func TestManager_StatsAggregatesAcrossCPUs(t *testing.T) {
	mgr, scrub, clk := newTestManager(t)

	frame := testutil.UDPFrame("10.0.0.1", "192.168.1.1", 40000, 9999, []byte("x"))
	for cpu := 0; cpu < 2; cpu++ {
		for i := 0; i < 3; i++ {
			scrub.Process(cpu, frame)
		}
	}

	snap := mgr.GetStats()
	assert.Equal(t, uint64(6), snap.Counters["rx_packets"])

	// A second snapshot a second later derives the packet rate.
	clk.Advance(time.Second)
	for i := 0; i < 4; i++ {
		scrub.Process(0, frame)
	}
	snap = mgr.GetStats()
	assert.InDelta(t, 4.0, snap.PPS, 0.01)
}

func TestManager_FlushConntrack(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)
	scrub.ConfigMap().Set(types.ConfigConntrackEnabled, 1)

	for i := 0; i < 4; i++ {
		frame := testutil.UDPFrame("10.0.0.1", "192.168.1.1", uint16(5000+i), 6000, []byte("x"))
		scrub.Process(0, frame)
	}
	assert.Equal(t, 4, mgr.FlushConntrack())
	assert.Equal(t, 0, scrub.Conntrack().Len())
	assert.Equal(t, 0, mgr.FlushConntrack(), "second flush is empty")
}

func TestManager_SeedRotation(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)

	mgr.RotateSynCookieSeeds()
	first := scrub.SynCookieSeeds()
	mgr.RotateSynCookieSeeds()
	second := scrub.SynCookieSeeds()

	assert.Equal(t, first.Current, second.Previous, "current moves to previous")
	assert.NotEqual(t, second.Current, second.Previous)
}

func TestManager_RateConfigRoundTrip(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)

	mgr.SetRateConfig(RateConfig{
		SynPPS:    100,
		UDPPPS:    200,
		ICMPPPS:   50,
		GlobalPPS: 100000,
		GlobalBPS: 8_000_000, // bits
	})

	got := mgr.GetRateConfig()
	assert.Equal(t, uint64(100), got.SynPPS)
	assert.Equal(t, uint64(8_000_000), got.GlobalBPS)
	assert.Equal(t, uint64(1_000_000), scrub.ConfigMap().Get(types.ConfigGlobalBPSLimit),
		"data plane stores bytes per second")
}

func TestManager_CountryPolicyValidation(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)

	require.NoError(t, mgr.SetCountryPolicy("cn", types.CountryActionDrop))
	policies := scrub.CountryPolicies()
	assert.Equal(t, types.CountryActionDrop, policies[types.PackCountry("CN")])

	assert.Error(t, mgr.SetCountryPolicy("XYZ", 0))
	assert.Error(t, mgr.SetCountryPolicy("CN", 99))

	require.NoError(t, mgr.DeleteCountryPolicy("CN"))
	assert.Empty(t, scrub.CountryPolicies())
}

func TestManager_SignatureValidation(t *testing.T) {
	mgr, _, _ := newTestManager(t)

	assert.Error(t, mgr.SetAttackSignature(-1, types.Signature{}))
	assert.Error(t, mgr.SetAttackSignature(types.MaxSignatures, types.Signature{}))
	assert.NoError(t, mgr.SetAttackSignature(0, types.Signature{Proto: 6}))
	assert.Error(t, mgr.SetSignatureCount(types.MaxSignatures+1))
	assert.NoError(t, mgr.SetSignatureCount(1))
}

func TestManager_SweepAppliesDecayAndUnblocks(t *testing.T) {
	mgr, scrub, clk := newTestManager(t)
	scrub.ConfigMap().Set(types.ConfigReputationEnabled, 1)
	scrub.ConfigMap().Set(types.ConfigReputationThreshold, 100)

	// Blocked source whose score will drain below threshold/2.
	scrub.Reputation().Insert(0, 0x01020304, &types.Reputation{
		Score:       60,
		Blocked:     1,
		LastDecayNS: uint64(clk.Now().UnixNano()),
	})

	// 5 points per second: after 4 seconds the score is 40 < 50.
	clk.Advance(4 * time.Second)
	mgr.SweepReputation()

	e, ok := scrub.Reputation().Peek(0, 0x01020304)
	require.True(t, ok)
	assert.Equal(t, uint32(40), e.Score)
	assert.Equal(t, uint8(0), e.Blocked, "auto-unblocked below threshold/2")
}

func TestManager_SweepKeepsManualBlocks(t *testing.T) {
	mgr, scrub, clk := newTestManager(t)
	scrub.ConfigMap().Set(types.ConfigReputationEnabled, 1)
	scrub.ConfigMap().Set(types.ConfigReputationThreshold, 100)

	require.NoError(t, mgr.BlockSource("1.2.3.4"))

	clk.Advance(time.Hour)
	mgr.SweepReputation()

	e, ok := scrub.Reputation().Peek(0, 0x01020304)
	require.True(t, ok)
	assert.Equal(t, uint8(1), e.Blocked, "manual blocks survive the sweep")

	require.NoError(t, mgr.UnblockSource("1.2.3.4"))
	e, _ = scrub.Reputation().Peek(0, 0x01020304)
	assert.Equal(t, uint8(0), e.Blocked)
}

func TestManager_ManualBlockDropsTraffic(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)
	scrub.ConfigMap().Set(types.ConfigReputationEnabled, 1)

	require.NoError(t, mgr.BlockSource("10.0.0.5"))

	frame := testutil.UDPFrame("10.0.0.5", "192.168.1.1", 40000, 9999, []byte("x"))
	assert.Equal(t, types.VerdictDrop, scrub.Process(0, frame))
	assert.Equal(t, types.VerdictDrop, scrub.Process(1, frame), "blocked on every CPU slot")
}

func TestManager_ThreatIntelValidation(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)

	assert.Error(t, mgr.AddThreatIntel("10.0.0.0/8", types.ThreatIntelEntry{Confidence: 101}))
	require.NoError(t, mgr.AddThreatIntel("10.0.0.0/8", types.ThreatIntelEntry{Confidence: 80}))

	entry, found := scrub.ThreatIntel().Lookup(0x0A000001)
	require.True(t, found)
	assert.Equal(t, uint8(80), entry.Confidence)
	assert.NotZero(t, entry.LastUpdate, "timestamp defaulted")
}

func TestManager_SubscribeEvents(t *testing.T) {
	mgr, scrub, _ := newTestManager(t)
	scrub.Blacklist().Insert(0x0A000000, 8, 1)

	id, ch := mgr.SubscribeEvents()
	defer mgr.UnsubscribeEvents(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.broker.Run(ctx)

	frame := testutil.TCPFrame("10.0.0.1", "192.168.1.1", 1234, 80,
		testutil.TCPFlags{SYN: true}, 1, 0, nil)
	require.Equal(t, types.VerdictDrop, scrub.Process(0, frame))

	select {
	case ev := <-ch:
		assert.Equal(t, uint8(1), ev.DropReason)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

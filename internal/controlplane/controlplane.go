// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package controlplane owns the operator-facing side of the scrubber: it
// populates the shared maps the data plane reads, aggregates per-CPU
// statistics, rotates SYN-cookie seeds, and sweeps reputation state. Its
// operations may fail and must recover idempotently; the data plane never
// waits on any of them.
package controlplane

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"strings"
	"sync"
	"time"

	"grimm.is/breakwater/internal/clock"
	"grimm.is/breakwater/internal/dataplane"
	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/errors"
	"grimm.is/breakwater/internal/events"
	"grimm.is/breakwater/internal/logging"
)

// Default background-task intervals.
const (
	DefaultSeedRotationInterval    = 60 * time.Second
	DefaultReputationSweepInterval = 5 * time.Second
)

// CIDR list names accepted by AddCIDR and RemoveCIDR.
const (
	ListBlacklist = "blacklist"
	ListWhitelist = "whitelist"
)

// Options configures the manager.
type Options struct {
	SeedRotationInterval    time.Duration
	ReputationSweepInterval time.Duration
	Logger                  *logging.Logger
	Clock                   clock.Clock
}

// Manager is the control-plane surface over one scrubber instance.
type Manager struct {
	scrub  *dataplane.Scrubber
	broker *events.Broker
	logger *logging.Logger
	clk    clock.Clock

	seedEvery  time.Duration
	sweepEvery time.Duration

	// Manual blocks are a control-plane-side bit: the sweep never
	// auto-unblocks these sources.
	manualMu     sync.Mutex
	manualBlocks map[uint32]bool

	// Rate derivation state for GetStats.
	rateMu    sync.Mutex
	lastStats [types.StatMax]uint64
	lastAt    time.Time

	started time.Time
}

// New creates a manager over the given scrubber.
func New(scrub *dataplane.Scrubber, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("controlplane")
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System
	}
	seedEvery := opts.SeedRotationInterval
	if seedEvery <= 0 {
		seedEvery = DefaultSeedRotationInterval
	}
	sweepEvery := opts.ReputationSweepInterval
	if sweepEvery <= 0 {
		sweepEvery = DefaultReputationSweepInterval
	}

	return &Manager{
		scrub:        scrub,
		broker:       events.NewBroker(scrub.Ring(), logger.With("component", "events")),
		logger:       logger,
		clk:          clk,
		seedEvery:    seedEvery,
		sweepEvery:   sweepEvery,
		manualBlocks: make(map[uint32]bool),
		started:      clk.Now(),
	}
}

// Scrubber returns the managed data plane.
func (m *Manager) Scrubber() *dataplane.Scrubber { return m.scrub }

// Run starts the broker and the periodic seed-rotation and reputation-sweep
// loops, blocking until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	// Seed the cookie context before the first SYN arrives.
	m.RotateSynCookieSeeds()

	go m.broker.Run(ctx)

	seedTick := time.NewTicker(m.seedEvery)
	defer seedTick.Stop()
	sweepTick := time.NewTicker(m.sweepEvery)
	defer sweepTick.Stop()

	m.logger.Info("Control plane started",
		"seed_rotation", m.seedEvery, "reputation_sweep", m.sweepEvery)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Control plane stopping")
			<-m.broker.Done()
			return
		case <-seedTick.C:
			m.RotateSynCookieSeeds()
		case <-sweepTick.C:
			m.SweepReputation()
		}
	}
}

// Status summarizes the scrubber for the operator.
type Status struct {
	Enabled         bool   `json:"enabled"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	CPUs            int    `json:"cpus"`
	Escalation      uint64 `json:"escalation"`
	ConntrackCount  int    `json:"conntrack_count"`
	ReputationCount int    `json:"reputation_count"`
	BlacklistCount  int    `json:"blacklist_count"`
	WhitelistCount  int    `json:"whitelist_count"`
	ThreatIntel     int    `json:"threat_intel_count"`
	GeoIPCount      int    `json:"geoip_count"`
}

// GetStatus returns the current status.
func (m *Manager) GetStatus() Status {
	cfg := m.scrub.ConfigMap()
	return Status{
		Enabled:         cfg.Get(types.ConfigEnabled) != 0,
		UptimeSeconds:   int64(m.clk.Now().Sub(m.started).Seconds()),
		CPUs:            m.scrub.CPUs(),
		Escalation:      cfg.Get(types.ConfigEscalationLevel),
		ConntrackCount:  m.scrub.Conntrack().Len(),
		ReputationCount: m.scrub.Reputation().Len(),
		BlacklistCount:  m.scrub.Blacklist().Len(),
		WhitelistCount:  m.scrub.Whitelist().Len(),
		ThreatIntel:     m.scrub.ThreatIntel().Len(),
		GeoIPCount:      m.scrub.GeoIP().Len(),
	}
}

// SetEnabled flips the global enable flag.
func (m *Manager) SetEnabled(on bool) {
	v := uint64(0)
	if on {
		v = 1
	}
	m.scrub.ConfigMap().Set(types.ConfigEnabled, v)
	m.logger.Info("Scrubber enable flag changed", "enabled", on)
}

// SetEscalation sets the escalation level, clamped to 0-3.
func (m *Manager) SetEscalation(level uint64) {
	if level > types.EscalationCritical {
		level = types.EscalationCritical
	}
	m.scrub.ConfigMap().Set(types.ConfigEscalationLevel, level)
	m.logger.Info("Escalation level changed", "level", level)
}

// StatsSnapshot is the aggregated per-CPU counter set plus rates derived over
// the interval since the previous snapshot.
type StatsSnapshot struct {
	Timestamp time.Time         `json:"timestamp"`
	Counters  map[string]uint64 `json:"counters"`
	PPS       float64           `json:"pps"`
	BPS       float64           `json:"bps"`
}

// GetStats sums the per-CPU stats slots and derives PPS/BPS from the delta
// since the last call.
func (m *Manager) GetStats() StatsSnapshot {
	sum := m.scrub.Stats().Sum()
	now := m.clk.Now()

	snap := StatsSnapshot{
		Timestamp: now,
		Counters:  make(map[string]uint64, types.StatMax),
	}
	for i := uint32(0); i < types.StatMax; i++ {
		snap.Counters[types.StatName(i)] = sum[i]
	}

	m.rateMu.Lock()
	defer m.rateMu.Unlock()
	if !m.lastAt.IsZero() {
		secs := now.Sub(m.lastAt).Seconds()
		if secs > 0 {
			snap.PPS = float64(sum[types.StatRxPackets]-m.lastStats[types.StatRxPackets]) / secs
			snap.BPS = float64(sum[types.StatRxBytes]-m.lastStats[types.StatRxBytes]) / secs
		}
	}
	m.lastStats = sum
	m.lastAt = now
	return snap
}

// ParseCIDR parses "a.b.c.d/n" (or a bare address as /32) into the LPM key
// form.
func ParseCIDR(cidr string) (addr uint32, prefixLen uint32, err error) {
	if !strings.Contains(cidr, "/") {
		cidr += "/32"
	}
	_, ipnet, perr := net.ParseCIDR(cidr)
	if perr != nil {
		return 0, 0, errors.Wrapf(perr, errors.KindValidation, "invalid CIDR %q", cidr)
	}
	v4 := ipnet.IP.To4()
	if v4 == nil {
		return 0, 0, errors.Errorf(errors.KindValidation, "not an IPv4 CIDR: %q", cidr)
	}
	ones, _ := ipnet.Mask.Size()
	return binary.BigEndian.Uint32(v4), uint32(ones), nil
}

// AddCIDR inserts a CIDR into the named list. Re-adding an existing entry
// overwrites it and is not an error.
func (m *Manager) AddCIDR(list, cidr string, reason uint32) error {
	addr, plen, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}
	switch list {
	case ListBlacklist:
		m.scrub.Blacklist().Insert(addr, plen, reason)
	case ListWhitelist:
		m.scrub.Whitelist().Insert(addr, plen, 1)
	default:
		return errors.Errorf(errors.KindValidation, "unknown list %q", list)
	}
	m.logger.Info("CIDR added", "list", list, "cidr", cidr, "reason", reason)
	return nil
}

// RemoveCIDR deletes a CIDR from the named list. Missing entries are a no-op.
func (m *Manager) RemoveCIDR(list, cidr string) error {
	addr, plen, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}
	switch list {
	case ListBlacklist:
		m.scrub.Blacklist().Delete(addr, plen)
	case ListWhitelist:
		m.scrub.Whitelist().Delete(addr, plen)
	default:
		return errors.Errorf(errors.KindValidation, "unknown list %q", list)
	}
	m.logger.Info("CIDR removed", "list", list, "cidr", cidr)
	return nil
}

// AddThreatIntel installs a threat-feed entry for a CIDR.
func (m *Manager) AddThreatIntel(cidr string, entry types.ThreatIntelEntry) error {
	addr, plen, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}
	if entry.Confidence > 100 {
		return errors.Errorf(errors.KindValidation, "confidence %d out of range", entry.Confidence)
	}
	if entry.LastUpdate == 0 {
		entry.LastUpdate = uint32(m.clk.Now().Unix())
	}
	m.scrub.ThreatIntel().Insert(addr, plen, entry)
	return nil
}

// RemoveThreatIntel deletes a threat-feed entry.
func (m *Manager) RemoveThreatIntel(cidr string) error {
	addr, plen, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}
	m.scrub.ThreatIntel().Delete(addr, plen)
	return nil
}

// AddGeoIP installs a GeoIP entry mapping a CIDR to a country and optional
// per-entry action.
func (m *Manager) AddGeoIP(cidr, country string, action uint8) error {
	addr, plen, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}
	if len(country) != 2 {
		return errors.Errorf(errors.KindValidation, "invalid country code %q", country)
	}
	m.scrub.GeoIP().Insert(addr, plen, types.GeoIPEntry{
		Country: types.PackCountry(country),
		Action:  action,
	})
	return nil
}

// AddGRETunnel routes clean traffic for a destination prefix to a tunnel
// endpoint.
func (m *Manager) AddGRETunnel(cidr, endpoint string) error {
	addr, plen, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}
	epAddr, epLen, err := ParseCIDR(endpoint)
	if err != nil {
		return err
	}
	if epLen != 32 {
		return errors.Errorf(errors.KindValidation, "tunnel endpoint must be a host address, got %q", endpoint)
	}
	m.scrub.GRETunnels().Insert(addr, plen, epAddr)
	m.logger.Info("GRE tunnel added", "prefix", cidr, "endpoint", endpoint)
	return nil
}

// RemoveGRETunnel deletes a tunnel route.
func (m *Manager) RemoveGRETunnel(cidr string) error {
	addr, plen, err := ParseCIDR(cidr)
	if err != nil {
		return err
	}
	m.scrub.GRETunnels().Delete(addr, plen)
	return nil
}

// RegisterPortProtocol adds protocol-validation or amplification bits for a
// port in the port-protocol map.
func (m *Manager) RegisterPortProtocol(port uint16, bits uint32) {
	m.scrub.RegisterPortProtocol(port, bits)
	m.logger.Info("Port protocol registered", "port", port, "bits", bits)
}

// SetCountryPolicy maps a 2-letter country code to an action.
func (m *Manager) SetCountryPolicy(country string, action uint8) error {
	if len(country) != 2 {
		return errors.Errorf(errors.KindValidation, "invalid country code %q", country)
	}
	if action > types.CountryActionMonitor {
		return errors.Errorf(errors.KindValidation, "invalid country action %d", action)
	}
	m.scrub.SetCountryPolicy(types.PackCountry(country), action)
	m.logger.Info("Country policy set", "country", strings.ToUpper(country), "action", action)
	return nil
}

// DeleteCountryPolicy removes a country's policy.
func (m *Manager) DeleteCountryPolicy(country string) error {
	if len(country) != 2 {
		return errors.Errorf(errors.KindValidation, "invalid country code %q", country)
	}
	m.scrub.DeleteCountryPolicy(types.PackCountry(country))
	return nil
}

// RateConfig is the operator's view of the rate limits. GlobalBPS is in bits
// per second; the data plane stores bytes.
type RateConfig struct {
	SynPPS    uint64 `json:"syn_pps"`
	UDPPPS    uint64 `json:"udp_pps"`
	ICMPPPS   uint64 `json:"icmp_pps"`
	GlobalPPS uint64 `json:"global_pps"`
	GlobalBPS uint64 `json:"global_bps"`
}

// GetRateConfig reads the current limits.
func (m *Manager) GetRateConfig() RateConfig {
	cfg := m.scrub.ConfigMap()
	return RateConfig{
		SynPPS:    cfg.Get(types.ConfigSynRateLimit),
		UDPPPS:    cfg.Get(types.ConfigUDPRateLimit),
		ICMPPPS:   cfg.Get(types.ConfigICMPRateLimit),
		GlobalPPS: cfg.Get(types.ConfigGlobalPPSLimit),
		GlobalBPS: cfg.Get(types.ConfigGlobalBPSLimit) * 8,
	}
}

// SetRateConfig writes the limits, converting the bit rate to bytes.
func (m *Manager) SetRateConfig(rc RateConfig) {
	cfg := m.scrub.ConfigMap()
	cfg.Set(types.ConfigSynRateLimit, rc.SynPPS)
	cfg.Set(types.ConfigUDPRateLimit, rc.UDPPPS)
	cfg.Set(types.ConfigICMPRateLimit, rc.ICMPPPS)
	cfg.Set(types.ConfigGlobalPPSLimit, rc.GlobalPPS)
	cfg.Set(types.ConfigGlobalBPSLimit, rc.GlobalBPS/8)
	m.logger.Info("Rate config updated",
		"syn_pps", rc.SynPPS, "udp_pps", rc.UDPPPS, "icmp_pps", rc.ICMPPPS,
		"global_pps", rc.GlobalPPS, "global_bps", rc.GlobalBPS)
}

// SetAttackSignature installs a fingerprint record.
func (m *Manager) SetAttackSignature(index int, sig types.Signature) error {
	if !m.scrub.SetSignature(index, sig) {
		return errors.Errorf(errors.KindValidation, "signature index %d out of range", index)
	}
	return nil
}

// SetSignatureCount sets the active fingerprint count.
func (m *Manager) SetSignatureCount(n uint32) error {
	if n > types.MaxSignatures {
		return errors.Errorf(errors.KindValidation, "signature count %d exceeds %d", n, types.MaxSignatures)
	}
	m.scrub.SetSignatureCount(n)
	return nil
}

// ClearSignatures removes all fingerprints.
func (m *Manager) ClearSignatures() {
	m.scrub.ClearSignatures()
	m.logger.Info("Attack signatures cleared")
}

// SetPayloadRule installs a payload rule.
func (m *Manager) SetPayloadRule(index int, rule types.PayloadRule) error {
	if rule.PatternLen == 0 || rule.PatternLen > types.PayloadPatternMax {
		return errors.Errorf(errors.KindValidation, "pattern length %d out of range", rule.PatternLen)
	}
	if !m.scrub.SetPayloadRule(index, rule) {
		return errors.Errorf(errors.KindValidation, "payload rule index %d out of range", index)
	}
	return nil
}

// SetPayloadRuleCount sets the active payload rule count.
func (m *Manager) SetPayloadRuleCount(n uint32) error {
	if n > types.MaxPayloadRules {
		return errors.Errorf(errors.KindValidation, "payload rule count %d exceeds %d", n, types.MaxPayloadRules)
	}
	m.scrub.SetPayloadRuleCount(n)
	return nil
}

// ClearPayloadRules removes all payload rules.
func (m *Manager) ClearPayloadRules() {
	m.scrub.ClearPayloadRules()
	m.logger.Info("Payload rules cleared")
}

// FlushConntrack deletes every tracked flow and returns the count removed.
func (m *Manager) FlushConntrack() int {
	n := m.scrub.Conntrack().Purge()
	m.logger.Info("Conntrack flushed", "deleted", n)
	return n
}

// RotateSynCookieSeeds moves the current seed to previous and installs a
// fresh random seed.
func (m *Manager) RotateSynCookieSeeds() {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Keep rotating even if entropy is unavailable; a weak seed still
		// invalidates the pre-previous generation.
		binary.BigEndian.PutUint32(buf[:], uint32(m.clk.Now().UnixNano()))
	}
	m.scrub.RotateSynCookieSeeds(binary.BigEndian.Uint32(buf[:]))
	m.logger.Debug("SYN cookie seeds rotated")
}

// BlockSource manually blocks a source: the reputation entry is latched and
// excluded from auto-unblock.
func (m *Manager) BlockSource(ip string) error {
	addr, plen, err := ParseCIDR(ip)
	if err != nil {
		return err
	}
	if plen != 32 {
		return errors.Errorf(errors.KindValidation, "block requires a host address, got %q", ip)
	}
	m.manualMu.Lock()
	m.manualBlocks[addr] = true
	m.manualMu.Unlock()

	rep := m.scrub.Reputation()
	for cpu := 0; cpu < rep.CPUs(); cpu++ {
		if e, ok := rep.Peek(cpu, addr); ok {
			e.Blocked = 1
		} else {
			rep.Insert(cpu, addr, &types.Reputation{Blocked: 1, Score: types.ScoreMax})
		}
	}
	m.logger.Info("Source manually blocked", "ip", ip)
	return nil
}

// UnblockSource clears a source's blocked flag and manual mark.
func (m *Manager) UnblockSource(ip string) error {
	addr, plen, err := ParseCIDR(ip)
	if err != nil {
		return err
	}
	if plen != 32 {
		return errors.Errorf(errors.KindValidation, "unblock requires a host address, got %q", ip)
	}
	m.manualMu.Lock()
	delete(m.manualBlocks, addr)
	m.manualMu.Unlock()

	rep := m.scrub.Reputation()
	for cpu := 0; cpu < rep.CPUs(); cpu++ {
		if e, ok := rep.Peek(cpu, addr); ok {
			e.Blocked = 0
			e.Score = 0
		}
	}
	m.logger.Info("Source unblocked", "ip", ip)
	return nil
}

// SweepReputation applies score decay across every reputation entry and
// auto-unblocks sources whose score has drained below half the block
// threshold, unless they are manually blocked.
func (m *Manager) SweepReputation() {
	nowNS := uint64(m.clk.Now().UnixNano())
	threshold := m.scrub.ConfigMap().Get(types.ConfigReputationThreshold)
	if threshold == 0 {
		threshold = types.DefaultReputationThreshold
	}
	unblockBelow := uint32(threshold / 2)

	m.manualMu.Lock()
	manual := make(map[uint32]bool, len(m.manualBlocks))
	for k := range m.manualBlocks {
		manual[k] = true
	}
	m.manualMu.Unlock()

	rep := m.scrub.Reputation()
	unblocked := 0
	for cpu := 0; cpu < rep.CPUs(); cpu++ {
		for _, ip := range rep.Keys(cpu) {
			e, ok := rep.Peek(cpu, ip)
			if !ok {
				continue
			}
			dataplane.DecayReputation(e, nowNS)
			if e.Blocked != 0 && !manual[ip] && e.Score < unblockBelow {
				e.Blocked = 0
				unblocked++
			}
		}
	}
	if unblocked > 0 {
		m.logger.Info("Reputation sweep unblocked sources", "count", unblocked)
	}
}

// SubscribeEvents attaches an event consumer. The caller must Unsubscribe
// with the returned id.
func (m *Manager) SubscribeEvents() (string, <-chan types.Event) {
	return m.broker.Subscribe()
}

// UnsubscribeEvents detaches an event consumer.
func (m *Manager) UnsubscribeEvents(id string) {
	m.broker.Unsubscribe(id)
}

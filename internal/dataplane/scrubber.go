// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dataplane implements the per-packet scrubbing pipeline: a parser
// that turns a raw frame into a bounds-checked packet context, fourteen
// ordered mitigation stages, and a conntrack updater, all sharing per-CPU
// maps. One Process call handles
// one frame and always returns a verdict; the data plane cannot fail.
package dataplane

import (
	"sync"
	"sync/atomic"

	"grimm.is/breakwater/internal/clock"
	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/events"
	"grimm.is/breakwater/internal/maps"
)

// Port-protocol map bits. A port can be registered for additional protocol
// validation or flagged as amplification-sensitive.
const (
	PortProtoDNS uint32 = 1 << iota
	PortProtoNTP
	PortProtoSSDP
	PortProtoMemcached
	PortAmpSensitive
)

// Config sizes the scrubber's shared maps.
type Config struct {
	CPUs              int `json:"cpus"`
	ConntrackEntries  int `json:"conntrack_entries"`
	RateLimitEntries  int `json:"rate_limit_entries"`
	ReputationEntries int `json:"reputation_entries"`
	PortScanEntries   int `json:"port_scan_entries"`
	EventRingSize     int `json:"event_ring_size"`
}

// DefaultConfig returns generously sized defaults.
func DefaultConfig() Config {
	return Config{
		CPUs:              1,
		ConntrackEntries:  1 << 21,
		RateLimitEntries:  1 << 20,
		ReputationEntries: 1 << 20,
		PortScanEntries:   1 << 20,
		EventRingSize:     events.DefaultCapacity,
	}
}

// rateEstimator tracks a coarse per-second packet and byte rate per worker,
// used for the PPS/BPS fields of event records.
type rateEstimator struct {
	windowStartNS uint64
	pkts          uint64
	bytes         uint64
	pps           uint64
	bps           uint64
}

func (e *rateEstimator) tick(nowNS, pktLen uint64) {
	if e.windowStartNS == 0 {
		e.windowStartNS = nowNS
	}
	if nowNS-e.windowStartNS >= 1e9 {
		e.pps = e.pkts
		e.bps = e.bytes
		e.pkts = 0
		e.bytes = 0
		e.windowStartNS = nowNS
	}
	e.pkts++
	e.bytes += pktLen
}

// Scrubber holds the pipeline's shared state. All multi-writer state is
// either per-CPU (rate buckets, conntrack, reputation, port-scan, stats,
// global buckets, estimators) or internally synchronized (LPM tries, config
// array, rule tables).
type Scrubber struct {
	clk clock.Clock

	config *maps.Array

	whitelist   *maps.LPM[uint32]
	blacklist   *maps.LPM[uint32]
	threatIntel *maps.LPM[types.ThreatIntelEntry]
	geoip       *maps.LPM[types.GeoIPEntry]
	greTunnels  *maps.LPM[uint32]

	policyMu      sync.RWMutex
	countryPolicy map[uint16]uint8

	adaptiveMu sync.RWMutex
	adaptive   map[uint32]uint64

	rate       *maps.PerCPULRU[uint32, types.TokenBucket]
	conntrack  *maps.PerCPULRU[types.ConnKey, types.ConnEntry]
	reputation *maps.PerCPULRU[uint32, types.Reputation]
	portScan   *maps.PerCPULRU[uint32, types.PortScan]

	// Two aggregate buckets per worker: index 0 paces packets, 1 bytes.
	global [][2]types.TokenBucket

	synCookie *maps.Singleton[types.SynCookieState]

	ruleMu       sync.RWMutex
	signatures   [types.MaxSignatures]types.Signature
	sigCount     atomic.Uint32
	payloadRules [types.MaxPayloadRules]types.PayloadRule
	payloadCount atomic.Uint32

	portProto []uint32

	stats *maps.PerCPUStats
	ring  *events.Ring
	est   []rateEstimator
}

// New creates a scrubber with the given sizing. The clock may be nil, in
// which case the system clock is used.
func New(cfg Config, clk clock.Clock) (*Scrubber, error) {
	if clk == nil {
		clk = clock.System
	}
	if cfg.CPUs <= 0 {
		cfg.CPUs = 1
	}
	dflt := DefaultConfig()
	if cfg.ConntrackEntries <= 0 {
		cfg.ConntrackEntries = dflt.ConntrackEntries
	}
	if cfg.RateLimitEntries <= 0 {
		cfg.RateLimitEntries = dflt.RateLimitEntries
	}
	if cfg.ReputationEntries <= 0 {
		cfg.ReputationEntries = dflt.ReputationEntries
	}
	if cfg.PortScanEntries <= 0 {
		cfg.PortScanEntries = dflt.PortScanEntries
	}

	rate, err := maps.NewPerCPULRU[uint32, types.TokenBucket](cfg.CPUs, cfg.RateLimitEntries)
	if err != nil {
		return nil, err
	}
	ct, err := maps.NewPerCPULRU[types.ConnKey, types.ConnEntry](cfg.CPUs, cfg.ConntrackEntries)
	if err != nil {
		return nil, err
	}
	rep, err := maps.NewPerCPULRU[uint32, types.Reputation](cfg.CPUs, cfg.ReputationEntries)
	if err != nil {
		return nil, err
	}
	ps, err := maps.NewPerCPULRU[uint32, types.PortScan](cfg.CPUs, cfg.PortScanEntries)
	if err != nil {
		return nil, err
	}

	s := &Scrubber{
		clk:           clk,
		config:        maps.NewArray(types.ConfigSlots),
		whitelist:     maps.NewLPM[uint32](),
		blacklist:     maps.NewLPM[uint32](),
		threatIntel:   maps.NewLPM[types.ThreatIntelEntry](),
		geoip:         maps.NewLPM[types.GeoIPEntry](),
		greTunnels:    maps.NewLPM[uint32](),
		countryPolicy: make(map[uint16]uint8),
		adaptive:      make(map[uint32]uint64),
		rate:          rate,
		conntrack:     ct,
		reputation:    rep,
		portScan:      ps,
		global:        make([][2]types.TokenBucket, cfg.CPUs),
		synCookie:     maps.NewSingleton(types.SynCookieState{}),
		portProto:     make([]uint32, 65536),
		stats:         maps.NewPerCPUStats(cfg.CPUs),
		ring:          events.NewRing(cfg.EventRingSize),
		est:           make([]rateEstimator, cfg.CPUs),
	}
	return s, nil
}

// CPUs returns the number of worker slots.
func (s *Scrubber) CPUs() int { return s.stats.CPUs() }

// ConfigMap exposes the configuration array to the control plane.
func (s *Scrubber) ConfigMap() *maps.Array { return s.config }

// Whitelist exposes the whitelist LPM.
func (s *Scrubber) Whitelist() *maps.LPM[uint32] { return s.whitelist }

// Blacklist exposes the blacklist LPM.
func (s *Scrubber) Blacklist() *maps.LPM[uint32] { return s.blacklist }

// ThreatIntel exposes the threat-intel LPM.
func (s *Scrubber) ThreatIntel() *maps.LPM[types.ThreatIntelEntry] { return s.threatIntel }

// GeoIP exposes the GeoIP LPM.
func (s *Scrubber) GeoIP() *maps.LPM[types.GeoIPEntry] { return s.geoip }

// GRETunnels exposes the tunnel map: destination prefixes whose clean traffic
// is redirected to a scrubbing-return tunnel endpoint.
func (s *Scrubber) GRETunnels() *maps.LPM[uint32] { return s.greTunnels }

// Conntrack exposes the per-CPU connection table.
func (s *Scrubber) Conntrack() *maps.PerCPULRU[types.ConnKey, types.ConnEntry] {
	return s.conntrack
}

// Reputation exposes the per-CPU reputation map.
func (s *Scrubber) Reputation() *maps.PerCPULRU[uint32, types.Reputation] {
	return s.reputation
}

// Stats exposes the per-CPU stats map.
func (s *Scrubber) Stats() *maps.PerCPUStats { return s.stats }

// Ring exposes the event ring.
func (s *Scrubber) Ring() *events.Ring { return s.ring }

// SynCookieSeeds returns the current seed context.
func (s *Scrubber) SynCookieSeeds() types.SynCookieState { return s.synCookie.Load() }

// RotateSynCookieSeeds moves the current seed to previous and installs a new
// current seed. Cookies minted under the pre-previous seed stop validating.
func (s *Scrubber) RotateSynCookieSeeds(newSeed uint32) {
	st := s.synCookie.Load()
	s.synCookie.Store(types.SynCookieState{
		Current:   newSeed,
		Previous:  st.Current,
		UpdatedNS: uint64(s.clk.Now().UnixNano()),
	})
}

// SetCountryPolicy installs the action for a packed country code.
func (s *Scrubber) SetCountryPolicy(country uint16, action uint8) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	s.countryPolicy[country] = action
}

// DeleteCountryPolicy removes the policy for a packed country code.
func (s *Scrubber) DeleteCountryPolicy(country uint16) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	delete(s.countryPolicy, country)
}

// CountryPolicies returns a snapshot of all country policies.
func (s *Scrubber) CountryPolicies() map[uint16]uint8 {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	out := make(map[uint16]uint8, len(s.countryPolicy))
	for k, v := range s.countryPolicy {
		out[k] = v
	}
	return out
}

func (s *Scrubber) lookupCountryPolicy(country uint16) (uint8, bool) {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	a, ok := s.countryPolicy[country]
	return a, ok
}

// InstallAdaptiveOverride sets a per-source PPS limit only if none exists,
// returning whether it installed. Limits below 1 are clamped to 1.
func (s *Scrubber) InstallAdaptiveOverride(srcIP uint32, pps uint64) bool {
	if pps < 1 {
		pps = 1
	}
	s.adaptiveMu.Lock()
	defer s.adaptiveMu.Unlock()
	if _, ok := s.adaptive[srcIP]; ok {
		return false
	}
	s.adaptive[srcIP] = pps
	return true
}

// RemoveAdaptiveOverride deletes a per-source override.
func (s *Scrubber) RemoveAdaptiveOverride(srcIP uint32) {
	s.adaptiveMu.Lock()
	defer s.adaptiveMu.Unlock()
	delete(s.adaptive, srcIP)
}

// AdaptiveOverrides returns a snapshot of all per-source overrides.
func (s *Scrubber) AdaptiveOverrides() map[uint32]uint64 {
	s.adaptiveMu.RLock()
	defer s.adaptiveMu.RUnlock()
	out := make(map[uint32]uint64, len(s.adaptive))
	for k, v := range s.adaptive {
		out[k] = v
	}
	return out
}

func (s *Scrubber) adaptiveRate(srcIP uint32) (uint64, bool) {
	s.adaptiveMu.RLock()
	defer s.adaptiveMu.RUnlock()
	r, ok := s.adaptive[srcIP]
	return r, ok
}

// SetSignature installs the fingerprint record at index.
func (s *Scrubber) SetSignature(index int, sig types.Signature) bool {
	if index < 0 || index >= types.MaxSignatures {
		return false
	}
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()
	s.signatures[index] = sig
	return true
}

// SetSignatureCount sets the number of active fingerprint records.
func (s *Scrubber) SetSignatureCount(n uint32) {
	if n > types.MaxSignatures {
		n = types.MaxSignatures
	}
	s.sigCount.Store(n)
}

// ClearSignatures zeroes the fingerprint table.
func (s *Scrubber) ClearSignatures() {
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()
	s.signatures = [types.MaxSignatures]types.Signature{}
	s.sigCount.Store(0)
}

// SignatureCount returns the active fingerprint count.
func (s *Scrubber) SignatureCount() uint32 { return s.sigCount.Load() }

// Signatures returns a snapshot of the active fingerprint records.
func (s *Scrubber) Signatures() []types.Signature {
	n := int(s.sigCount.Load())
	s.ruleMu.RLock()
	defer s.ruleMu.RUnlock()
	out := make([]types.Signature, n)
	copy(out, s.signatures[:n])
	return out
}

// SetPayloadRule installs the payload rule at index. The hit counter is
// reset.
func (s *Scrubber) SetPayloadRule(index int, rule types.PayloadRule) bool {
	if index < 0 || index >= types.MaxPayloadRules {
		return false
	}
	rule.Hits = 0
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()
	s.payloadRules[index] = rule
	return true
}

// SetPayloadRuleCount sets the number of active payload rules.
func (s *Scrubber) SetPayloadRuleCount(n uint32) {
	if n > types.MaxPayloadRules {
		n = types.MaxPayloadRules
	}
	s.payloadCount.Store(n)
}

// ClearPayloadRules zeroes the payload rule table.
func (s *Scrubber) ClearPayloadRules() {
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()
	s.payloadRules = [types.MaxPayloadRules]types.PayloadRule{}
	s.payloadCount.Store(0)
}

// PayloadRules returns a snapshot of the active payload rules, including hit
// counters.
func (s *Scrubber) PayloadRules() []types.PayloadRule {
	n := int(s.payloadCount.Load())
	s.ruleMu.RLock()
	defer s.ruleMu.RUnlock()
	out := make([]types.PayloadRule, n)
	for i := 0; i < n; i++ {
		out[i] = s.payloadRules[i]
		out[i].Hits = atomic.LoadUint64(&s.payloadRules[i].Hits)
	}
	return out
}

// RegisterPortProtocol ORs protocol bits onto a port in the port-protocol
// map.
func (s *Scrubber) RegisterPortProtocol(port uint16, bits uint32) {
	old := atomic.LoadUint32(&s.portProto[port])
	atomic.StoreUint32(&s.portProto[port], old|bits)
}

// ClearPortProtocol removes all protocol bits from a port.
func (s *Scrubber) ClearPortProtocol(port uint16) {
	atomic.StoreUint32(&s.portProto[port], 0)
}

func (s *Scrubber) portBits(port uint16) uint32 {
	return atomic.LoadUint32(&s.portProto[port])
}

func (s *Scrubber) now() uint64 {
	return uint64(s.clk.Now().UnixNano())
}

func (s *Scrubber) cfg(id uint32) uint64 {
	return s.config.Get(id)
}

func (s *Scrubber) escalation() uint64 {
	return s.cfg(types.ConfigEscalationLevel)
}

// defaultRate returns the per-protocol default PPS limit for the packet.
func (s *Scrubber) defaultRate(proto uint8) uint64 {
	switch proto {
	case ProtoTCP:
		return s.cfg(types.ConfigSynRateLimit)
	case ProtoUDP:
		return s.cfg(types.ConfigUDPRateLimit)
	case ProtoICMP:
		return s.cfg(types.ConfigICMPRateLimit)
	default:
		return 0
	}
}

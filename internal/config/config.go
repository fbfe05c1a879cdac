// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon's HCL configuration file and maps it onto
// the data-plane configuration array.
package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/errors"
	"grimm.is/breakwater/internal/logging"
	"grimm.is/breakwater/internal/maps"
)

// Config is the operator-supplied daemon configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version" json:"schema_version"`
	Interface     string `hcl:"interface,optional" json:"interface"`
	Enabled       bool   `hcl:"enabled,optional" json:"enabled"`
	LogLevel      string `hcl:"log_level,optional" json:"log_level"`

	API        *APIConfig            `hcl:"api,block" json:"api,omitempty"`
	Limits     *LimitsConfig         `hcl:"limits,block" json:"limits,omitempty"`
	Features   *FeaturesConfig       `hcl:"features,block" json:"features,omitempty"`
	Reputation *ReputationConfig     `hcl:"reputation,block" json:"reputation,omitempty"`
	Feeds      *FeedsConfig          `hcl:"feeds,block" json:"feeds,omitempty"`
	Syslog     *logging.SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`

	GeoIPDB           string `hcl:"geoip_db,optional" json:"geoip_db"`
	DNSValidationMode uint64 `hcl:"dns_validation_mode,optional" json:"dns_validation_mode"`
	Escalation        uint64 `hcl:"escalation,optional" json:"escalation"`
	Workers           int    `hcl:"workers,optional" json:"workers"`
}

// APIConfig configures the operator HTTP surface.
type APIConfig struct {
	Listen string `hcl:"listen,optional" json:"listen"`
}

// LimitsConfig holds the rate limits. GlobalBPS is bits per second.
type LimitsConfig struct {
	SynPPS    uint64 `hcl:"syn_pps,optional" json:"syn_pps"`
	UDPPPS    uint64 `hcl:"udp_pps,optional" json:"udp_pps"`
	ICMPPPS   uint64 `hcl:"icmp_pps,optional" json:"icmp_pps"`
	GlobalPPS uint64 `hcl:"global_pps,optional" json:"global_pps"`
	GlobalBPS uint64 `hcl:"global_bps,optional" json:"global_bps"`
}

// FeaturesConfig toggles the mitigation stages.
type FeaturesConfig struct {
	SynCookie       bool `hcl:"syn_cookie,optional" json:"syn_cookie"`
	Conntrack       bool `hcl:"conntrack,optional" json:"conntrack"`
	GeoIP           bool `hcl:"geoip,optional" json:"geoip"`
	Reputation      bool `hcl:"reputation,optional" json:"reputation"`
	ProtoValidation bool `hcl:"proto_validation,optional" json:"proto_validation"`
	PayloadMatch    bool `hcl:"payload_match,optional" json:"payload_match"`
	ThreatIntel     bool `hcl:"threat_intel,optional" json:"threat_intel"`
	TCPState        bool `hcl:"tcp_state,optional" json:"tcp_state"`
	AdaptiveRate    bool `hcl:"adaptive_rate,optional" json:"adaptive_rate"`
}

// ReputationConfig tunes the reputation engine.
type ReputationConfig struct {
	Threshold uint64 `hcl:"threshold,optional" json:"threshold"`
}

// FeedsConfig points at local rule and feed files loaded at start.
type FeedsConfig struct {
	ThreatIntel  string `hcl:"threat_intel,optional" json:"threat_intel"`
	Signatures   string `hcl:"signatures,optional" json:"signatures"`
	PayloadRules string `hcl:"payload_rules,optional" json:"payload_rules"`
}

// Default returns a configuration with every mitigation enabled and no rate
// limits.
func Default() *Config {
	return &Config{
		SchemaVersion: "1.0",
		Enabled:       true,
		LogLevel:      "info",
		API:           &APIConfig{Listen: ":8080"},
		Features: &FeaturesConfig{
			SynCookie:       true,
			Conntrack:       true,
			GeoIP:           true,
			Reputation:      true,
			ProtoValidation: true,
			PayloadMatch:    true,
			ThreatIntel:     true,
			TCPState:        true,
			AdaptiveRate:    true,
		},
	}
}

// LoadFile reads and validates an HCL configuration file.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c *Config) Validate() error {
	if c.SchemaVersion == "" {
		return errors.New(errors.KindValidation, "schema_version is required")
	}
	if c.DNSValidationMode > 2 {
		return errors.Errorf(errors.KindValidation, "dns_validation_mode %d out of range 0-2", c.DNSValidationMode)
	}
	if c.Escalation > 3 {
		return errors.Errorf(errors.KindValidation, "escalation %d out of range 0-3", c.Escalation)
	}
	if c.Workers < 0 {
		return errors.New(errors.KindValidation, "workers must be non-negative")
	}
	return nil
}

// Apply writes the configuration into the data-plane config array.
func (c *Config) Apply(cfg *maps.Array) {
	b2u := func(b bool) uint64 {
		if b {
			return 1
		}
		return 0
	}

	cfg.Set(types.ConfigEnabled, b2u(c.Enabled))
	cfg.Set(types.ConfigDNSValidationMode, c.DNSValidationMode)
	cfg.Set(types.ConfigEscalationLevel, c.Escalation)

	if l := c.Limits; l != nil {
		cfg.Set(types.ConfigSynRateLimit, l.SynPPS)
		cfg.Set(types.ConfigUDPRateLimit, l.UDPPPS)
		cfg.Set(types.ConfigICMPRateLimit, l.ICMPPPS)
		cfg.Set(types.ConfigGlobalPPSLimit, l.GlobalPPS)
		cfg.Set(types.ConfigGlobalBPSLimit, l.GlobalBPS/8)
	}
	if f := c.Features; f != nil {
		cfg.Set(types.ConfigSynCookieEnabled, b2u(f.SynCookie))
		cfg.Set(types.ConfigConntrackEnabled, b2u(f.Conntrack))
		cfg.Set(types.ConfigGeoIPEnabled, b2u(f.GeoIP))
		cfg.Set(types.ConfigReputationEnabled, b2u(f.Reputation))
		cfg.Set(types.ConfigProtoValidation, b2u(f.ProtoValidation))
		cfg.Set(types.ConfigPayloadMatchEnabled, b2u(f.PayloadMatch))
		cfg.Set(types.ConfigThreatIntelEnabled, b2u(f.ThreatIntel))
		cfg.Set(types.ConfigTCPStateEnabled, b2u(f.TCPState))
		cfg.Set(types.ConfigAdaptiveRateEnabled, b2u(f.AdaptiveRate))
	}
	if r := c.Reputation; r != nil {
		cfg.Set(types.ConfigReputationThreshold, r.Threshold)
	}
}

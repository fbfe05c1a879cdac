// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/maps"
)

const sampleHCL = `
schema_version = "1.0"
interface      = "eth0"
enabled        = true
log_level      = "debug"

dns_validation_mode = 2
escalation          = 1
workers             = 4

api {
  listen = ":9090"
}

limits {
  syn_pps    = 1000
  udp_pps    = 2000
  global_pps = 500000
  global_bps = 80000000
}

features {
  syn_cookie   = true
  conntrack    = true
  reputation   = true
  threat_intel = false
}

reputation {
  threshold = 300
}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "breakwater.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleHCL))
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Interface)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.API.Listen)
	assert.Equal(t, uint64(1000), cfg.Limits.SynPPS)
	assert.Equal(t, uint64(2), cfg.DNSValidationMode)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.Features.SynCookie)
	assert.False(t, cfg.Features.ThreatIntel)
	assert.Equal(t, uint64(300), cfg.Reputation.Threshold)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax error", `schema_version = `},
		{"missing schema_version", `interface = "eth0"` + "\n" + `schema_version = ""`},
		{"bad dns mode", "schema_version = \"1.0\"\ndns_validation_mode = 5"},
		{"bad escalation", "schema_version = \"1.0\"\nescalation = 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestApply(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleHCL))
	require.NoError(t, err)

	arr := maps.NewArray(types.ConfigSlots)
	cfg.Apply(arr)

	assert.Equal(t, uint64(1), arr.Get(types.ConfigEnabled))
	assert.Equal(t, uint64(1000), arr.Get(types.ConfigSynRateLimit))
	assert.Equal(t, uint64(2000), arr.Get(types.ConfigUDPRateLimit))
	assert.Equal(t, uint64(10000000), arr.Get(types.ConfigGlobalBPSLimit), "bits converted to bytes")
	assert.Equal(t, uint64(1), arr.Get(types.ConfigSynCookieEnabled))
	assert.Equal(t, uint64(0), arr.Get(types.ConfigThreatIntelEnabled))
	assert.Equal(t, uint64(300), arr.Get(types.ConfigReputationThreshold))
	assert.Equal(t, uint64(2), arr.Get(types.ConfigDNSValidationMode))
	assert.Equal(t, uint64(1), arr.Get(types.ConfigEscalationLevel))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.Features.SynCookie)
}

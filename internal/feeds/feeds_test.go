// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package feeds

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/breakwater/internal/clock"
	"grimm.is/breakwater/internal/controlplane"
	"grimm.is/breakwater/internal/dataplane"
	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/logging"
)

func newTestManager(t *testing.T) *controlplane.Manager {
	t.Helper()
	scrub, err := dataplane.New(dataplane.Config{
		CPUs:              1,
		ConntrackEntries:  64,
		RateLimitEntries:  64,
		ReputationEntries: 64,
		PortScanEntries:   64,
		EventRingSize:     64,
	}, clock.NewMockClock(time.Unix(1700000000, 0)))
	require.NoError(t, err)
	return controlplane.New(scrub, controlplane.Options{})
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func TestLoadThreatIntel(t *testing.T) {
	mgr := newTestManager(t)
	path := writeFile(t, "threat.yaml", `
entries:
  - cidr: 198.51.100.0/24
    feed_source: 1
    threat_type: 2
    confidence: 90
    action: drop
  - cidr: 203.0.113.7
    confidence: 40
    action: monitor
`)

	n, err := LoadThreatIntel(path, mgr, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entry, found := mgr.Scrubber().ThreatIntel().Lookup(0xC6336405)
	require.True(t, found)
	assert.Equal(t, uint8(90), entry.Confidence)
	assert.Equal(t, types.ThreatActionDrop, entry.Action)

	entry, found = mgr.Scrubber().ThreatIntel().Lookup(0xCB007107)
	require.True(t, found)
	assert.Equal(t, types.ThreatActionMonitor, entry.Action)
}

func TestLoadThreatIntel_InvalidEntryAborts(t *testing.T) {
	mgr := newTestManager(t)
	path := writeFile(t, "threat.yaml", `
entries:
  - cidr: bogus
    confidence: 50
`)
	_, err := LoadThreatIntel(path, mgr, quietLogger())
	assert.Error(t, err)
}

func TestLoadSignatures(t *testing.T) {
	mgr := newTestManager(t)
	path := writeFile(t, "sigs.yaml", `
signatures:
  - proto: 6
    flags_mask: 0x12
    flags_match: 0x02
    dst_port_min: 80
    dst_port_max: 443
`)

	n, err := LoadSignatures(path, mgr, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(1), mgr.Scrubber().SignatureCount())

	sigs := mgr.Scrubber().Signatures()
	require.Len(t, sigs, 1)
	assert.Equal(t, uint8(6), sigs[0].Proto)
	assert.Equal(t, uint16(443), sigs[0].DstPortMax)
}

func TestLoadPayloadRules(t *testing.T) {
	mgr := newTestManager(t)
	path := writeFile(t, "rules.yaml", `
rules:
  - pattern: "6576696c"   # "evil"
    offset: 0
    action: drop
  - pattern: "abcd"
    mask: "ff00"
    action: monitor
`)

	n, err := LoadPayloadRules(path, mgr, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rules := mgr.Scrubber().PayloadRules()
	require.Len(t, rules, 2)
	assert.Equal(t, uint8(4), rules[0].PatternLen)
	assert.Equal(t, byte('e'), rules[0].Pattern[0])
	assert.Equal(t, byte(0xFF), rules[0].Mask[0], "mask defaults to exact match")
	assert.Equal(t, types.PayloadActionMonitor, rules[1].Action)
	assert.Equal(t, byte(0x00), rules[1].Mask[1])
}

func TestLoadPayloadRules_Invalid(t *testing.T) {
	mgr := newTestManager(t)

	tests := []struct {
		name    string
		content string
	}{
		{"bad hex", "rules:\n  - pattern: zz\n"},
		{"empty pattern", "rules:\n  - pattern: \"\"\n"},
		{"mask mismatch", "rules:\n  - pattern: \"aabb\"\n    mask: \"ff\"\n"},
		{"too long", "rules:\n  - pattern: \"" + repeatHex(17) + "\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "rules.yaml", tt.content)
			_, err := LoadPayloadRules(path, mgr, quietLogger())
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	mgr := newTestManager(t)
	_, err := LoadThreatIntel("/nonexistent/threat.yaml", mgr, quietLogger())
	assert.Error(t, err)
}

func repeatHex(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += "aa"
	}
	return s
}

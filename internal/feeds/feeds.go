// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package feeds loads threat-intel entries, attack signatures, and payload
// rules from local YAML documents into the control plane. A read or parse
// failure leaves the installed state unchanged. An invalid entry stops the
// load at that entry; entries installed before it stay installed, and a
// signature load has already cleared the previous set. A failed load is not
// retried; breakwaterd loads each file once at start.
package feeds

import (
	"encoding/hex"
	"os"

	"gopkg.in/yaml.v3"

	"grimm.is/breakwater/internal/controlplane"
	"grimm.is/breakwater/internal/dataplane/types"
	"grimm.is/breakwater/internal/errors"
	"grimm.is/breakwater/internal/logging"
)

// ThreatEntry is one YAML threat-feed record.
type ThreatEntry struct {
	CIDR       string `yaml:"cidr"`
	FeedSource uint8  `yaml:"feed_source"`
	ThreatType uint8  `yaml:"threat_type"`
	Confidence uint8  `yaml:"confidence"`
	Action     string `yaml:"action"`
}

// ThreatFile is the threat-feed document.
type ThreatFile struct {
	Entries []ThreatEntry `yaml:"entries"`
}

// SignatureEntry is one YAML fingerprint record.
type SignatureEntry struct {
	Proto       uint8  `yaml:"proto"`
	FlagsMask   uint8  `yaml:"flags_mask"`
	FlagsMatch  uint8  `yaml:"flags_match"`
	SrcPortMin  uint16 `yaml:"src_port_min"`
	SrcPortMax  uint16 `yaml:"src_port_max"`
	DstPortMin  uint16 `yaml:"dst_port_min"`
	DstPortMax  uint16 `yaml:"dst_port_max"`
	PktLenMin   uint16 `yaml:"pkt_len_min"`
	PktLenMax   uint16 `yaml:"pkt_len_max"`
	PayloadHash uint32 `yaml:"payload_hash"`
}

// SignatureFile is the signature document.
type SignatureFile struct {
	Signatures []SignatureEntry `yaml:"signatures"`
}

// PayloadRuleEntry is one YAML payload rule; pattern and mask are hex
// strings up to 16 bytes.
type PayloadRuleEntry struct {
	Pattern string `yaml:"pattern"`
	Mask    string `yaml:"mask"`
	Offset  uint16 `yaml:"offset"`
	Proto   uint8  `yaml:"proto"`
	DstPort uint16 `yaml:"dst_port"`
	Action  string `yaml:"action"`
}

// PayloadRuleFile is the payload-rule document.
type PayloadRuleFile struct {
	Rules []PayloadRuleEntry `yaml:"rules"`
}

func parseAction(s string, dflt uint8) (uint8, error) {
	switch s {
	case "", "default":
		return dflt, nil
	case "drop":
		return types.ThreatActionDrop, nil
	case "rate-limit", "rate_limit":
		return types.ThreatActionRateLimit, nil
	case "monitor":
		return types.ThreatActionMonitor, nil
	default:
		return 0, errors.Errorf(errors.KindValidation, "unknown action %q", s)
	}
}

// LoadThreatIntel installs every entry of a threat-feed file. Entries are
// validated individually; the first invalid one aborts the load.
func LoadThreatIntel(path string, mgr *controlplane.Manager, logger *logging.Logger) (int, error) {
	if logger == nil {
		logger = logging.WithComponent("feeds")
	}
	var doc ThreatFile
	if err := readYAML(path, &doc); err != nil {
		return 0, err
	}

	for i, e := range doc.Entries {
		action, err := parseAction(e.Action, types.ThreatActionDrop)
		if err != nil {
			return 0, errors.Attr(err, "entry", i)
		}
		err = mgr.AddThreatIntel(e.CIDR, types.ThreatIntelEntry{
			FeedSource: e.FeedSource,
			ThreatType: e.ThreatType,
			Confidence: e.Confidence,
			Action:     action,
		})
		if err != nil {
			return 0, errors.Attr(err, "entry", i)
		}
	}
	logger.Info("Threat-intel feed loaded", "path", path, "entries", len(doc.Entries))
	return len(doc.Entries), nil
}

// LoadSignatures installs a signature file, replacing the active set.
func LoadSignatures(path string, mgr *controlplane.Manager, logger *logging.Logger) (int, error) {
	if logger == nil {
		logger = logging.WithComponent("feeds")
	}
	var doc SignatureFile
	if err := readYAML(path, &doc); err != nil {
		return 0, err
	}
	if len(doc.Signatures) > types.MaxSignatures {
		return 0, errors.Errorf(errors.KindValidation,
			"%d signatures exceed capacity %d", len(doc.Signatures), types.MaxSignatures)
	}

	mgr.ClearSignatures()
	for i, e := range doc.Signatures {
		sig := types.Signature{
			Proto:       e.Proto,
			FlagsMask:   e.FlagsMask,
			FlagsMatch:  e.FlagsMatch,
			SrcPortMin:  e.SrcPortMin,
			SrcPortMax:  e.SrcPortMax,
			DstPortMin:  e.DstPortMin,
			DstPortMax:  e.DstPortMax,
			PktLenMin:   e.PktLenMin,
			PktLenMax:   e.PktLenMax,
			PayloadHash: e.PayloadHash,
		}
		if err := mgr.SetAttackSignature(i, sig); err != nil {
			return 0, errors.Attr(err, "signature", i)
		}
	}
	if err := mgr.SetSignatureCount(uint32(len(doc.Signatures))); err != nil {
		return 0, err
	}
	logger.Info("Signatures loaded", "path", path, "count", len(doc.Signatures))
	return len(doc.Signatures), nil
}

// LoadPayloadRules installs a payload-rule file, replacing the active set.
func LoadPayloadRules(path string, mgr *controlplane.Manager, logger *logging.Logger) (int, error) {
	if logger == nil {
		logger = logging.WithComponent("feeds")
	}
	var doc PayloadRuleFile
	if err := readYAML(path, &doc); err != nil {
		return 0, err
	}
	if len(doc.Rules) > types.MaxPayloadRules {
		return 0, errors.Errorf(errors.KindValidation,
			"%d payload rules exceed capacity %d", len(doc.Rules), types.MaxPayloadRules)
	}

	for i, e := range doc.Rules {
		rule, err := buildPayloadRule(e)
		if err != nil {
			return 0, errors.Attr(err, "rule", i)
		}
		if err := mgr.SetPayloadRule(i, rule); err != nil {
			return 0, errors.Attr(err, "rule", i)
		}
	}
	if err := mgr.SetPayloadRuleCount(uint32(len(doc.Rules))); err != nil {
		return 0, err
	}
	logger.Info("Payload rules loaded", "path", path, "count", len(doc.Rules))
	return len(doc.Rules), nil
}

func buildPayloadRule(e PayloadRuleEntry) (types.PayloadRule, error) {
	var rule types.PayloadRule

	pattern, err := hex.DecodeString(e.Pattern)
	if err != nil {
		return rule, errors.Wrap(err, errors.KindValidation, "invalid pattern hex")
	}
	if len(pattern) == 0 || len(pattern) > types.PayloadPatternMax {
		return rule, errors.Errorf(errors.KindValidation, "pattern length %d out of range", len(pattern))
	}

	mask := make([]byte, len(pattern))
	if e.Mask == "" {
		for i := range mask {
			mask[i] = 0xFF
		}
	} else {
		mask, err = hex.DecodeString(e.Mask)
		if err != nil {
			return rule, errors.Wrap(err, errors.KindValidation, "invalid mask hex")
		}
		if len(mask) != len(pattern) {
			return rule, errors.New(errors.KindValidation, "mask length differs from pattern length")
		}
	}

	action, err := parsePayloadAction(e.Action)
	if err != nil {
		return rule, err
	}

	copy(rule.Pattern[:], pattern)
	copy(rule.Mask[:], mask)
	rule.PatternLen = uint8(len(pattern))
	rule.Offset = e.Offset
	rule.Proto = e.Proto
	rule.DstPort = e.DstPort
	rule.Action = action
	return rule, nil
}

func parsePayloadAction(s string) (uint8, error) {
	switch s {
	case "", "drop":
		return types.PayloadActionDrop, nil
	case "rate-limit", "rate_limit":
		return types.PayloadActionRateLimit, nil
	case "monitor":
		return types.PayloadActionMonitor, nil
	default:
		return 0, errors.Errorf(errors.KindValidation, "unknown payload action %q", s)
	}
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "read %s", path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, errors.KindValidation, "parse %s", path)
	}
	return nil
}

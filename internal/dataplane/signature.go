// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// signatureFilter scans the active fingerprint records in order and drops on
// the first full match. The scan is bounded regardless of the configured
// count.
func (s *Scrubber) signatureFilter(cpu int, ctx *PacketContext) types.Verdict {
	n := s.sigCount.Load()
	if n == 0 {
		return types.VerdictPass
	}
	if n > types.SignatureScanLimit {
		n = types.SignatureScanLimit
	}

	s.ruleMu.RLock()
	defer s.ruleMu.RUnlock()

	for i := uint32(0); i < n; i++ {
		if signatureMatches(&s.signatures[i], ctx) {
			s.stats.Slot(cpu).Inc(types.StatSignatureDropped)
			s.emit(cpu, ctx, types.AttackSignature, types.EventActionDrop, types.DropSignature, 0, 0)
			return types.VerdictDrop
		}
	}
	return types.VerdictPass
}

// signatureMatches reports whether every present field of the record matches
// the packet. Zeroed fields are "don't check".
func signatureMatches(sig *types.Signature, ctx *PacketContext) bool {
	if sig.Proto != 0 && sig.Proto != ctx.L3Proto {
		return false
	}
	if sig.FlagsMask != 0 && ctx.TCPFlags&sig.FlagsMask != sig.FlagsMatch {
		return false
	}
	if !portInRange(ctx.SrcPort, sig.SrcPortMin, sig.SrcPortMax) {
		return false
	}
	if !portInRange(ctx.DstPort, sig.DstPortMin, sig.DstPortMax) {
		return false
	}
	if sig.PktLenMin != 0 || sig.PktLenMax != 0 {
		if ctx.TotalLen < sig.PktLenMin || ctx.TotalLen > sig.PktLenMax {
			return false
		}
	}
	if sig.PayloadHash != 0 {
		if !ctx.HasFirst4 || ctx.First4 != sig.PayloadHash {
			return false
		}
	}
	return true
}

func portInRange(port, min, max uint16) bool {
	if min == 0 && max == 0 {
		return true
	}
	return port >= min && port <= max
}

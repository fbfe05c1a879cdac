// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// tinyFirstFragmentLen is the minimum total length of a legitimate first
// fragment; anything smaller is the classic tiny-fragment evasion.
const tinyFirstFragmentLen = 68

// fragmentFilter drops all fragmented traffic. Reassembly is not performed;
// a tiny first fragment is flagged with its own reason code.
func (s *Scrubber) fragmentFilter(cpu int, ctx *PacketContext) types.Verdict {
	if !ctx.Fragmented {
		return types.VerdictPass
	}

	reason := types.DropFragment
	if ctx.FragOffset == 0 && ctx.TotalLen < tinyFirstFragmentLen {
		reason = types.DropTinyFragment
	}

	s.stats.Slot(cpu).Inc(types.StatFragmentDropped)
	s.Penalize(cpu, ctx.SrcIP, types.PenaltyFragment, s.now())
	s.emit(cpu, ctx, types.AttackFragment, types.EventActionDrop, reason, 0, 0)
	return types.VerdictDrop
}

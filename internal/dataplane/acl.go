// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"grimm.is/breakwater/internal/dataplane/types"
)

// aclFilter checks the source address against the whitelist then the
// blacklist. A whitelist hit passes unconditionally, skipping every later
// stage; whitelist wins over blacklist. The second return reports whether the
// verdict is final.
func (s *Scrubber) aclFilter(cpu int, ctx *PacketContext) (types.Verdict, bool) {
	if _, ok := s.whitelist.Lookup(ctx.SrcIP); ok {
		return types.VerdictPass, true
	}
	if reason, ok := s.blacklist.Lookup(ctx.SrcIP); ok {
		s.stats.Slot(cpu).Inc(types.StatACLDropped)
		s.emit(cpu, ctx, types.AttackNone, types.EventActionDrop, uint8(reason), 0, 0)
		return types.VerdictDrop, true
	}
	return types.VerdictPass, false
}

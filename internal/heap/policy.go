package heap

// SizingAction is the kind of resize an evaluation decided on.
type SizingAction int

const (
	ActionNone   SizingAction = iota // No resize
	ActionExpand                     // Commit more regions
	ActionShrink                     // Uncommit idle regions
)

// String returns string representation of a sizing action.
func (a SizingAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionExpand:
		return "expand"
	case ActionShrink:
		return "shrink"
	default:
		return "unknown"
	}
}

// SizingDecision is the value produced by one evaluation. It is
// transient and never persisted across evaluations.
type SizingDecision struct {
	Action     SizingAction
	Bytes      uint64 // Whole multiple of the region size
	Candidates int    // Uncommit candidates observed, for diagnostics
}

// HeapOccupancy is the read-only occupancy view the policy evaluates
// against, captured by the heap manager at the start of an evaluation.
type HeapOccupancy struct {
	CommittedBytes uint64
	UsedBytes      uint64
	RegionSize     uint64
	MinHeapBytes   uint64
	MaxHeapBytes   uint64
	HighWater      float64
}

// SizingPolicy is the stateless decision function of the subsystem: given
// a tracker snapshot, the current configuration and heap occupancy it
// computes whether to expand, shrink, or do nothing, and by how much.
type SizingPolicy struct{}

// Evaluate computes a sizing decision.
//
// Expansion always takes priority over shrink: a heap under occupancy
// pressure must not simultaneously be asked to give memory back, even
// when uncommit candidates exist. Shrink is only proposed once at least
// MinRegionsToUncommit candidates have accumulated, and the amount is
// clamped so the committed size never drops below the heap floor.
func (SizingPolicy) Evaluate(snapshot []RegionActivity, cfg SizingConfig, occ HeapOccupancy) SizingDecision {
	// Degenerate at process start: nothing committed, nothing to decide.
	if len(snapshot) == 0 {
		return SizingDecision{Action: ActionNone}
	}

	if amount := expandAmount(occ); amount > 0 {
		return SizingDecision{Action: ActionExpand, Bytes: amount}
	}

	candidates := 0
	for _, ra := range snapshot {
		if ra.State == RegionUncommitCandidate {
			candidates++
		}
	}
	if candidates < cfg.MinRegionsToUncommit {
		return SizingDecision{Action: ActionNone, Candidates: candidates}
	}

	amount := uint64(candidates) * occ.RegionSize
	if max := maxShrinkable(occ); amount > max {
		amount = max
	}
	if amount == 0 {
		return SizingDecision{Action: ActionNone, Candidates: candidates}
	}
	return SizingDecision{Action: ActionShrink, Bytes: amount, Candidates: candidates}
}

// expandAmount returns the number of bytes to commit so that occupancy
// returns to the high-water target fraction, or 0 when the heap is not
// under pressure or cannot grow further. The result is a whole multiple
// of the region size.
func expandAmount(occ HeapOccupancy) uint64 {
	if occ.CommittedBytes == 0 || occ.HighWater <= 0 {
		return 0
	}
	if float64(occ.UsedBytes) <= occ.HighWater*float64(occ.CommittedBytes) {
		return 0
	}

	target := uint64(float64(occ.UsedBytes) / occ.HighWater)
	target = roundUpRegions(target, occ.RegionSize)
	if target > occ.MaxHeapBytes {
		target = occ.MaxHeapBytes
	}
	if target <= occ.CommittedBytes {
		return 0
	}
	return target - occ.CommittedBytes
}

// maxShrinkable returns the largest region-aligned amount that can be
// uncommitted without dropping the committed size below the floor.
func maxShrinkable(occ HeapOccupancy) uint64 {
	if occ.CommittedBytes <= occ.MinHeapBytes {
		return 0
	}
	max := occ.CommittedBytes - occ.MinHeapBytes
	return max - max%occ.RegionSize
}

func roundUpRegions(bytes, regionSize uint64) uint64 {
	if regionSize == 0 {
		return bytes
	}
	if rem := bytes % regionSize; rem != 0 {
		bytes += regionSize - rem
	}
	return bytes
}

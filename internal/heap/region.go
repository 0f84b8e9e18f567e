package heap

import "fmt"

// RegionID is a unique identifier for a committed heap region. IDs are
// never reused; when a region is uncommitted its slot may be recycled
// but the next region committed into that slot gets a fresh ID.
type RegionID uint64

// Generation classifies a region by the age of the data it holds.
type Generation int

const (
	GenYoung Generation = iota // Newly allocated data
	GenOld                     // Data that survived at least one collection
)

// String returns string representation of a generation.
func (g Generation) String() string {
	switch g {
	case GenYoung:
		return "young"
	case GenOld:
		return "old"
	default:
		return fmt.Sprintf("Unknown(%d)", int(g))
	}
}

// RegionState is the coarse activity classification of a committed region.
type RegionState int

const (
	// RegionActive means the region was touched by allocation or
	// collection within the current evaluation interval.
	RegionActive RegionState = iota
	// RegionIdle means the region has been untouched for at least one
	// full evaluation interval but less than the uncommit delay.
	RegionIdle
	// RegionUncommitCandidate means the region has been untouched for at
	// least the uncommit delay and is eligible for uncommit.
	RegionUncommitCandidate
)

// String returns string representation of a region state.
func (s RegionState) String() string {
	switch s {
	case RegionActive:
		return "active"
	case RegionIdle:
		return "idle"
	case RegionUncommitCandidate:
		return "uncommit-candidate"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Region is a fixed-size unit of heap memory that can be independently
// committed or uncommitted. All fields are guarded by the owning
// HeapManager's lock; the activity timestamp lives in the tracker, not
// here, so allocating threads never contend on the manager lock just to
// record a touch.
type Region struct {
	ID         RegionID   // Unique region identifier
	Slot       int        // Slot index within the reserved address range
	Size       uint64     // Region size in bytes
	Used       uint64     // Currently allocated bytes (bump pointer)
	Generation Generation // Age classification
}

// Free returns the number of unallocated bytes remaining in the region.
func (r *Region) Free() uint64 {
	return r.Size - r.Used
}

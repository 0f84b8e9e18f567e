package heap

import (
	"log"
	"time"

	"github.com/dustin/go-humanize"
)

// HeapObserver receives the diagnostic events of the sizing subsystem.
// Implementations must be cheap and non-blocking; they are invoked from
// allocation paths and the evaluation worker.
type HeapObserver interface {
	// OnEvaluation fires once per evaluation with the decision taken and
	// the occupancy it was based on (the periodic heartbeat event).
	OnEvaluation(decision SizingDecision, committed, used uint64)
	// OnRegionStateChange fires on every ACTIVE/IDLE/UNCOMMIT_CANDIDATE
	// transition.
	OnRegionStateChange(id RegionID, from, to RegionState, idle time.Duration)
	// OnUncommitCandidates fires when an evaluation observed candidates.
	OnUncommitCandidates(count int)
	// OnMemoryReleased fires after a shrink successfully uncommitted
	// memory.
	OnMemoryReleased(bytes uint64, regions int)
	// OnHeapExpanded fires after an expansion committed new regions.
	OnHeapExpanded(bytes uint64)
}

// NopObserver is a HeapObserver that ignores every event. Embed it to
// implement only the events of interest.
type NopObserver struct{}

func (NopObserver) OnEvaluation(SizingDecision, uint64, uint64) {}

func (NopObserver) OnRegionStateChange(RegionID, RegionState, RegionState, time.Duration) {}

func (NopObserver) OnUncommitCandidates(int) {}

func (NopObserver) OnMemoryReleased(uint64, int) {}

func (NopObserver) OnHeapExpanded(uint64) {}

// LogObserver writes diagnostic events to a standard logger. Byte counts
// are humanized for readability.
type LogObserver struct {
	Logger *log.Logger
}

// NewLogObserver creates a LogObserver around logger.
func NewLogObserver(logger *log.Logger) *LogObserver {
	return &LogObserver{Logger: logger}
}

func (lo *LogObserver) OnEvaluation(d SizingDecision, committed, used uint64) {
	lo.Logger.Printf("time-based evaluation triggered: action=%s bytes=%s committed=%s used=%s",
		d.Action, humanize.IBytes(d.Bytes), humanize.IBytes(committed), humanize.IBytes(used))
}

func (lo *LogObserver) OnRegionStateChange(id RegionID, from, to RegionState, idle time.Duration) {
	lo.Logger.Printf("region state transition: region=%d %s -> %s idle=%v", id, from, to, idle)
}

func (lo *LogObserver) OnUncommitCandidates(count int) {
	lo.Logger.Printf("uncommit candidates found: %d regions", count)
}

func (lo *LogObserver) OnMemoryReleased(bytes uint64, regions int) {
	lo.Logger.Printf("memory released: %s (%d regions)", humanize.IBytes(bytes), regions)
}

func (lo *LogObserver) OnHeapExpanded(bytes uint64) {
	lo.Logger.Printf("heap expanded by %s", humanize.IBytes(bytes))
}

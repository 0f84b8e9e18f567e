package heap

import (
	"sync"
	"time"
)

// fakeClock is a manually advanced time source for tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stateChange records one observed region state transition.
type stateChange struct {
	id       RegionID
	from, to RegionState
}

// recordingObserver captures every diagnostic event for assertions.
type recordingObserver struct {
	mu             sync.Mutex
	evaluations    []SizingDecision
	transitions    []stateChange
	candidateCalls []int
	released       uint64
	releasedCalls  int
	expanded       uint64
}

func (ro *recordingObserver) OnEvaluation(d SizingDecision, committed, used uint64) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.evaluations = append(ro.evaluations, d)
}

func (ro *recordingObserver) OnRegionStateChange(id RegionID, from, to RegionState, idle time.Duration) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.transitions = append(ro.transitions, stateChange{id: id, from: from, to: to})
}

func (ro *recordingObserver) OnUncommitCandidates(count int) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.candidateCalls = append(ro.candidateCalls, count)
}

func (ro *recordingObserver) OnMemoryReleased(bytes uint64, regions int) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.released += bytes
	ro.releasedCalls++
}

func (ro *recordingObserver) OnHeapExpanded(bytes uint64) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.expanded += bytes
}

func (ro *recordingObserver) lastEvaluation() (SizingDecision, bool) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	if len(ro.evaluations) == 0 {
		return SizingDecision{}, false
	}
	return ro.evaluations[len(ro.evaluations)-1], true
}

func (ro *recordingObserver) evaluationCount() int {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	return len(ro.evaluations)
}

func (ro *recordingObserver) releasedBytes() uint64 {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	return ro.released
}

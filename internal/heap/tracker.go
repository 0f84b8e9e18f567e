package heap

import (
	"sync"
	"sync/atomic"
	"time"
)

// activityRecord holds the temporal state of one committed region.
// lastActive and idleEvals are atomics so allocating threads can touch
// a region without taking the tracker's write lock; state is only
// written by the single evaluation worker inside ClassifyAll, and by
// MarkActive when it pulls a region back to active.
type activityRecord struct {
	lastActive atomic.Int64  // Unix nanos of the most recent touch
	state      atomic.Int32  // RegionState as last classified
	idleEvals  atomic.Uint32 // Consecutive evaluations spent non-active
}

// RegionActivity is one entry of a classification snapshot. The snapshot
// is copy-on-read: the policy may inspect it freely while allocation
// continues to mutate the tracker.
type RegionActivity struct {
	ID              RegionID
	State           RegionState
	IdleDuration    time.Duration
	IdleEvaluations int
}

// RegionActivityTracker maintains, for every currently committed region,
// the most recent timestamp at which it was touched by allocation or
// collection. It holds no scheduling or policy logic.
//
// Invariant: every committed region has exactly one record; every
// uncommitted region has none. The HeapManager enforces this through the
// OnRegionCommitted/OnRegionUncommitted lifecycle hooks.
type RegionActivityTracker struct {
	mu        sync.RWMutex
	records   map[RegionID]*activityRecord
	now       func() time.Time
	observers []HeapObserver
}

// NewRegionActivityTracker creates an empty tracker using the wall clock.
func NewRegionActivityTracker() *RegionActivityTracker {
	return &RegionActivityTracker{
		records: make(map[RegionID]*activityRecord),
		now:     time.Now,
	}
}

// AddObserver registers an observer for region state transition events.
func (t *RegionActivityTracker) AddObserver(obs HeapObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, obs)
}

// SetClock overrides the tracker's time source.
func (t *RegionActivityTracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// OnRegionCommitted inserts a tracking record for a newly committed
// region. The region starts out active.
func (t *RegionActivityTracker) OnRegionCommitted(id RegionID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := &activityRecord{}
	rec.lastActive.Store(t.now().UnixNano())
	rec.state.Store(int32(RegionActive))
	t.records[id] = rec
}

// OnRegionUncommitted removes the tracking record for a region whose
// memory has been returned to the operating system.
func (t *RegionActivityTracker) OnRegionUncommitted(id RegionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, id)
}

// MarkActive records a touch on the region: the allocation path calls it
// on every allocation into the region, and the collector calls it for
// every region it finds still holding live data. The region transitions
// back to active immediately regardless of prior state.
//
// Safe to call from many threads concurrently; updates are independent
// per region and take only the tracker's read lock.
func (t *RegionActivityTracker) MarkActive(id RegionID) {
	t.mu.RLock()
	rec, ok := t.records[id]
	var observers []HeapObserver
	var prev RegionState
	if ok {
		rec.lastActive.Store(t.now().UnixNano())
		prev = RegionState(rec.state.Swap(int32(RegionActive)))
		rec.idleEvals.Store(0)
		if prev != RegionActive {
			observers = t.observers
		}
	}
	t.mu.RUnlock()

	for _, obs := range observers {
		obs.OnRegionStateChange(id, prev, RegionActive, 0)
	}
}

// Tracked reports whether the region currently has a record.
func (t *RegionActivityTracker) Tracked(id RegionID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.records[id]
	return ok
}

// Len returns the number of tracked (committed) regions.
func (t *RegionActivityTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// ClassifyAll produces a point-in-time snapshot of every committed
// region's activity state using the supplied thresholds:
//
//	idle <  interval        -> active
//	idle >= interval        -> idle
//	idle >= uncommitDelay   -> uncommit candidate
//
// It is the only read path the sizing policy uses. Concurrent MarkActive
// calls may or may not be reflected; per-region staleness of at most one
// evaluation interval is acceptable. ClassifyAll is invoked only from
// the single evaluation worker, so record state updates need no
// cross-record ordering.
func (t *RegionActivityTracker) ClassifyAll(now time.Time, interval, uncommitDelay time.Duration) []RegionActivity {
	t.mu.RLock()
	snapshot := make([]RegionActivity, 0, len(t.records))
	type transition struct {
		id       RegionID
		from, to RegionState
		idle     time.Duration
	}
	var transitions []transition

	for id, rec := range t.records {
		idle := now.Sub(time.Unix(0, rec.lastActive.Load()))
		if idle < 0 {
			idle = 0
		}

		state := RegionActive
		switch {
		case idle >= uncommitDelay:
			state = RegionUncommitCandidate
		case idle >= interval:
			state = RegionIdle
		}

		var idleEvals uint32
		if state == RegionActive {
			rec.idleEvals.Store(0)
		} else {
			idleEvals = rec.idleEvals.Add(1)
		}

		prev := RegionState(rec.state.Swap(int32(state)))
		if prev != state {
			transitions = append(transitions, transition{id: id, from: prev, to: state, idle: idle})
		}

		snapshot = append(snapshot, RegionActivity{
			ID:              id,
			State:           state,
			IdleDuration:    idle,
			IdleEvaluations: int(idleEvals),
		})
	}
	observers := t.observers
	t.mu.RUnlock()

	for _, tr := range transitions {
		for _, obs := range observers {
			obs.OnRegionStateChange(tr.id, tr.from, tr.to, tr.idle)
		}
	}
	return snapshot
}

// View returns a read-only snapshot using each record's last classified
// state, without advancing idle-evaluation counters or emitting
// transition events. Diagnostic surfaces use it so that inspection never
// perturbs the evaluation's bookkeeping.
func (t *RegionActivityTracker) View(now time.Time) []RegionActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make([]RegionActivity, 0, len(t.records))
	for id, rec := range t.records {
		idle := now.Sub(time.Unix(0, rec.lastActive.Load()))
		if idle < 0 {
			idle = 0
		}
		snapshot = append(snapshot, RegionActivity{
			ID:              id,
			State:           RegionState(rec.state.Load()),
			IdleDuration:    idle,
			IdleEvaluations: int(rec.idleEvals.Load()),
		})
	}
	return snapshot
}

// Candidates returns the IDs of regions idle for at least uncommitDelay.
// The heap manager uses it to select what to uncommit when fulfilling a
// shrink request.
func (t *RegionActivityTracker) Candidates(now time.Time, uncommitDelay time.Duration) []RegionID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]RegionID, 0)
	for id, rec := range t.records {
		idle := now.Sub(time.Unix(0, rec.lastActive.Load()))
		if idle >= uncommitDelay {
			ids = append(ids, id)
		}
	}
	return ids
}

package heap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	trackerInterval = 10 * time.Second
	trackerDelay    = 30 * time.Second
)

func newTestTracker(n int) (*RegionActivityTracker, *fakeClock) {
	clock := newFakeClock()
	tr := NewRegionActivityTracker()
	tr.SetClock(clock.Now)
	for i := 1; i <= n; i++ {
		tr.OnRegionCommitted(RegionID(i))
	}
	return tr, clock
}

func classify(tr *RegionActivityTracker, clock *fakeClock) map[RegionID]RegionActivity {
	out := make(map[RegionID]RegionActivity)
	for _, ra := range tr.ClassifyAll(clock.Now(), trackerInterval, trackerDelay) {
		out[ra.ID] = ra
	}
	return out
}

func TestTrackerFreshRegionsAreActive(t *testing.T) {
	tr, clock := newTestTracker(3)

	for id, ra := range classify(tr, clock) {
		assert.Equal(t, RegionActive, ra.State, "region %d", id)
		assert.Zero(t, ra.IdleEvaluations)
	}
}

func TestTrackerStateProgression(t *testing.T) {
	tr, clock := newTestTracker(1)

	clock.Advance(15 * time.Second)
	snap := classify(tr, clock)
	assert.Equal(t, RegionIdle, snap[1].State)
	assert.Equal(t, 1, snap[1].IdleEvaluations)

	clock.Advance(20 * time.Second) // total 35s > delay
	snap = classify(tr, clock)
	assert.Equal(t, RegionUncommitCandidate, snap[1].State)
	assert.Equal(t, 2, snap[1].IdleEvaluations)
	assert.Equal(t, 35*time.Second, snap[1].IdleDuration)
}

// Monotonic recovery: MarkActive pulls a region back to active from any
// state, and the region is excluded from the next candidate set.
func TestTrackerMarkActiveRecovers(t *testing.T) {
	tr, clock := newTestTracker(2)

	clock.Advance(35 * time.Second)
	snap := classify(tr, clock)
	assert.Equal(t, RegionUncommitCandidate, snap[1].State)
	assert.Equal(t, RegionUncommitCandidate, snap[2].State)

	tr.MarkActive(1)
	snap = classify(tr, clock)
	assert.Equal(t, RegionActive, snap[1].State)
	assert.Zero(t, snap[1].IdleEvaluations)
	assert.Equal(t, RegionUncommitCandidate, snap[2].State)

	candidates := tr.Candidates(clock.Now(), trackerDelay)
	require.Len(t, candidates, 1)
	assert.Equal(t, RegionID(2), candidates[0])
}

func TestTrackerLifecycleInvariant(t *testing.T) {
	tr, clock := newTestTracker(0)

	assert.Zero(t, tr.Len())
	tr.OnRegionCommitted(7)
	assert.True(t, tr.Tracked(7))
	assert.Equal(t, 1, tr.Len())

	tr.OnRegionUncommitted(7)
	assert.False(t, tr.Tracked(7))
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.ClassifyAll(clock.Now(), trackerInterval, trackerDelay))
}

func TestTrackerMarkActiveUnknownRegionIsNoop(t *testing.T) {
	tr, _ := newTestTracker(1)
	assert.NotPanics(t, func() { tr.MarkActive(99) })
}

func TestTrackerTransitionEvents(t *testing.T) {
	tr, clock := newTestTracker(1)
	obs := &recordingObserver{}
	tr.AddObserver(obs)

	clock.Advance(15 * time.Second)
	classify(tr, clock)
	clock.Advance(20 * time.Second)
	classify(tr, clock)
	tr.MarkActive(1)

	require.Len(t, obs.transitions, 3)
	assert.Equal(t, stateChange{id: 1, from: RegionActive, to: RegionIdle}, obs.transitions[0])
	assert.Equal(t, stateChange{id: 1, from: RegionIdle, to: RegionUncommitCandidate}, obs.transitions[1])
	assert.Equal(t, stateChange{id: 1, from: RegionUncommitCandidate, to: RegionActive}, obs.transitions[2])
}

// Re-classifying without state movement emits no duplicate transitions.
func TestTrackerNoDuplicateTransitionEvents(t *testing.T) {
	tr, clock := newTestTracker(1)
	obs := &recordingObserver{}
	tr.AddObserver(obs)

	clock.Advance(15 * time.Second)
	classify(tr, clock)
	classify(tr, clock)
	classify(tr, clock)

	assert.Len(t, obs.transitions, 1)
}

func TestTrackerConcurrentMarkActive(t *testing.T) {
	tr, clock := newTestTracker(8)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				tr.MarkActive(RegionID(g%8 + 1))
			}
		}(g)
	}
	wg.Wait()

	for id, ra := range classify(tr, clock) {
		assert.Equal(t, RegionActive, ra.State, "region %d", id)
	}
}

func TestTrackerViewDoesNotAdvanceCounters(t *testing.T) {
	tr, clock := newTestTracker(1)

	clock.Advance(15 * time.Second)
	classify(tr, clock)

	before := classify(tr, clock)[1].IdleEvaluations
	for i := 0; i < 5; i++ {
		tr.View(clock.Now())
	}
	after := classify(tr, clock)[1].IdleEvaluations
	assert.Equal(t, before+1, after, "View must not bump idle evaluation counters")
}

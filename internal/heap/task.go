package heap

import (
	"log"
	"os"
	"sort"
	"sync"
	"time"
)

// ServiceWorker is a single dedicated background worker that runs
// scheduled functions serially: no two functions ever run concurrently,
// and a function scheduling itself from within its own run (the
// self-rescheduling pattern of the evaluation task) is the expected
// usage. Deadlines drift with execution time rather than compounding
// into skipped runs.
type ServiceWorker struct {
	mu      sync.Mutex
	queue   []scheduledEntry
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	stopped bool
	now     func() time.Time
}

type scheduledEntry struct {
	at time.Time
	fn func()
}

// NewServiceWorker creates and starts a service worker.
func NewServiceWorker() *ServiceWorker {
	w := &ServiceWorker{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		now:  time.Now,
	}
	go w.loop()
	return w
}

// Schedule arranges for fn to run after delay. Scheduling after Stop is
// a no-op, which is how the self-rescheduling task winds down at
// process shutdown.
func (w *ServiceWorker) Schedule(fn func(), delay time.Duration) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.queue = append(w.queue, scheduledEntry{at: w.now().Add(delay), fn: fn})
	sort.Slice(w.queue, func(i, j int) bool { return w.queue[i].at.Before(w.queue[j].at) })
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop shuts the worker down and waits for the current run, if any, to
// finish. Pending entries are dropped.
func (w *ServiceWorker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
}

func (w *ServiceWorker) loop() {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.mu.Lock()
		var wait time.Duration = time.Hour
		if len(w.queue) > 0 {
			wait = time.Until(w.queue[0].at)
		}
		w.mu.Unlock()

		if wait <= 0 {
			w.runNext()
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-w.stop:
			return
		case <-w.wake:
		case <-timer.C:
			w.runNext()
		}
	}
}

// runNext pops and runs the earliest due entry, if one is due.
func (w *ServiceWorker) runNext() {
	w.mu.Lock()
	if len(w.queue) == 0 || w.queue[0].at.After(w.now()) {
		w.mu.Unlock()
		return
	}
	entry := w.queue[0]
	w.queue = w.queue[1:]
	w.mu.Unlock()

	entry.fn()
}

// HeapEvaluationTask is the self-rescheduling periodic task at the heart
// of the time-based sizing subsystem. Each run takes a tracker snapshot,
// asks the sizing policy for a decision, applies it (expand directly on
// the heap manager, shrink through the HeapOperationCallback), and
// reschedules itself after the configured interval.
//
// The task holds no mutable state beyond a run counter: configuration is
// read once per run from the store, and the tracker snapshot is a
// borrowed read-only view.
type HeapEvaluationTask struct {
	heap     *HeapManager
	shrinker HeapOperationCallback
	store    *ConfigStore
	worker   *ServiceWorker
	policy   SizingPolicy
	logger   *log.Logger
	now      func() time.Time
}

// NewHeapEvaluationTask wires an evaluation task. The shrinker is
// usually the heap manager itself, but the indirection keeps this module
// free of any compile-time dependency on how shrinks are fulfilled.
func NewHeapEvaluationTask(hm *HeapManager, shrinker HeapOperationCallback, store *ConfigStore, worker *ServiceWorker) *HeapEvaluationTask {
	return &HeapEvaluationTask{
		heap:     hm,
		shrinker: shrinker,
		store:    store,
		worker:   worker,
		logger:   log.New(os.Stderr, "heap-eval: ", log.LstdFlags),
		now:      time.Now,
	}
}

// SetLogger replaces the task's logger.
func (t *HeapEvaluationTask) SetLogger(logger *log.Logger) {
	t.logger = logger
}

// SetClock overrides the task's time source.
func (t *HeapEvaluationTask) SetClock(now func() time.Time) {
	t.now = now
}

// Start schedules the first evaluation one interval from now.
func (t *HeapEvaluationTask) Start() {
	t.worker.Schedule(t.Execute, t.store.Snapshot().EvaluationInterval)
}

// Execute runs one evaluation. It always reschedules itself one interval
// from this invocation, on every path: when the feature is disabled (so
// a dynamic re-enable resumes without a restart), after a NONE decision,
// and even when decision application fails or panics — a single bad
// evaluation must never terminate the periodic task.
func (t *HeapEvaluationTask) Execute() {
	cfg := t.store.Snapshot()
	defer t.worker.Schedule(t.Execute, cfg.EvaluationInterval)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Printf("evaluation recovered from panic: %v", r)
		}
	}()

	if !cfg.Enabled {
		return
	}

	now := t.now()
	snapshot := t.heap.Tracker().ClassifyAll(now, cfg.EvaluationInterval, cfg.UncommitDelay)
	occ := t.heap.Occupancy()
	decision := t.policy.Evaluate(snapshot, cfg, occ)

	t.emit(decision, occ)

	switch decision.Action {
	case ActionExpand:
		if err := t.heap.Expand(decision.Bytes); err != nil {
			// Expansion failure is the allocator's out-of-memory problem,
			// not ours: log and carry on to the next evaluation.
			t.logger.Printf("expand of %d bytes failed: %v", decision.Bytes, err)
		}
	case ActionShrink:
		t.shrinker.RequestShrink(decision.Bytes)
	case ActionNone:
	}
}

func (t *HeapEvaluationTask) emit(decision SizingDecision, occ HeapOccupancy) {
	observers := t.heap.observersSnapshot()
	for _, obs := range observers {
		obs.OnEvaluation(decision, occ.CommittedBytes, occ.UsedBytes)
		if decision.Candidates > 0 {
			obs.OnUncommitCandidates(decision.Candidates)
		}
	}
}

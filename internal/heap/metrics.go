package heap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HeapMetrics exposes the sizing subsystem to Prometheus. It implements
// HeapObserver, so wiring it up is a single AddObserver call; committed
// and used bytes are sampled lazily from the heap manager at scrape
// time.
type HeapMetrics struct {
	evaluationsTotal        prometheus.Counter
	decisionsTotal          *prometheus.CounterVec
	stateTransitionsTotal   *prometheus.CounterVec
	candidateRegions        prometheus.Gauge
	uncommittedBytesTotal   prometheus.Counter
	uncommittedRegionsTotal prometheus.Counter
	expandedBytesTotal      prometheus.Counter
}

var _ HeapObserver = (*HeapMetrics)(nil)

// NewHeapMetrics creates the collectors and registers them with reg.
func NewHeapMetrics(reg prometheus.Registerer, hm *HeapManager) *HeapMetrics {
	m := &HeapMetrics{
		evaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_heap_evaluations_total",
			Help: "Number of time-based heap evaluations performed.",
		}),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_heap_sizing_decisions_total",
			Help: "Sizing decisions by action.",
		}, []string{"action"}),
		stateTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_heap_region_state_transitions_total",
			Help: "Region activity state transitions by target state.",
		}, []string{"to"}),
		candidateRegions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quill_heap_uncommit_candidate_regions",
			Help: "Uncommit candidates observed by the latest evaluation.",
		}),
		uncommittedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_heap_uncommitted_bytes_total",
			Help: "Bytes returned to the operating system by shrinks.",
		}),
		uncommittedRegionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_heap_uncommitted_regions_total",
			Help: "Regions uncommitted by shrinks.",
		}),
		expandedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quill_heap_expanded_bytes_total",
			Help: "Bytes committed by heap expansions.",
		}),
	}

	reg.MustRegister(
		m.evaluationsTotal,
		m.decisionsTotal,
		m.stateTransitionsTotal,
		m.candidateRegions,
		m.uncommittedBytesTotal,
		m.uncommittedRegionsTotal,
		m.expandedBytesTotal,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "quill_heap_committed_bytes",
			Help: "Currently committed heap size.",
		}, func() float64 { return float64(hm.CommittedBytes()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "quill_heap_used_bytes",
			Help: "Currently allocated bytes across all regions.",
		}, func() float64 { return float64(hm.UsedBytes()) }),
	)
	return m
}

func (m *HeapMetrics) OnEvaluation(d SizingDecision, committed, used uint64) {
	m.evaluationsTotal.Inc()
	m.decisionsTotal.WithLabelValues(d.Action.String()).Inc()
	m.candidateRegions.Set(float64(d.Candidates))
}

func (m *HeapMetrics) OnRegionStateChange(id RegionID, from, to RegionState, idle time.Duration) {
	m.stateTransitionsTotal.WithLabelValues(to.String()).Inc()
}

func (m *HeapMetrics) OnUncommitCandidates(count int) {}

func (m *HeapMetrics) OnMemoryReleased(bytes uint64, regions int) {
	m.uncommittedBytesTotal.Add(float64(bytes))
	m.uncommittedRegionsTotal.Add(float64(regions))
}

func (m *HeapMetrics) OnHeapExpanded(bytes uint64) {
	m.expandedBytesTotal.Add(float64(bytes))
}

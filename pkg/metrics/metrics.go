// Package metrics exposes proctop's own health as Prometheus metrics.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srodi/proctop-bpf/pkg/types"
)

const namespace = "proctop"

// Recorder tracks collection cycles. It satisfies loop.Observer.
type Recorder struct {
	registry *prometheus.Registry

	cycles   prometheus.Counter
	failures prometheus.Counter
	duration prometheus.Histogram

	mu        sync.Mutex
	processes int
	threads   int
	degraded  bool
	lastSeq   uint64
}

// NewRecorder builds a Recorder on its own registry. dropped, if non-nil,
// reports how many snapshots the queue has discarded.
func NewRecorder(dropped func() uint64) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycles_total",
			Help:      "Collection cycles attempted.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "failures_total",
			Help:      "Collection cycles that produced no snapshot.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one collection cycle.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
	}

	collectors := []prometheus.Collector{
		r.cycles,
		r.failures,
		r.duration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes",
			Help:      "Processes in the latest snapshot.",
		}, func() float64 {
			r.mu.Lock()
			defer r.mu.Unlock()
			return float64(r.processes)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "user_threads",
			Help:      "User threads counted in the latest snapshot.",
		}, func() float64 {
			r.mu.Lock()
			defer r.mu.Unlock()
			return float64(r.threads)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 while the kernel side is unavailable.",
		}, func() float64 {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.degraded {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_seq",
			Help:      "Sequence number of the latest snapshot.",
		}, func() float64 {
			r.mu.Lock()
			defer r.mu.Unlock()
			return float64(r.lastSeq)
		}),
	}
	if dropped != nil {
		collectors = append(collectors, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Snapshots discarded because the consumer fell behind.",
		}, func() float64 {
			return float64(dropped())
		}))
	}
	for _, c := range collectors {
		r.registry.MustRegister(c)
	}
	return r
}

// Registry is the registry to serve.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveCycle records one finished collection cycle.
func (r *Recorder) ObserveCycle(took time.Duration, snap types.Snapshot, err error) {
	r.cycles.Inc()
	r.duration.Observe(took.Seconds())
	if err != nil {
		r.failures.Inc()
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes = len(snap.Processes)
	r.threads = snap.System.UserThreads
	r.degraded = snap.Degraded != ""
	r.lastSeq = snap.Seq
}

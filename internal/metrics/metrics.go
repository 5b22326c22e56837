// Package metrics exposes Prometheus instrumentation for basin hopping walkers,
// transition-state refinements and the job server.
package metrics

import (
	"math"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cwbudde/landscape/internal/mc"
	"github.com/cwbudde/landscape/internal/ts"
)

const namespace = "landscape"

// Recorder holds the collectors of one registry
type Recorder struct {
	steps        *prometheus.CounterVec
	quenchEvals  prometheus.Histogram
	quenchFailed prometheus.Counter
	lowest       *prometheus.GaugeVec
	refinements  *prometheus.CounterVec
	refineIters  prometheus.Histogram
	activeJobs   prometheus.Gauge

	mu         sync.Mutex
	lowestSeen map[string]float64
}

// NewRecorder registers the collectors with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mc",
			Name:      "steps_total",
			Help:      "Monte Carlo steps by outcome",
		}, []string{"accepted"}),
		quenchEvals: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mc",
			Name:      "quench_evaluations",
			Help:      "Potential evaluations per quench",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 10),
		}),
		quenchFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mc",
			Name:      "quench_unconverged_total",
			Help:      "Quenches that exhausted their step budget",
		}),
		lowest: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mc",
			Name:      "lowest_energy",
			Help:      "Lowest energy seen per walker",
		}, []string{"walker"}),
		refinements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ts",
			Name:      "refinements_total",
			Help:      "Transition-state refinements by final state",
		}, []string{"state"}),
		refineIters: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ts",
			Name:      "iterations",
			Help:      "Refiner iterations per run",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		activeJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_jobs",
			Help:      "Jobs currently running",
		}),
		lowestSeen: make(map[string]float64),
	}
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// Default returns the recorder registered with the default Prometheus registry
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewRecorder(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// Observer returns an mc.Observer counting the steps of e. The quench diagnostics
// are read from e.LastTrial, so register it with e.AddObserver.
func (r *Recorder) Observer(walker int, e *mc.Engine) mc.Observer {
	label := strconv.Itoa(walker)
	return func(energy float64, _ []float64, accepted bool) {
		r.steps.WithLabelValues(strconv.FormatBool(accepted)).Inc()

		trial := e.LastTrial()
		if trial.NFev > 0 {
			r.quenchEvals.Observe(float64(trial.NFev))
			if !trial.Success {
				r.quenchFailed.Inc()
			}
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		low, ok := r.lowestSeen[label]
		if !ok {
			low = math.Inf(1)
		}
		if energy < low {
			r.lowestSeen[label] = energy
			r.lowest.WithLabelValues(label).Set(energy)
		}
	}
}

// Refinement records the outcome of a transition-state refinement
func (r *Recorder) Refinement(res ts.Result) {
	r.refinements.WithLabelValues(res.State.String()).Inc()
	r.refineIters.Observe(float64(res.NIter))
}

// JobStarted increments the active job gauge
func (r *Recorder) JobStarted() { r.activeJobs.Inc() }

// JobFinished decrements the active job gauge
func (r *Recorder) JobFinished() { r.activeJobs.Dec() }

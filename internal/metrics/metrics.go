// Package metrics exposes Prometheus counters for the maintenance engine.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reading outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeFlagged  = "flagged"
)

// Recorder holds the engine's collectors.
type Recorder struct {
	checkRuns     prometheus.Counter
	checkDuration prometheus.Histogram
	checkFailures prometheus.Counter
	assetsByState *prometheus.GaugeVec
	intents       *prometheus.CounterVec
	readings      *prometheus.CounterVec
	flags         *prometheus.CounterVec
	amendments    *prometheus.CounterVec
}

// New registers the collectors with registerer, or the default registerer
// when nil.
func New(registerer prometheus.Registerer) *Recorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		checkRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_service_check_runs_total",
			Help: "Completed service check runs.",
		}),
		checkDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fleet_service_check_duration_seconds",
			Help:    "Wall time of one service check run.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		checkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_service_check_asset_failures_total",
			Help: "Assets a service check could not finish.",
		}),
		assetsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleet_assets",
			Help: "Assets per due state as of the last service check.",
		}, []string{"state"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_intents_emitted_total",
			Help: "Job and notification intents published.",
		}, []string{"kind"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_readings_submitted_total",
			Help: "Hourmeter readings by outcome.",
		}, []string{"outcome"}),
		flags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_reading_flags_total",
			Help: "Flag reasons raised on submitted readings.",
		}, []string{"reason"}),
		amendments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_amendments_resolved_total",
			Help: "Amendments resolved by status.",
		}, []string{"status"}),
	}

	registerer.MustRegister(
		r.checkRuns,
		r.checkDuration,
		r.checkFailures,
		r.assetsByState,
		r.intents,
		r.readings,
		r.flags,
		r.amendments,
	)
	return r
}

// CheckRun is what a finished service check reports.
type CheckRun struct {
	Duration      time.Duration
	Checked       int
	Overdue       int
	DueSoon       int
	Stale         int
	Failed        int
	Jobs          int
	Notifications int
}

// ObserveCheckRun records one service check run.
func (r *Recorder) ObserveCheckRun(run CheckRun) {
	if r == nil {
		return
	}
	r.checkRuns.Inc()
	r.checkDuration.Observe(run.Duration.Seconds())
	r.checkFailures.Add(float64(run.Failed))
	r.assetsByState.WithLabelValues("overdue").Set(float64(run.Overdue))
	r.assetsByState.WithLabelValues("due_soon").Set(float64(run.DueSoon))
	r.assetsByState.WithLabelValues("ok").Set(float64(run.Checked - run.Overdue - run.DueSoon))
	r.assetsByState.WithLabelValues("stale").Set(float64(run.Stale))
	r.intents.WithLabelValues("create_job").Add(float64(run.Jobs))
	r.intents.WithLabelValues("notify").Add(float64(run.Notifications))
}

// ObserveReading records a submitted reading and its flag reasons.
func (r *Recorder) ObserveReading(accepted bool, reasons []string) {
	if r == nil {
		return
	}
	outcome := OutcomeAccepted
	if !accepted {
		outcome = OutcomeFlagged
	}
	r.readings.WithLabelValues(outcome).Inc()
	for _, reason := range reasons {
		r.flags.WithLabelValues(reason).Inc()
	}
}

// ObserveAmendment records an amendment leaving pending.
func (r *Recorder) ObserveAmendment(status string) {
	if r == nil {
		return
	}
	r.amendments.WithLabelValues(status).Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	groupOutcomes *prometheus.CounterVec
	groupMAPE     *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// New creates a recorder registered on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on reg. A nil reg leaves them unregistered.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		groupOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskcast_group_outcomes_total",
				Help: "Groups processed per run, by outcome",
			},
			[]string{"kind"},
		),
		groupMAPE: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deskcast_group_mape_pct",
				Help: "Last holdout MAPE per category in percent",
			},
			[]string{"category"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskcast_runs_total",
				Help: "Pipeline runs by final status",
			},
			[]string{"status"},
		),
		runDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deskcast_run_duration_seconds",
				Help:    "Wall time of pipeline runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deskcast_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deskcast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordGroupOutcome counts one group outcome.
func (r *Recorder) RecordGroupOutcome(kind models.OutcomeKind) {
	r.groupOutcomes.WithLabelValues(string(kind)).Inc()
}

// RecordGroupMAPE sets the last MAPE seen for a category.
func (r *Recorder) RecordGroupMAPE(category string, mape float64) {
	r.groupMAPE.WithLabelValues(category).Set(mape)
}

// RecordRun records a finished run.
func (r *Recorder) RecordRun(status string, seconds float64) {
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

var _ domrepo.Metrics = (*Recorder)(nil)

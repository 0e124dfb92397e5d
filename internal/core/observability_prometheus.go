package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetricsRecorder counts stage outcomes and records stage latency
// on a caller supplied registry.
type PrometheusMetricsRecorder struct {
	stages   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	gapfill  *prometheus.CounterVec
	flux     prometheus.Gauge
}

var _ RunRecorder = (*PrometheusMetricsRecorder)(nil)

// NewPrometheusMetricsRecorder registers the stage collectors on reg. It
// panics if they are already registered there.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) *PrometheusMetricsRecorder {
	factory := promauto.With(reg)
	return &PrometheusMetricsRecorder{
		stages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconstructor",
			Name:      "stage_total",
			Help:      "Pipeline stages executed, by stage and status.",
		}, []string{"stage", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reconstructor",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconstructor",
			Name:      "runs_total",
			Help:      "Reconstruction runs, by status.",
		}, []string{"status"}),
		gapfill: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reconstructor",
			Name:      "gapfill_reactions_total",
			Help:      "Reactions added by gap-filling, by phase stage.",
		}, []string{"stage"}),
		flux: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "reconstructor",
			Name:      "objective_flux",
			Help:      "Objective flux of the last successfully written model.",
		}),
	}
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.stages.WithLabelValues(operation, statusLabel(success)).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRun implements RunRecorder.
func (r *PrometheusMetricsRecorder) RecordRun(_ context.Context, rep Report, err error) {
	r.runs.WithLabelValues(statusLabel(err == nil)).Inc()
	r.gapfill.WithLabelValues(OpGapfillObjective).Add(float64(len(rep.GapfillObjective)))
	r.gapfill.WithLabelValues(OpGapfillMedium).Add(float64(len(rep.GapfillMedium)))
	if err == nil {
		r.flux.Set(rep.ObjectiveFlux)
	}
}

// Package telemetry records metrics and trace spans for segmentation
// operations. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	metricsNamespace = "voxelseg"
	tracerName       = "voxelseg.session"
)

// Outcome labels how an operation ended.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeCancelled Outcome = "cancelled"
)

// FailureReason labels why a commit attempt failed. The operation stays
// active after a failed commit.
type FailureReason string

const (
	ReasonConflict FailureReason = "conflict"
	ReasonFailed   FailureReason = "failed"
)

// Metrics holds the Prometheus collectors for one registry.
type Metrics struct {
	// OperationsTotal counts finished operations.
	// Labels: pipeline, outcome
	OperationsTotal *prometheus.CounterVec

	// CommitFailuresTotal counts commit attempts that left the operation
	// active. Labels: pipeline, reason
	CommitFailuresTotal *prometheus.CounterVec

	// BeginRejectedTotal counts begins refused because another operation
	// was active.
	BeginRejectedTotal prometheus.Counter

	// VoxelsWrittenTotal counts voxels committed to label volumes.
	// Labels: pipeline
	VoxelsWrittenTotal *prometheus.CounterVec

	// WritesSuppressedTotal counts preview writes blocked by locks.
	// Labels: pipeline
	WritesSuppressedTotal *prometheus.CounterVec

	// CommitDurationSeconds measures commit latency.
	CommitDurationSeconds prometheus.Histogram

	// ActiveOperations is 1 while an operation is in progress.
	ActiveOperations prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Segmentation operations by pipeline and outcome",
		}, []string{"pipeline", "outcome"}),
		CommitFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commit_failures_total",
			Help:      "Failed commit attempts by pipeline and reason",
		}, []string{"pipeline", "reason"}),
		BeginRejectedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "begin_rejected_total",
			Help:      "Operations refused because another was active",
		}),
		VoxelsWrittenTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "voxels_written_total",
			Help:      "Voxels committed to label volumes",
		}, []string{"pipeline"}),
		WritesSuppressedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "writes_suppressed_total",
			Help:      "Preview writes suppressed by segment locks",
		}, []string{"pipeline"}),
		CommitDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "commit_duration_seconds",
			Help:      "Commit duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		}),
		ActiveOperations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_operations",
			Help:      "Operations currently in progress",
		}),
	}
}

// OperationBegun marks an operation as active.
func (m *Metrics) OperationBegun() {
	if m == nil {
		return
	}
	m.ActiveOperations.Inc()
}

// BeginRejected counts a refused begin.
func (m *Metrics) BeginRejected() {
	if m == nil {
		return
	}
	m.BeginRejectedTotal.Inc()
}

// CommitFailed counts a commit attempt that did not end the operation.
func (m *Metrics) CommitFailed(pipeline string, reason FailureReason) {
	if m == nil {
		return
	}
	m.CommitFailuresTotal.WithLabelValues(pipeline, string(reason)).Inc()
}

// OperationEnded records the outcome and the voxel counts of a finished
// operation.
func (m *Metrics) OperationEnded(pipeline string, outcome Outcome, written, suppressed int) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(pipeline, string(outcome)).Inc()
	m.ActiveOperations.Dec()
	if written > 0 {
		m.VoxelsWrittenTotal.WithLabelValues(pipeline).Add(float64(written))
	}
	if suppressed > 0 {
		m.WritesSuppressedTotal.WithLabelValues(pipeline).Add(float64(suppressed))
	}
}

// ObserveCommit records how long a commit took.
func (m *Metrics) ObserveCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.CommitDurationSeconds.Observe(d.Seconds())
}

// StartSpan opens a span and returns a function that ends it, marking
// the span failed when err is non-nil.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

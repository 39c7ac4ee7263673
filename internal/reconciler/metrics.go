package reconciler

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"taskrun/pkg/logging"
)

// Reconcile results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultRequeue = "requeue"
	ResultError   = "error"
)

// ReconcilerMetrics groups the controller's prometheus collectors.
type ReconcilerMetrics struct {
	reconcileTotal     *prometheus.CounterVec
	reconcileDuration  prometheus.Histogram
	phaseTransitions   *prometheus.CounterVec
	childObjects       *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	statusSyncFailures prometheus.Counter
}

// NewReconcilerMetrics creates the collectors and registers them with reg.
func NewReconcilerMetrics(reg prometheus.Registerer) *ReconcilerMetrics {
	m := &ReconcilerMetrics{
		reconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrun_reconcile_total",
				Help: "Total number of TaskRun reconciles by result",
			},
			[]string{"result"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskrun_reconcile_duration_seconds",
				Help:    "Duration of a single TaskRun reconcile",
				Buckets: prometheus.DefBuckets,
			},
		),
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrun_phase_transitions_total",
				Help: "Total number of TaskRun phase transitions",
			},
			[]string{"from", "to"},
		),
		childObjects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrun_child_objects_created_total",
				Help: "Objects created on behalf of TaskRuns by kind",
			},
			[]string{"kind"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskrun_queue_depth",
				Help: "Number of TaskRuns waiting in the reconcile queue",
			},
		),
		statusSyncFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskrun_status_sync_failures_total",
				Help: "Status writes that failed after all conflict retries",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.reconcileTotal,
			m.reconcileDuration,
			m.phaseTransitions,
			m.childObjects,
			m.queueDepth,
			m.statusSyncFailures,
		)
	}
	return m
}

// ObserveReconcile records one finished reconcile.
func (m *ReconcilerMetrics) ObserveReconcile(result string, d time.Duration) {
	m.reconcileTotal.WithLabelValues(result).Inc()
	m.reconcileDuration.Observe(d.Seconds())
}

// RecordTransition counts a phase change. Calls with from == to are ignored.
func (m *ReconcilerMetrics) RecordTransition(from, to string) {
	if from == to {
		return
	}
	m.phaseTransitions.WithLabelValues(from, to).Inc()
}

// RecordChildCreated counts an object created for a TaskRun, e.g. "Job".
func (m *ReconcilerMetrics) RecordChildCreated(kind string) {
	m.childObjects.WithLabelValues(kind).Inc()
}

// SetQueueDepth publishes the current queue length.
func (m *ReconcilerMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// RecordStatusSyncFailure counts a status write that gave up.
func (m *ReconcilerMetrics) RecordStatusSyncFailure(name string) {
	m.statusSyncFailures.Inc()
	logging.Debug("ReconcilerMetrics", "Status sync failed for %s", name)
}

var (
	globalMetrics     *ReconcilerMetrics
	globalMetricsOnce sync.Once
)

// GetReconcilerMetrics returns the process-wide metrics, registered with
// controller-runtime's registry on first use.
func GetReconcilerMetrics() *ReconcilerMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewReconcilerMetrics(crmetrics.Registry)
	})
	return globalMetrics
}

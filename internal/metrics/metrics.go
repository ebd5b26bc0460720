// Package metrics holds the prometheus collectors of the engine and its HTTP
// layer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "invoice_engine"

type Metrics struct {
	// Engine
	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	statusChanges   *prometheus.CounterVec
	cascadeRows     *prometheus.CounterVec
	auditFailures   prometheus.Counter
	reconcileSweeps *prometheus.CounterVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector with reg. Pass prometheus.NewRegistry() in
// tests so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of billing operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of billing operations in seconds, transaction included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		statusChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "paid_status_changes_total",
				Help:      "Total number of paid/unpaid flips written by the reconciler",
			},
			[]string{"entity", "status"},
		),
		cascadeRows: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cascade_rows_total",
				Help:      "Total number of rows touched by delete/restore cascades",
			},
			[]string{"entity", "action"},
		),
		auditFailures: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_failures_total",
				Help:      "Total number of audit entries that could not be recorded",
			},
		),
		reconcileSweeps: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_sweeps_total",
				Help:      "Total number of full reconciliation sweeps by outcome",
			},
			[]string{"outcome"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveOperation records one billing operation. outcome is "ok" or an
// error class such as "conflict".
func (m *Metrics) ObserveOperation(op, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.operationTime.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) StatusChanged(entity string, paid bool) {
	if m == nil {
		return
	}
	status := "unpaid"
	if paid {
		status = "paid"
	}
	m.statusChanges.WithLabelValues(entity, status).Inc()
}

func (m *Metrics) CascadeRows(entity, action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.cascadeRows.WithLabelValues(entity, action).Add(float64(n))
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) Sweep(outcome string) {
	if m == nil {
		return
	}
	m.reconcileSweeps.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route, code).Observe(d.Seconds())
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Metrics aggregates the billing engine's prometheus instruments.
type Metrics struct {
	billingOps      *prometheus.CounterVec
	quotaUsage      *prometheus.CounterVec
	pendingPayments prometheus.Gauge
	stalePending    prometheus.Gauge
	anomalies       *prometheus.CounterVec

	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	emailsSent       *prometheus.CounterVec
	emailsSuppressed prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		billingOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobhub",
			Subsystem: "billing",
			Name:      "operations_total",
			Help:      "Billing operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		quotaUsage: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobhub",
			Subsystem: "billing",
			Name:      "quota_usage_units_total",
			Help:      "Metered usage units recorded per service.",
		}, []string{"service"}),
		pendingPayments: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobhub",
			Subsystem: "billing",
			Name:      "pending_payments",
			Help:      "PendingPayment rows currently awaiting reconciliation.",
		}),
		stalePending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "jobhub",
			Subsystem: "billing",
			Name:      "stale_pending_payments",
			Help:      "PendingPayment rows older than the leak threshold.",
		}),
		anomalies: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobhub",
			Subsystem: "billing",
			Name:      "anomalies_total",
			Help:      "Integrity anomalies captured by the reporter.",
		}, []string{"event"}),
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobhub",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobhub",
			Subsystem: "scheduler",
			Name:      "job_errors_total",
			Help:      "Scheduler job executions that returned an error.",
		}, []string{"job"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobhub",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduler job wall time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		emailsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobhub",
			Subsystem: "notification",
			Name:      "emails_sent_total",
			Help:      "Emails dispatched by kind.",
		}, []string{"kind"}),
		emailsSuppressed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "jobhub",
			Subsystem: "notification",
			Name:      "emails_suppressed_total",
			Help:      "Scheduled emails suppressed by their predicate at fire time.",
		}),
	}
}

func (m *Metrics) IncBillingOp(operation, outcome string) {
	if m == nil {
		return
	}
	m.billingOps.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) AddQuotaUsage(service string, amount float64) {
	if m == nil {
		return
	}
	m.quotaUsage.WithLabelValues(service).Add(amount)
}

func (m *Metrics) SetPendingPayments(count float64) {
	if m == nil {
		return
	}
	m.pendingPayments.Set(count)
}

func (m *Metrics) SetStalePendingPayments(count float64) {
	if m == nil {
		return
	}
	m.stalePending.Set(count)
}

func (m *Metrics) IncAnomaly(event string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(event).Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) IncEmailSent(kind string) {
	if m == nil {
		return
	}
	m.emailsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncEmailSuppressed() {
	if m == nil {
		return
	}
	m.emailsSuppressed.Inc()
}

var Module = fx.Module("observability.metrics",
	fx.Provide(New),
)

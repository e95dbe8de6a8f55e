// Package metrics exposes prometheus instruments for the scheduler fleet
// and the payment webhook ingress.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypeDB               = "db"
	ErrorTypeBusinessRule     = "business_rule"
)

// SchedulerMetrics captures job health signals: runs, latency, timeouts
// and errors by low-cardinality type.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
}

var (
	schedulerOnce sync.Once
	scheduler     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		scheduler = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return scheduler
}

// ResetSchedulerMetricsForTest resets the singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerOnce = sync.Once{}
	scheduler = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbroker_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vpnbroker_scheduler_job_duration_seconds",
		Help:    "Scheduler job latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbroker_scheduler_job_timeouts_total",
		Help: "Scheduler job runs that hit their deadline.",
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbroker_scheduler_job_errors_total",
		Help: "Scheduler job errors by type.",
	}, []string{"job", "error_type"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbroker_scheduler_batch_processed_total",
		Help: "Items processed per scheduler job.",
	}, []string{"job"})

	registerer.MustRegister(jobRuns, jobDuration, jobTimeouts, jobErrors, batchProcessed)

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		batchProcessed: batchProcessed,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || m.jobErrors == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, classifyError(err)).Inc()
}

// AddBatchProcessed adds processed item counts for a job.
func (m *SchedulerMetrics) AddBatchProcessed(job string, count int) {
	if m == nil || m.batchProcessed == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(count))
}

// WebhookMetrics counts payment webhook outcomes per provider.
type WebhookMetrics struct {
	received *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

var (
	webhookOnce sync.Once
	webhook     *WebhookMetrics
)

// Webhook returns the singleton webhook metrics registry.
func Webhook() *WebhookMetrics {
	webhookOnce.Do(func() {
		webhook = newWebhookMetrics(prometheus.DefaultRegisterer)
	})
	return webhook
}

// ResetWebhookMetricsForTest resets the singleton for tests.
func ResetWebhookMetricsForTest() {
	webhookOnce = sync.Once{}
	webhook = nil
}

func newWebhookMetrics(registerer prometheus.Registerer) *WebhookMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbroker_payment_webhooks_total",
		Help: "Payment webhooks received by provider and outcome.",
	}, []string{"provider", "outcome"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbroker_payment_webhook_rejections_total",
		Help: "Payment webhooks rejected before processing, by reason.",
	}, []string{"provider", "reason"})

	registerer.MustRegister(received, rejected)
	return &WebhookMetrics{received: received, rejected: rejected}
}

// IncReceived counts one processed webhook.
func (m *WebhookMetrics) IncReceived(provider, outcome string) {
	if m == nil || m.received == nil {
		return
	}
	m.received.WithLabelValues(provider, outcome).Inc()
}

// IncRejected counts one rejected webhook.
func (m *WebhookMetrics) IncRejected(provider, reason string) {
	if m == nil || m.rejected == nil {
		return
	}
	m.rejected.WithLabelValues(provider, reason).Inc()
}

func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeDeadlineExceeded
	}
	if isDBError(err) {
		return ErrorTypeDB
	}
	return ErrorTypeBusinessRule
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Composition metrics
	MailsPrepared = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mails_prepared_total",
		Help: "Total number of notification mails prepared, by notification kind",
	}, []string{"kind"})
	NotificationsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_notifications_skipped_total",
		Help: "Total number of notifications vetoed by the send guard",
	}, []string{"kind"})
	ComposeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_compose_failures_total",
		Help: "Total number of notifications that failed to compose",
	}, []string{"reason"})

	// Mail queue metrics
	MailQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mail_queued_total",
		Help: "Total number of mails enqueued for delivery",
	}, []string{"host"})
	MailQueueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mail_queue_dropped_total",
		Help: "Total number of mails dropped because the queue was full or stopping",
	}, []string{"host"})
	MailSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mail_sent_total",
		Help: "Total number of queued mails delivered",
	}, []string{"host"})
	MailRetryScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mail_retry_scheduled_total",
		Help: "Total number of mail delivery retries scheduled",
	}, []string{"host"})
	MailFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mail_failed_total",
		Help: "Total number of queued mails that failed after all retries",
	}, []string{"host"})

	// SMTP metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mail_send_success_total",
		Help: "Total number of successful SMTP sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_mail_send_failure_total",
		Help: "Total number of failed SMTP sends",
	}, []string{"host"})

	// Audit metrics
	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_audit_events_written_total",
		Help: "Total number of audit events written, by sink",
	}, []string{"sink"})
	AuditEventsFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_audit_events_failed_total",
		Help: "Total number of audit events that could not be written, by sink",
	}, []string{"sink"})

	// API metrics
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_api_requests_total",
		Help: "Total number of API requests, by route and status code",
	}, []string{"route", "code"})
	APIRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "owners_notify_api_rate_limited_total",
		Help: "Total number of API requests rejected by the rate limiter",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(MailsPrepared)
	prometheus.MustRegister(NotificationsSkipped)
	prometheus.MustRegister(ComposeFailures)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailQueueDropped)
	prometheus.MustRegister(MailSent)
	prometheus.MustRegister(MailRetryScheduled)
	prometheus.MustRegister(MailFailed)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditEventsFailed)
	prometheus.MustRegister(APIRequests)
	prometheus.MustRegister(APIRateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Package metrics defines Prometheus metrics for owners-notify, covering
// notification composition, the mail queue, SMTP delivery, audit sinks and
// the HTTP API.
package metrics

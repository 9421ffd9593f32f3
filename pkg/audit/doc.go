// Package audit records the notification audit trail, forwarding events to
// configurable sinks (log, Kafka, webhook) through a non-blocking manager.
package audit

// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"strings"
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// === Notification lifecycle events ===
	EventNotificationPrepared EventType = "notification.prepared"
	EventNotificationSkipped  EventType = "notification.skipped"
	EventNotificationFailed   EventType = "notification.failed"

	// === Mail delivery events ===
	EventMailQueued    EventType = "mail.queued"
	EventMailDelivered EventType = "mail.delivered"
	EventMailFailed    EventType = "mail.failed"

	// === System events ===
	EventSystemStartup  EventType = "system.startup"
	EventSystemShutdown EventType = "system.shutdown"
	EventSystemReload   EventType = "system.reload"
)

// Family returns the part of the type before the first dot, e.g. "mail".
func (t EventType) Family() string {
	family, _, _ := strings.Cut(string(t), ".")
	return family
}

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Actor is who triggered the event
	Actor Actor `json:"actor"`

	// Target is what was affected by the event
	Target Target `json:"target"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`

	// RequestContext contains correlation information
	RequestContext *RequestContext `json:"requestContext,omitempty"`
}

// Actor represents who triggered an audit event
type Actor struct {
	// User identifier of the acting user
	User string `json:"user"`

	// SourceIP is the IP address of the request origin
	SourceIP string `json:"sourceIP,omitempty"`

	// UserAgent from the request
	UserAgent string `json:"userAgent,omitempty"`
}

// Target represents what was affected by an audit event
type Target struct {
	// Kind is the affected object kind, e.g. "Package" or "Mail"
	Kind string `json:"kind"`

	// ID is the object identifier
	ID string `json:"id"`

	// Name is the display name, if known
	Name string `json:"name,omitempty"`

	// Package is the ownership package a non-package target belongs to
	Package string `json:"package,omitempty"`
}

// RequestContext contains correlation and context information
type RequestContext struct {
	// CorrelationID for tracing requests across components
	CorrelationID string `json:"correlationId,omitempty"`

	// ThreadID is the mail thread the event belongs to
	ThreadID string `json:"threadId,omitempty"`
}

// PackageID returns the package an event is about, or "" for events that
// concern no package.
func (e *Event) PackageID() string {
	if e.Target.Kind == "Package" {
		return e.Target.ID
	}
	return e.Target.Package
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventMailFailed:
		return SeverityCritical
	case EventNotificationFailed:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

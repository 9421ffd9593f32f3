// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/telekom/owners-notify/pkg/owners"
)

// HeaderThreadTopic is the secondary threading header carried by every notification.
const HeaderThreadTopic = "Thread-Topic"

var errNoTransport = errors.New("message has no transport")

// Transport commits a message: it persists it and hands it over for delivery.
type Transport interface {
	Commit(ctx context.Context, m *Message) error
}

// BatchTransport commits a set of messages all or nothing: when CommitAll
// fails, none of the messages were persisted or handed over.
type BatchTransport interface {
	Transport
	CommitAll(ctx context.Context, msgs []*Message) error
}

// DeliveryError is returned when a message could not be committed for delivery.
type DeliveryError struct {
	MessageID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering mail %s: %v", e.MessageID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Message is a ready-to-deliver notification mail.
type Message struct {
	ID          string
	Subject     string
	VarySubject string
	// From is the identifier of the user the mail is sent on behalf of.
	From string
	// ThreadID groups related mails; IsFirstMessage marks the mail that opens the thread.
	ThreadID       string
	IsFirstMessage bool
	Headers        map[string]string
	// RelatedID is the identifier of the object the mail is about.
	RelatedID string
	IsBulk    bool
	Body      string
	To        []owners.Handle
	ReplyTo   string
	CreatedAt time.Time

	transport Transport
}

// NewMessage returns an empty message bound to transport.
func NewMessage(transport Transport) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Headers:   map[string]string{},
		CreatedAt: time.Now().UTC(),
		transport: transport,
	}
}

// SetThreadID sets the thread and whether this mail starts it.
func (m *Message) SetThreadID(id string, isFirst bool) *Message {
	m.ThreadID = id
	m.IsFirstMessage = isFirst
	return m
}

func (m *Message) AddHeader(name, value string) *Message {
	if m.Headers == nil {
		m.Headers = map[string]string{}
	}
	m.Headers[name] = value
	return m
}

// Clone returns a copy with a fresh ID and its own headers and recipients.
func (m *Message) Clone() *Message {
	c := *m
	c.ID = uuid.NewString()
	c.Headers = maps.Clone(m.Headers)
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	c.To = append([]owners.Handle(nil), m.To...)
	return &c
}

// Recipients returns the delivery addresses of To, skipping handles without one.
func (m *Message) Recipients() []string {
	addrs := make([]string, 0, len(m.To))
	for _, h := range m.To {
		if h.Email != "" {
			addrs = append(addrs, h.Email)
		}
	}
	return addrs
}

// RecipientIDs returns the identifiers of To in order.
func (m *Message) RecipientIDs() []string {
	ids := make([]string, 0, len(m.To))
	for _, h := range m.To {
		ids = append(ids, h.ID)
	}
	return ids
}

// SaveAndSend commits the message through its transport.
func (m *Message) SaveAndSend(ctx context.Context) error {
	if m.transport == nil {
		return &DeliveryError{MessageID: m.ID, Err: errNoTransport}
	}
	return m.transport.Commit(ctx, m)
}

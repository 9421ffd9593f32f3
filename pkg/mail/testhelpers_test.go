package mail

import (
	"context"
	"errors"
	"sync"

	"github.com/telekom/owners-notify/pkg/owners"
)

// MockSender simulates a mail sender that fails until successAfter attempts were made.
type MockSender struct {
	mu           sync.Mutex
	successAfter int
	attempts     int
	sent         []*Message
	host         string
}

func (m *MockSender) Send(msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts > m.successAfter {
		m.sent = append(m.sent, msg)
		return nil
	}
	return errors.New("simulated send failure")
}

func (m *MockSender) GetHost() string { return m.host }

func (m *MockSender) GetPort() int { return 25 }

func (m *MockSender) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *MockSender) Sent() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Message(nil), m.sent...)
}

// memoryOutbox records outbox calls.
type memoryOutbox struct {
	mu      sync.Mutex
	saved   []string
	sent    []string
	failed  map[string]string
	saveErr error
}

func (o *memoryOutbox) SaveMail(_ context.Context, m *Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.saveErr != nil {
		return o.saveErr
	}
	o.saved = append(o.saved, m.ID)
	return nil
}

func (o *memoryOutbox) SaveMails(_ context.Context, msgs []*Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.saveErr != nil {
		return o.saveErr
	}
	for _, m := range msgs {
		o.saved = append(o.saved, m.ID)
	}
	return nil
}

func (o *memoryOutbox) Saved() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.saved...)
}

func (o *memoryOutbox) MarkSent(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, id)
	return nil
}

func (o *memoryOutbox) MarkFailed(_ context.Context, id, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failed == nil {
		o.failed = map[string]string{}
	}
	o.failed[id] = reason
	return nil
}

func (o *memoryOutbox) Sent() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent...)
}

func (o *memoryOutbox) Failed() map[string]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]string, len(o.failed))
	for k, v := range o.failed {
		out[k] = v
	}
	return out
}

func testMessage(subject string, emails ...string) *Message {
	m := NewMessage(nil)
	m.Subject = subject
	m.Body = "Body"
	for i, e := range emails {
		m.To = append(m.To, owners.Handle{ID: "U" + string(rune('a'+i)), Name: e, Email: e})
	}
	return m
}

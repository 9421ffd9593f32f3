/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/metrics"
	"github.com/telekom/owners-notify/pkg/owners"
)

// Manager coordinates audit event creation and distribution without
// blocking the caller.
type Manager struct {
	sink       Sink
	batchSink  BatchSink
	asyncQueue chan *Event
	logger     *zap.Logger
	wg         sync.WaitGroup
	closed     atomic.Bool
	config     ManagerConfig

	queuedEvents    atomic.Int64
	droppedEvents   atomic.Int64
	processedEvents atomic.Int64
}

// BatchSink is an optional interface for sinks that support batch writes.
type BatchSink interface {
	Sink
	WriteBatch(ctx context.Context, events []*Event) error
}

// ManagerConfig configures the audit Manager.
type ManagerConfig struct {
	// QueueSize is the size of the async event queue. Default: 10000
	QueueSize int

	// WorkerCount is the number of async processing workers. Default: 2
	WorkerCount int

	// BatchSize is the number of events to batch before flushing.
	// Only used with BatchSink implementations. Default: 100
	BatchSize int

	// BatchTimeout is the maximum time to wait before flushing a partial batch.
	// Default: 100ms
	BatchTimeout time.Duration

	// WriteTimeout is the timeout for writing to sinks. Default: 5s
	WriteTimeout time.Duration
}

// DefaultManagerConfig returns the default manager configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		QueueSize:    10000,
		WorkerCount:  2,
		BatchSize:    100,
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
}

// NewManager creates a new audit Manager and starts its workers.
func NewManager(sink Sink, cfg ManagerConfig, logger *zap.Logger) *Manager {
	def := DefaultManagerConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	m := &Manager{
		sink:       sink,
		asyncQueue: make(chan *Event, cfg.QueueSize),
		logger:     logger.Named("audit-manager"),
		config:     cfg,
	}
	if batchSink, ok := sink.(BatchSink); ok {
		m.batchSink = batchSink
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		m.wg.Add(1)
		if m.batchSink != nil {
			go m.processBatchQueue(i)
		} else {
			go m.processQueue(i)
		}
	}

	m.logger.Info("audit manager started",
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("workers", cfg.WorkerCount),
		zap.Bool("batch_enabled", m.batchSink != nil))

	return m
}

func prepare(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}
}

// Emit queues an audit event. It never blocks; if the queue is full the
// event is dropped.
func (m *Manager) Emit(_ context.Context, event *Event) {
	if m == nil || m.closed.Load() {
		return
	}
	prepare(event)

	select {
	case m.asyncQueue <- event:
		m.queuedEvents.Add(1)
	default:
		m.droppedEvents.Add(1)
		metrics.AuditEventsFailed.WithLabelValues(m.sink.Name()).Inc()
		m.logger.Warn("audit queue full, dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
	}
}

// EmitSync writes an audit event directly to the sink.
func (m *Manager) EmitSync(ctx context.Context, event *Event) error {
	prepare(event)
	return m.write(ctx, event)
}

func (m *Manager) write(ctx context.Context, event *Event) error {
	if err := m.sink.Write(ctx, event); err != nil {
		metrics.AuditEventsFailed.WithLabelValues(m.sink.Name()).Inc()
		return err
	}
	m.processedEvents.Add(1)
	if m.batchSink == nil {
		metrics.AuditEventsWritten.WithLabelValues(m.sink.Name()).Inc()
	}
	return nil
}

func (m *Manager) processQueue(workerID int) {
	defer m.wg.Done()

	for event := range m.asyncQueue {
		ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
		if err := m.write(ctx, event); err != nil {
			m.logger.Error("failed to write audit event",
				zap.Int("worker", workerID),
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
		cancel()
	}
}

func (m *Manager) processBatchQueue(workerID int) {
	defer m.wg.Done()

	batch := make([]*Event, 0, m.config.BatchSize)
	ticker := time.NewTicker(m.config.BatchTimeout)
	defer ticker.Stop()

	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
		if err := m.batchSink.WriteBatch(ctx, batch); err != nil {
			m.logger.Error("failed to write audit batch",
				zap.Int("worker", workerID),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
		} else {
			m.processedEvents.Add(int64(len(batch)))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-m.asyncQueue:
			if !ok {
				flushBatch()
				return
			}
			batch = append(batch, event)
			if len(batch) >= m.config.BatchSize {
				flushBatch()
			}
		case <-ticker.C:
			flushBatch()
		}
	}
}

// Close drains the queue and closes the sink.
func (m *Manager) Close() error {
	if m == nil || m.closed.Swap(true) {
		return nil
	}

	close(m.asyncQueue)
	m.wg.Wait()

	m.logger.Info("audit manager stopped",
		zap.Int64("processed", m.processedEvents.Load()),
		zap.Int64("dropped", m.droppedEvents.Load()))

	return m.sink.Close()
}

// Stats returns current audit manager statistics.
func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		QueuedEvents:    m.queuedEvents.Load(),
		ProcessedEvents: m.processedEvents.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		QueueLength:     len(m.asyncQueue),
		QueueCapacity:   cap(m.asyncQueue),
	}
}

// ManagerStats contains audit manager statistics.
type ManagerStats struct {
	QueuedEvents    int64
	ProcessedEvents int64
	DroppedEvents   int64
	QueueLength     int
	QueueCapacity   int
}

// --- Helper methods for common events ---

func packageTarget(pkg owners.Package) Target {
	return Target{Kind: "Package", ID: pkg.ID, Name: pkg.Name}
}

// NotificationPrepared records the mails composed for a package notification.
func (m *Manager) NotificationPrepared(ctx context.Context, pkg owners.Package, kind string, mails []*mail.Message) {
	ids := make([]string, 0, len(mails))
	recipients := 0
	threadID := ""
	for _, msg := range mails {
		ids = append(ids, msg.ID)
		recipients += len(msg.To)
		threadID = msg.ThreadID
	}
	m.Emit(ctx, &Event{
		Type:   EventNotificationPrepared,
		Actor:  Actor{User: pkg.ActorID},
		Target: packageTarget(pkg),
		Details: map[string]interface{}{
			"kind":       kind,
			"mailIDs":    ids,
			"recipients": recipients,
		},
		RequestContext: &RequestContext{ThreadID: threadID},
	})
}

// NotificationSkipped records a notification vetoed before composition.
func (m *Manager) NotificationSkipped(ctx context.Context, pkg owners.Package, kind string) {
	m.Emit(ctx, &Event{
		Type:    EventNotificationSkipped,
		Actor:   Actor{User: pkg.ActorID},
		Target:  packageTarget(pkg),
		Details: map[string]interface{}{"kind": kind},
	})
}

// NotificationFailed records an aborted composition.
func (m *Manager) NotificationFailed(ctx context.Context, pkg owners.Package, kind string, err error) {
	m.Emit(ctx, &Event{
		Type:   EventNotificationFailed,
		Actor:  Actor{User: pkg.ActorID},
		Target: packageTarget(pkg),
		Details: map[string]interface{}{
			"kind":  kind,
			"error": err.Error(),
		},
	})
}

// MailResult records the final delivery outcome of a mail.
func (m *Manager) MailResult(ctx context.Context, msg *mail.Message, err error) {
	event := &Event{
		Type:  EventMailDelivered,
		Actor: Actor{User: msg.From},
		Target: Target{
			Kind:    "Mail",
			ID:      msg.ID,
			Name:    msg.Subject,
			Package: msg.RelatedID,
		},
		Details: map[string]interface{}{
			"relatedID":  msg.RelatedID,
			"recipients": msg.RecipientIDs(),
		},
		RequestContext: &RequestContext{ThreadID: msg.ThreadID},
	}
	if err != nil {
		event.Type = EventMailFailed
		event.Details["error"] = err.Error()
	}
	m.Emit(ctx, event)
}

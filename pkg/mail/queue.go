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

package mail

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/metrics"
)

var (
	ErrQueueFull     = errors.New("mail queue is full")
	ErrQueueStopping = errors.New("mail queue is shutting down")
)

// QueueItem is a message waiting for delivery together with its retry state.
type QueueItem struct {
	Message   *Message
	Attempt   int
	CreatedAt time.Time
	NextRetry time.Time
	Succeeded bool
}

// ResultFunc is called once per item when it was delivered (err == nil) or
// when all retries are exhausted.
type ResultFunc func(item *QueueItem, err error)

// Queue manages asynchronous mail sending with retries
type Queue struct {
	sender           Sender
	queue            chan *QueueItem
	log              *zap.SugaredLogger
	maxRetries       int
	initialBackoffMs int
	maxQueueSize     int
	onResult         ResultFunc
	// enqueueMu serializes producers so a batch can reserve capacity.
	enqueueMu sync.Mutex
	wg        sync.WaitGroup
	ctx              context.Context
	cancel           context.CancelFunc
}

// NewQueue creates a new mail queue for asynchronous sending
func NewQueue(sender Sender, log *zap.SugaredLogger, maxRetries, initialBackoffMs, maxQueueSize int) *Queue {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if initialBackoffMs <= 0 {
		initialBackoffMs = 10000
	}
	if maxQueueSize <= 0 {
		maxQueueSize = 1000
	}

	log.Infow("Initializing mail queue",
		"maxRetries", maxRetries,
		"initialBackoffMs", initialBackoffMs,
		"maxQueueSize", maxQueueSize)

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		sender:           sender,
		queue:            make(chan *QueueItem, maxQueueSize),
		log:              log,
		maxRetries:       maxRetries,
		initialBackoffMs: initialBackoffMs,
		maxQueueSize:     maxQueueSize,
		ctx:              ctx,
		cancel:           cancel,
	}
}

// OnResult registers the delivery result callback. Must be called before Start.
func (q *Queue) OnResult(fn ResultFunc) *Queue {
	q.onResult = fn
	return q
}

// Start begins the background worker for processing emails
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
	q.log.Info("Mail queue worker started")
}

// Enqueue adds a message to the queue for sending
func (q *Queue) Enqueue(m *Message) error {
	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()
	if len(m.Recipients()) == 0 {
		q.log.Errorw("Cannot enqueue mail: no deliverable recipients",
			"id", m.ID,
			"subject", m.Subject,
			"recipients", m.RecipientIDs())
		metrics.MailQueueDropped.WithLabelValues(q.sender.GetHost()).Inc()
		return fmt.Errorf("cannot enqueue mail %s with no recipients", m.ID)
	}

	select {
	case <-q.ctx.Done():
		q.log.Errorw("Cannot enqueue, queue is shutting down", "id", m.ID)
		metrics.MailQueueDropped.WithLabelValues(q.sender.GetHost()).Inc()
		return ErrQueueStopping
	default:
	}

	now := time.Now()
	item := &QueueItem{
		Message:   m,
		CreatedAt: now,
		NextRetry: now,
	}

	select {
	case q.queue <- item:
		metrics.MailQueued.WithLabelValues(q.sender.GetHost()).Inc()
		q.log.Debugw("Mail queued for sending",
			"id", m.ID,
			"receivers", len(m.To),
			"subject", m.Subject)
		return nil
	case <-q.ctx.Done():
		q.log.Errorw("Cannot enqueue, queue is shutting down", "id", m.ID)
		metrics.MailQueueDropped.WithLabelValues(q.sender.GetHost()).Inc()
		return ErrQueueStopping
	default:
		metrics.MailQueueDropped.WithLabelValues(q.sender.GetHost()).Inc()
		q.log.Errorw("Mail queue is full, dropping message",
			"id", m.ID,
			"receivers", len(m.To),
			"queueSize", q.maxQueueSize)
		return fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.maxQueueSize)
	}
}

// EnqueueAll adds msgs only if every one of them fits. persist, when set, runs
// after the capacity check and before the first message is queued; its error
// aborts the batch.
func (q *Queue) EnqueueAll(msgs []*Message, persist func() error) error {
	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()

	for _, m := range msgs {
		if len(m.Recipients()) == 0 {
			metrics.MailQueueDropped.WithLabelValues(q.sender.GetHost()).Inc()
			return fmt.Errorf("cannot enqueue mail %s with no recipients", m.ID)
		}
	}
	if q.ctx.Err() != nil {
		return ErrQueueStopping
	}
	// Only producers add items and they hold enqueueMu, so the free
	// capacity can only grow until we are done.
	if free := cap(q.queue) - len(q.queue); free < len(msgs) {
		metrics.MailQueueDropped.WithLabelValues(q.sender.GetHost()).Add(float64(len(msgs)))
		q.log.Errorw("Mail queue cannot take batch, dropping it",
			"batch", len(msgs),
			"free", free,
			"queueSize", q.maxQueueSize)
		return fmt.Errorf("%w (capacity: %d, free: %d, batch: %d)", ErrQueueFull, q.maxQueueSize, free, len(msgs))
	}
	if persist != nil {
		if err := persist(); err != nil {
			return err
		}
	}

	now := time.Now()
	for _, m := range msgs {
		q.queue <- &QueueItem{Message: m, CreatedAt: now, NextRetry: now}
		metrics.MailQueued.WithLabelValues(q.sender.GetHost()).Inc()
	}
	q.log.Debugw("Mail batch queued", "count", len(msgs))
	return nil
}

// worker processes items from the queue
func (q *Queue) worker() {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("panic in mail queue worker recovered", "panic", r)
			metrics.MailFailed.WithLabelValues(q.sender.GetHost()).Inc()
			q.wg.Add(1)
			go q.worker()
		}
	}()

	pendingItems := make([]*QueueItem, 0)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			q.log.Info("Mail queue worker shutting down")
			q.drain(pendingItems)
			return

		case item := <-q.queue:
			if item != nil {
				q.processItem(item)
				if !item.Succeeded && item.Attempt < q.maxRetries {
					pendingItems = append(pendingItems, item)
				}
			}

		case <-ticker.C:
			now := time.Now()
			remaining := make([]*QueueItem, 0, len(pendingItems))
			for _, item := range pendingItems {
				if !item.Succeeded && now.After(item.NextRetry) {
					q.processItem(item)
				}
				if !item.Succeeded && item.Attempt < q.maxRetries {
					remaining = append(remaining, item)
				}
			}
			pendingItems = remaining
		}
	}
}

// processItem attempts to send a message and schedules a retry if needed
func (q *Queue) processItem(item *QueueItem) {
	item.Attempt++
	m := item.Message

	q.log.Infow("Processing queued mail",
		"id", m.ID,
		"attempt", item.Attempt,
		"maxRetries", q.maxRetries,
		"receivers", len(m.To))

	err := q.sender.Send(m)
	if err == nil {
		q.log.Infow("Queued mail sent successfully",
			"id", m.ID,
			"attempt", item.Attempt,
			"subject", m.Subject)
		metrics.MailSent.WithLabelValues(q.sender.GetHost()).Inc()
		item.Succeeded = true
		q.report(item, nil)
		return
	}

	if item.Attempt < q.maxRetries {
		backoffMs := q.calculateBackoff(item.Attempt)
		item.NextRetry = time.Now().Add(time.Duration(backoffMs) * time.Millisecond)

		q.log.Warnw("Mail send failed, scheduling retry",
			"id", m.ID,
			"attempt", item.Attempt,
			"error", err,
			"retryIn", fmt.Sprintf("%dms", backoffMs),
			"nextRetry", item.NextRetry.Format(time.RFC3339))
		metrics.MailRetryScheduled.WithLabelValues(q.sender.GetHost()).Inc()
		return
	}

	q.log.Errorw("Mail send failed after all retries",
		"id", m.ID,
		"attempts", item.Attempt,
		"error", err,
		"receivers", m.RecipientIDs(),
		"subject", m.Subject)
	metrics.MailFailed.WithLabelValues(q.sender.GetHost()).Inc()
	q.report(item, err)
}

func (q *Queue) report(item *QueueItem, err error) {
	if q.onResult != nil {
		q.onResult(item, err)
	}
}

// drain gives buffered and pending items one final attempt on shutdown
func (q *Queue) drain(pending []*QueueItem) {
	for {
		select {
		case item := <-q.queue:
			if item != nil {
				pending = append(pending, item)
			}
			continue
		default:
		}
		break
	}

	q.log.Infow("Processing pending items on shutdown", "count", len(pending))
	for _, item := range pending {
		if !item.Succeeded && item.Attempt < q.maxRetries {
			q.processItem(item)
		}
	}
}

// calculateBackoff doubles initialBackoffMs per attempt, capped at 30 minutes
func (q *Queue) calculateBackoff(attempt int) int {
	backoffMs := int(float64(q.initialBackoffMs) * math.Pow(2, float64(attempt-1)))
	if backoffMs > 1800000 {
		backoffMs = 1800000
	}
	return backoffMs
}

// Stop gracefully shuts down the queue and waits for the worker to finish
func (q *Queue) Stop(ctx context.Context) error {
	q.log.Info("Stopping mail queue")
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("Mail queue stopped gracefully")
		return nil
	case <-ctx.Done():
		q.log.Warn("Mail queue shutdown timeout, some items may not have been processed")
		return ctx.Err()
	}
}

// Length returns the current number of items in the queue
func (q *Queue) Length() int {
	return len(q.queue)
}

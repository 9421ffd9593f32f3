// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/config"
)

const (
	// queueStopTimeout is the maximum time to wait for the queue to stop during reload
	queueStopTimeout = 30 * time.Second
	// outboxUpdateTimeout bounds outbox status updates made from the queue worker
	outboxUpdateTimeout = 5 * time.Second
)

// Outbox persists messages and their delivery state.
type Outbox interface {
	SaveMail(ctx context.Context, m *Message) error
	// SaveMails stores all messages or none of them.
	SaveMails(ctx context.Context, msgs []*Message) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

var _ BatchTransport = (*Service)(nil)

// DeliveryObserver is told about the final outcome of every queued message.
type DeliveryObserver func(ctx context.Context, m *Message, err error)

// SenderFactory builds the sender used by a (re)loaded queue.
type SenderFactory func(cfg config.Mail, log *zap.SugaredLogger) Sender

// Service is the Transport used by composed notifications. It saves every
// message to the outbox and enqueues it for asynchronous delivery. The mail
// configuration can be reloaded at runtime.
type Service struct {
	outbox    Outbox
	newSender SenderFactory
	observers []DeliveryObserver
	logger    *zap.SugaredLogger

	mu    sync.RWMutex
	queue *Queue
}

// NewService creates a new mail Service. outbox may be nil.
func NewService(outbox Outbox, logger *zap.SugaredLogger) *Service {
	return &Service{
		outbox:    outbox,
		newSender: NewSender,
		logger:    logger.Named("mail-service"),
	}
}

// WithSenderFactory replaces the SMTP sender factory.
func (s *Service) WithSenderFactory(f SenderFactory) *Service {
	s.newSender = f
	return s
}

// OnDelivery registers an observer. Must be called before Start.
func (s *Service) OnDelivery(fn DeliveryObserver) *Service {
	s.observers = append(s.observers, fn)
	return s
}

// Start initializes the mail service from cfg.
func (s *Service) Start(ctx context.Context, cfg config.Mail) error {
	return s.Reload(ctx, cfg)
}

// Reload stops the current queue and starts a new one for cfg. A disabled
// configuration leaves the service without a queue.
func (s *Service) Reload(ctx context.Context, cfg config.Mail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue != nil {
		s.logger.Info("Stopping existing mail queue for reload")
		stopCtx, cancel := context.WithTimeout(ctx, queueStopTimeout)
		defer cancel()
		if err := s.queue.Stop(stopCtx); err != nil {
			s.logger.Warnw("Error stopping mail queue during reload", "error", err)
		}
		s.queue = nil
	}

	if cfg.Disabled {
		s.logger.Warn("Mail delivery disabled by configuration")
		return nil
	}
	if cfg.Host == "" {
		return &config.ConfigurationError{Field: "mail.host", Reason: "must be set unless mail is disabled"}
	}

	mailSender := s.newSender(cfg, s.logger)
	s.queue = NewQueue(mailSender, s.logger.Named("queue"), cfg.RetryCount, cfg.RetryBackoffMs, cfg.QueueSize).
		OnResult(s.recordResult)
	s.queue.Start()

	s.logger.Infow("Mail queue initialized and started",
		"host", cfg.Host,
		"port", cfg.Port,
		"retryCount", cfg.RetryCount,
		"retryBackoffMs", cfg.RetryBackoffMs,
		"queueSize", cfg.QueueSize)

	return nil
}

// Commit saves m to the outbox and enqueues it. When delivery is disabled
// the message is only saved.
func (s *Service) Commit(ctx context.Context, m *Message) error {
	if s.outbox != nil {
		if err := s.outbox.SaveMail(ctx, m); err != nil {
			return &DeliveryError{MessageID: m.ID, Err: fmt.Errorf("saving to outbox: %w", err)}
		}
	}

	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()

	if queue == nil {
		s.logger.Warnw("Mail queue not initialized, mail kept in outbox only",
			"id", m.ID,
			"recipients", len(m.To))
		return nil
	}

	if err := queue.Enqueue(m); err != nil {
		return &DeliveryError{MessageID: m.ID, Err: err}
	}
	return nil
}

// CommitAll saves and enqueues msgs as one unit. The queue capacity is
// checked before anything is written to the outbox.
func (s *Service) CommitAll(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	persist := func() error {
		if s.outbox == nil {
			return nil
		}
		if err := s.outbox.SaveMails(ctx, msgs); err != nil {
			return fmt.Errorf("saving to outbox: %w", err)
		}
		return nil
	}

	s.mu.RLock()
	queue := s.queue
	s.mu.RUnlock()

	if queue == nil {
		if err := persist(); err != nil {
			return &DeliveryError{MessageID: msgs[0].ID, Err: err}
		}
		s.logger.Warnw("Mail queue not initialized, mails kept in outbox only", "count", len(msgs))
		return nil
	}
	if err := queue.EnqueueAll(msgs, persist); err != nil {
		return &DeliveryError{MessageID: msgs[0].ID, Err: err}
	}
	return nil
}

func (s *Service) recordResult(item *QueueItem, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), outboxUpdateTimeout)
	defer cancel()

	for _, observe := range s.observers {
		observe(ctx, item.Message, err)
	}
	if s.outbox == nil {
		return
	}

	id := item.Message.ID
	var updateErr error
	if err == nil {
		updateErr = s.outbox.MarkSent(ctx, id)
	} else {
		updateErr = s.outbox.MarkFailed(ctx, id, err.Error())
	}
	if updateErr != nil {
		s.logger.Errorw("Failed to update outbox status", "id", id, "error", updateErr)
	}
}

// IsEnabled returns whether the mail service has an active queue.
func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue != nil
}

// Stop gracefully shuts down the mail service.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue != nil {
		s.logger.Info("Stopping mail service")
		err := s.queue.Stop(ctx)
		s.queue = nil
		return err
	}
	return nil
}

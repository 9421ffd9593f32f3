// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/system"
)

func newTestService(outbox Outbox, sender *MockSender) *Service {
	return NewService(outbox, system.NewTestLogger()).
		WithSenderFactory(func(config.Mail, *zap.SugaredLogger) Sender { return sender })
}

func TestNewService(t *testing.T) {
	svc := NewService(nil, system.NewTestLogger())
	assert.NotNil(t, svc)
	assert.False(t, svc.IsEnabled())
}

func TestService_StartDisabled(t *testing.T) {
	svc := newTestService(nil, &MockSender{})
	require.NoError(t, svc.Start(context.Background(), config.Mail{Disabled: true}))
	assert.False(t, svc.IsEnabled())
}

func TestService_StartWithoutHost(t *testing.T) {
	svc := newTestService(nil, &MockSender{})
	err := svc.Start(context.Background(), config.Mail{})
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "mail.host", cfgErr.Field)
	assert.False(t, svc.IsEnabled())
}

func TestService_CommitDelivers(t *testing.T) {
	outbox := &memoryOutbox{}
	sender := &MockSender{host: "smtp.example.com"}
	svc := newTestService(outbox, sender)
	require.NoError(t, svc.Start(context.Background(), config.Mail{Host: "smtp.example.com", Port: 25, RetryBackoffMs: 10}))
	defer func() { _ = svc.Stop(context.Background()) }()
	require.True(t, svc.IsEnabled())

	m := testMessage("Subject", "user@example.com")
	m.transport = svc
	require.NoError(t, m.SaveAndSend(context.Background()))

	assert.Equal(t, []string{m.ID}, outbox.saved)
	assert.Eventually(t, func() bool { return len(outbox.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, m.ID, outbox.Sent()[0])
}

func TestService_CommitRecordsFailure(t *testing.T) {
	outbox := &memoryOutbox{}
	svc := newTestService(outbox, &MockSender{successAfter: 1000, host: "smtp.example.com"})
	require.NoError(t, svc.Start(context.Background(), config.Mail{Host: "smtp.example.com", RetryCount: 1, RetryBackoffMs: 1}))
	defer func() { _ = svc.Stop(context.Background()) }()

	m := testMessage("Subject", "user@example.com")
	require.NoError(t, svc.Commit(context.Background(), m))

	assert.Eventually(t, func() bool { return len(outbox.Failed()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, outbox.Failed()[m.ID], "simulated send failure")
}

func TestService_CommitWhenDisabledKeepsOutbox(t *testing.T) {
	outbox := &memoryOutbox{}
	svc := newTestService(outbox, &MockSender{})
	require.NoError(t, svc.Start(context.Background(), config.Mail{Disabled: true}))

	m := testMessage("Subject", "user@example.com")
	require.NoError(t, svc.Commit(context.Background(), m))
	assert.Equal(t, []string{m.ID}, outbox.saved)
}

func TestService_CommitOutboxError(t *testing.T) {
	boom := errors.New("disk full")
	svc := newTestService(&memoryOutbox{saveErr: boom}, &MockSender{})

	m := testMessage("Subject", "user@example.com")
	err := svc.Commit(context.Background(), m)
	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.Equal(t, m.ID, delivery.MessageID)
	assert.True(t, errors.Is(err, boom))
}

func TestService_CommitQueueError(t *testing.T) {
	svc := newTestService(nil, &MockSender{host: "smtp.example.com"})
	require.NoError(t, svc.Start(context.Background(), config.Mail{Host: "smtp.example.com"}))
	defer func() { _ = svc.Stop(context.Background()) }()

	// no deliverable address
	err := svc.Commit(context.Background(), testMessage("Subject"))
	var delivery *DeliveryError
	assert.True(t, errors.As(err, &delivery))
}

func TestService_CommitAll(t *testing.T) {
	outbox := &memoryOutbox{}
	sender := &MockSender{host: "smtp.example.com"}
	svc := newTestService(outbox, sender)
	require.NoError(t, svc.Start(context.Background(), config.Mail{Host: "smtp.example.com", RetryBackoffMs: 10}))
	defer func() { _ = svc.Stop(context.Background()) }()

	batch := []*Message{testMessage("A", "a@example.com"), testMessage("B", "b@example.com")}
	require.NoError(t, svc.CommitAll(context.Background(), batch))

	assert.Equal(t, []string{batch[0].ID, batch[1].ID}, outbox.Saved())
	assert.Eventually(t, func() bool { return len(sender.Sent()) == 2 }, time.Second, 10*time.Millisecond)
}

func TestService_CommitAllQueueFullCommitsNothing(t *testing.T) {
	outbox := &memoryOutbox{}
	sender := &MockSender{host: "smtp.example.com"}
	svc := newTestService(outbox, sender)
	require.NoError(t, svc.Start(context.Background(), config.Mail{Host: "smtp.example.com", QueueSize: 1}))
	defer func() { _ = svc.Stop(context.Background()) }()

	batch := []*Message{testMessage("A", "a@example.com"), testMessage("B", "b@example.com")}
	err := svc.CommitAll(context.Background(), batch)
	var delivery *DeliveryError
	require.True(t, errors.As(err, &delivery))
	assert.True(t, errors.Is(err, ErrQueueFull))

	assert.Empty(t, outbox.Saved())
	assert.Never(t, func() bool { return sender.Attempts() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestService_CommitAllWhenDisabledKeepsOutbox(t *testing.T) {
	outbox := &memoryOutbox{}
	svc := newTestService(outbox, &MockSender{})
	require.NoError(t, svc.Start(context.Background(), config.Mail{Disabled: true}))

	batch := []*Message{testMessage("A", "a@example.com"), testMessage("B", "b@example.com")}
	require.NoError(t, svc.CommitAll(context.Background(), batch))
	assert.Len(t, outbox.Saved(), 2)
}

func TestService_Reload(t *testing.T) {
	svc := newTestService(nil, &MockSender{host: "smtp.example.com"})
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, config.Mail{Host: "smtp.example.com"}))
	assert.True(t, svc.IsEnabled())

	require.NoError(t, svc.Reload(ctx, config.Mail{Disabled: true}))
	assert.False(t, svc.IsEnabled())

	require.NoError(t, svc.Reload(ctx, config.Mail{Host: "smtp2.example.com"}))
	assert.True(t, svc.IsEnabled())

	require.NoError(t, svc.Stop(ctx))
	assert.False(t, svc.IsEnabled())
	assert.NoError(t, svc.Stop(ctx), "stopping twice is a no-op")
}

func TestService_OnDelivery(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []string
	)
	svc := newTestService(nil, &MockSender{host: "smtp.example.com"}).
		OnDelivery(func(_ context.Context, m *Message, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				observed = append(observed, m.ID)
			}
		})
	require.NoError(t, svc.Start(context.Background(), config.Mail{Host: "smtp.example.com"}))
	defer func() { _ = svc.Stop(context.Background()) }()

	m := testMessage("Subject", "user@example.com")
	require.NoError(t, svc.Commit(context.Background(), m))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 1 && observed[0] == m.ID
	}, time.Second, 10*time.Millisecond)
}

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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/owners-notify/pkg/system"
)

func TestQueue_Enqueue(t *testing.T) {
	sender := &MockSender{host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 3, 100, 10)
	queue.Start()
	defer func() {
		if err := queue.Stop(context.Background()); err != nil {
			t.Errorf("failed to stop queue: %v", err)
		}
	}()

	err := queue.Enqueue(testMessage("Test", "user@example.com"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "Test", sender.Sent()[0].Subject)
}

func TestQueue_EnqueueMultiple(t *testing.T) {
	sender := &MockSender{host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 3, 100, 100)
	queue.Start()
	defer func() {
		if err := queue.Stop(context.Background()); err != nil {
			t.Errorf("failed to stop queue: %v", err)
		}
	}()

	for range 5 {
		assert.NoError(t, queue.Enqueue(testMessage("Subject", "user@example.com")))
	}

	assert.Eventually(t, func() bool { return sender.Attempts() == 5 }, time.Second, 10*time.Millisecond)
}

func TestQueue_EnqueueFull(t *testing.T) {
	// worker not started so the buffer fills immediately
	sender := &MockSender{successAfter: 1000, host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 3, 100, 1)

	assert.NoError(t, queue.Enqueue(testMessage("Subject", "user@example.com")), "first enqueue should succeed")

	err := queue.Enqueue(testMessage("Subject", "user@example.com"))
	require.Error(t, err, "second enqueue should fail - queue is full")
	assert.True(t, errors.Is(err, ErrQueueFull))
	assert.Equal(t, 1, queue.Length())
}

func TestQueue_EnqueueAll(t *testing.T) {
	sender := &MockSender{host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 3, 100, 3)

	persisted := 0
	batch := []*Message{testMessage("A", "a@example.com"), testMessage("B", "b@example.com")}
	require.NoError(t, queue.EnqueueAll(batch, func() error { persisted++; return nil }))
	assert.Equal(t, 1, persisted)
	assert.Equal(t, 2, queue.Length())
}

func TestQueue_EnqueueAllRejectsWholeBatch(t *testing.T) {
	tests := []struct {
		name    string
		batch   []*Message
		persist error
		wantErr error
	}{
		{
			name:    "batch larger than free capacity",
			batch:   []*Message{testMessage("A", "a@example.com"), testMessage("B", "b@example.com")},
			wantErr: ErrQueueFull,
		},
		{
			name:  "one message without recipients",
			batch: []*Message{testMessage("A", "a@example.com"), testMessage("B")},
		},
		{
			name:    "persist fails",
			batch:   []*Message{testMessage("A", "a@example.com")},
			persist: errors.New("disk full"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// worker not started, one slot already taken
			queue := NewQueue(&MockSender{host: "test.example.com"}, system.NewTestLogger(), 3, 100, 2)
			require.NoError(t, queue.Enqueue(testMessage("Taken", "x@example.com")))

			persisted := false
			err := queue.EnqueueAll(tt.batch, func() error { persisted = true; return tt.persist })
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.persist != nil {
				assert.ErrorIs(t, err, tt.persist)
			} else {
				assert.False(t, persisted, "nothing is persisted for a rejected batch")
			}
			assert.Equal(t, 1, queue.Length())
		})
	}
}

func TestQueue_EnqueueNoReceivers(t *testing.T) {
	sender := &MockSender{host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 3, 100, 10)

	err := queue.Enqueue(testMessage("Subject"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recipients")
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	sender := &MockSender{host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 3, 100, 10)
	queue.Start()
	require.NoError(t, queue.Stop(context.Background()))

	err := queue.Enqueue(testMessage("Subject", "user@example.com"))
	assert.True(t, errors.Is(err, ErrQueueStopping))
}

func TestQueue_RetryWithBackoff(t *testing.T) {
	// fails twice, succeeds on the third attempt
	sender := &MockSender{successAfter: 2, host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 5, 20, 10)

	var mu sync.Mutex
	var results []error
	queue.OnResult(func(_ *QueueItem, err error) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, err)
	})
	queue.Start()
	defer func() {
		if err := queue.Stop(context.Background()); err != nil {
			t.Errorf("failed to stop queue: %v", err)
		}
	}()

	require.NoError(t, queue.Enqueue(testMessage("Subject", "user@example.com")))

	assert.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 3, sender.Attempts())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.NoError(t, results[0])
}

func TestQueue_RetriesExhausted(t *testing.T) {
	sender := &MockSender{successAfter: 1000, host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 2, 10, 10)

	failed := make(chan error, 1)
	queue.OnResult(func(_ *QueueItem, err error) { failed <- err })
	queue.Start()
	defer func() { _ = queue.Stop(context.Background()) }()

	require.NoError(t, queue.Enqueue(testMessage("Subject", "user@example.com")))

	select {
	case err := <-failed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected failure result after retries")
	}
	assert.Equal(t, 2, sender.Attempts())
}

func TestQueue_CalculateBackoff(t *testing.T) {
	queue := NewQueue(&MockSender{}, system.NewTestLogger(), 5, 10000, 10)

	assert.Equal(t, 10000, queue.calculateBackoff(1))
	assert.Equal(t, 20000, queue.calculateBackoff(2))
	assert.Equal(t, 40000, queue.calculateBackoff(3))
	assert.Equal(t, 1800000, queue.calculateBackoff(20), "backoff is capped at 30 minutes")
}

func TestQueue_StopDrainsBufferedItems(t *testing.T) {
	sender := &MockSender{host: "test.example.com"}
	queue := NewQueue(sender, system.NewTestLogger(), 3, 100, 10)

	// enqueue before the worker runs, then start and stop immediately
	for range 3 {
		require.NoError(t, queue.Enqueue(testMessage("Subject", "user@example.com")))
	}
	queue.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, queue.Stop(ctx))

	assert.Len(t, sender.Sent(), 3)
}

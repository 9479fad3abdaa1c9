package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

func TestWorkerProcessOnce(t *testing.T) {
	t.Parallel()

	t.Run("publishes pending and marks sent", func(t *testing.T) {
		t.Parallel()

		queue := newFakeQueue(
			domain.OutboxMessage{ID: "msg-1", EventType: "sale.created", CorrelationID: "corr-1", Payload: []byte(`{"sale_id":"sale-1"}`)},
			domain.OutboxMessage{ID: "msg-2", EventType: "payment.recorded", CorrelationID: "corr-1", Payload: []byte(`{"sale_id":"sale-1"}`)},
		)
		publisher := &scriptedPublisher{}

		worker := NewWorker(queue, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
		worker.ProcessOnce(context.Background())

		require.Equal(t, []string{"msg-1", "msg-2"}, queue.sentIDs)
		require.Empty(t, queue.failedIDs)
		require.Equal(t, 2, publisher.calls())
	})

	t.Run("recovers after transient publish errors", func(t *testing.T) {
		t.Parallel()

		queue := newFakeQueue(domain.OutboxMessage{ID: "msg-3", EventType: "stock.decremented", CorrelationID: "corr-3"})
		publisher := &scriptedPublisher{script: []error{
			errors.New("broker unavailable"),
			errors.New("broker unavailable"),
			nil,
		}}

		worker := NewWorker(queue, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
		worker.ProcessOnce(context.Background())

		require.Equal(t, 3, publisher.calls())
		require.Equal(t, []string{"msg-3"}, queue.sentIDs)
		require.Empty(t, queue.failedIDs)
	})

	t.Run("exhausted retries mark failed and go to DLQ", func(t *testing.T) {
		t.Parallel()

		queue := newFakeQueue(domain.OutboxMessage{ID: "msg-4", EventType: "stock.failed", CorrelationID: "corr-4"})
		publisher := &scriptedPublisher{stickyErr: errors.New("publish failed")}
		dlq := &scriptedPublisher{}

		worker := NewWorker(queue, publisher,
			WithDLQPublisher(dlq),
			WithRetryBaseDelay(0),
			WithMaxAttempts(3),
		)
		worker.ProcessOnce(context.Background())

		require.Equal(t, 3, publisher.calls())
		require.Empty(t, queue.sentIDs)
		require.Equal(t, []string{"msg-4"}, queue.failedIDs)
		require.Equal(t, 1, dlq.calls())
	})
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(newFakeQueue(), &scriptedPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

// fakeQueue хранит pending-сообщения в памяти и фиксирует отметки статуса.
type fakeQueue struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

func newFakeQueue(pending ...domain.OutboxMessage) *fakeQueue {
	return &fakeQueue{pending: pending}
}

func (q *fakeQueue) Enqueue(msg domain.OutboxMessage, _ *domain.Delivery) (domain.OutboxMessage, error) {
	q.pending = append(q.pending, msg)
	return msg, nil
}

func (q *fakeQueue) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(q.pending) {
		return append([]domain.OutboxMessage(nil), q.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), q.pending[:limit]...), nil
}

func (q *fakeQueue) Stats() (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(q.pending)}
	if len(q.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

func (q *fakeQueue) MarkSent(id string) error {
	q.sentIDs = append(q.sentIDs, id)
	return nil
}

func (q *fakeQueue) MarkFailed(id string) error {
	q.failedIDs = append(q.failedIDs, id)
	return nil
}

// scriptedPublisher отвечает ошибками из script по порядку, затем stickyErr.
type scriptedPublisher struct {
	mu        sync.Mutex
	script    []error
	stickyErr error
	callCount int
}

func (p *scriptedPublisher) Publish(_ domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.callCount++
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		return err
	}
	return p.stickyErr
}

func (p *scriptedPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

var _ domain.OutboxRepository = (*fakeQueue)(nil)
var _ domain.OutboxPublisher = (*scriptedPublisher)(nil)

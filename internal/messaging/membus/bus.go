// Package membus — in-memory реализация шины событий для разработки и тестов.
// Семантика повторяет Kafka-шину: at-least-once, обработчик по типу события,
// возврат ошибки означает повторную доставку.
package membus

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/events"
)

// Bus доставляет события подписчикам внутри процесса. Несколько сервисов
// могут делить один Bus: каждый Subscribe добавляет независимого консьюмера,
// как отдельная durable queue у брокера.
type Bus struct {
	mu         sync.Mutex
	handlers   map[string][]events.Handler
	queue      chan events.Envelope
	maxRetries int
	logger     *log.Entry
}

var _ events.Bus = (*Bus)(nil)

// New создает шину с буфером на queueSize событий.
func New(queueSize, maxRetries int) *Bus {
	return &Bus{
		handlers:   make(map[string][]events.Handler),
		queue:      make(chan events.Envelope, queueSize),
		maxRetries: maxRetries,
		logger:     log.WithField("component", "membus"),
	}
}

// Publish ставит конверт в очередь доставки.
func (b *Bus) Publish(ctx context.Context, env events.Envelope) error {
	select {
	case b.queue <- env:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", env.EventType, ctx.Err())
	}
}

// Subscribe привязывает обработчик к типу события. Вызывается до Run.
func (b *Bus) Subscribe(eventType string, handler events.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Run доставляет события до отмены ctx.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case env := <-b.queue:
			b.deliver(ctx, env)
		case <-ctx.Done():
			return nil
		}
	}
}

// Drain доставляет все накопленные события и возвращается. Используется
// в тестах для детерминированного прогона саги.
func (b *Bus) Drain(ctx context.Context) {
	for {
		select {
		case env := <-b.queue:
			b.deliver(ctx, env)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, env events.Envelope) {
	b.mu.Lock()
	handlers := b.handlers[env.EventType]
	b.mu.Unlock()

	for _, handler := range handlers {
		var err error
		for attempt := 0; attempt <= b.maxRetries; attempt++ {
			if err = handler(ctx, env); err == nil {
				break
			}
		}
		if err != nil {
			b.logger.WithError(err).WithFields(log.Fields{
				"event_type": env.EventType,
				"event_id":   env.EventID,
			}).Error("message processing failed after all retries")
		}
	}
}

// OutboxPublisher адаптирует Bus к публикации из transactional outbox.
type OutboxPublisher struct {
	bus *Bus
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)

// NewOutboxPublisher оборачивает шину для outbox worker.
func NewOutboxPublisher(bus *Bus) *OutboxPublisher {
	return &OutboxPublisher{bus: bus}
}

// Publish декодирует сохранённый конверт и публикует его в шину.
func (p *OutboxPublisher) Publish(msg domain.OutboxMessage) error {
	env, err := events.Decode(msg.Payload)
	if err != nil {
		return err
	}
	return p.bus.Publish(context.Background(), env)
}

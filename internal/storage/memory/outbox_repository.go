package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// outboxRepositoryInMemory — простое in-memory хранилище для transactional outbox.
type outboxRepositoryInMemory struct {
	mu        sync.RWMutex
	records   map[string]*outboxRecord
	order     []string
	processed domain.ProcessedEventRepository
}

// NewOutboxRepository создаёт in-memory реализацию outbox. processed может
// быть nil, если дедупликация доставок не нужна.
func NewOutboxRepository(processed domain.ProcessedEventRepository) domain.OutboxRepository {
	return &outboxRepositoryInMemory{
		records:   make(map[string]*outboxRecord),
		processed: processed,
	}
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его
// идентификатор. При delivery != nil отметка об обработке пишется в той же
// критической секции; повторная доставка не кладёт событие второй раз.
func (r *outboxRepositoryInMemory) Enqueue(msg domain.OutboxMessage, delivery *domain.Delivery) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if delivery != nil && r.processed != nil {
		if err := r.processed.MarkProcessed(delivery.Consumer, delivery.EventID, time.Now().UTC()); err != nil {
			return domain.OutboxMessage{}, err
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    "pending",
		createdAt: now,
		updatedAt: now,
	}
	r.order = append(r.order, msg.ID)
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending`,
// старые первыми.
func (r *outboxRepositoryInMemory) PullPending(limit int) ([]domain.OutboxMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.order {
		rec := r.records[id]
		if rec.status != "pending" {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// Stats возвращает размер backlog и возраст самого старого pending сообщения.
func (r *outboxRepositoryInMemory) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, id := range r.order {
		rec := r.records[id]
		if rec.status != "pending" {
			continue
		}
		if stats.PendingCount == 0 || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepositoryInMemory) MarkSent(id string) error {
	return r.markStatus(id, "sent")
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepositoryInMemory) MarkFailed(id string) error {
	return r.markStatus(id, "failed")
}

func (r *outboxRepositoryInMemory) markStatus(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

var _ domain.OutboxRepository = (*outboxRepositoryInMemory)(nil)

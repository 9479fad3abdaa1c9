package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// movementRepositoryInMemory — append-only журнал движений склада в памяти.
type movementRepositoryInMemory struct {
	mu        sync.RWMutex
	items     []domain.StockMovement
	byKey     map[string]int
	processed domain.ProcessedEventRepository
	outbox    domain.OutboxRepository
}

// NewStockMovementRepository возвращает in-memory журнал движений.
// processed и outbox могут быть nil, если дедупликация доставок и
// публикация событий не нужны.
func NewStockMovementRepository(processed domain.ProcessedEventRepository, outbox domain.OutboxRepository) domain.StockMovementRepository {
	return &movementRepositoryInMemory{
		byKey:     make(map[string]int),
		processed: processed,
		outbox:    outbox,
	}
}

// Append добавляет движение; повтор по ключу идемпотентности возвращает
// существующую запись без вставки дубликата.
func (r *movementRepositoryInMemory) Append(movement domain.StockMovement) (domain.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(movement)
}

// AppendBatch добавляет движения одной продажи атомарно, кладёт
// outbox-события и отмечает доставку в той же критической секции.
// Отметка пишется последней: если enqueue не удался, повторная доставка
// идемпотентно досоздаёт недостающее.
func (r *movementRepositoryInMemory) AppendBatch(movements []domain.StockMovement, delivery *domain.Delivery, outbox []domain.OutboxMessage) ([]domain.StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if delivery != nil && r.processed != nil {
		seen, err := r.processed.Seen(delivery.Consumer, delivery.EventID)
		if err != nil {
			return nil, err
		}
		if seen {
			return nil, domain.ErrEventAlreadyProcessed
		}
	}

	result := make([]domain.StockMovement, 0, len(movements))
	for _, movement := range movements {
		inserted, err := r.appendLocked(movement)
		if err != nil {
			return nil, err
		}
		result = append(result, inserted)
	}

	if r.outbox != nil {
		for _, msg := range outbox {
			if _, err := r.outbox.Enqueue(msg, nil); err != nil {
				return nil, err
			}
		}
	}

	if delivery != nil && r.processed != nil {
		if err := r.processed.MarkProcessed(delivery.Consumer, delivery.EventID, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *movementRepositoryInMemory) appendLocked(movement domain.StockMovement) (domain.StockMovement, error) {
	if movement.IdempotencyKey != "" {
		if idx, exists := r.byKey[movement.IdempotencyKey]; exists {
			return r.items[idx], nil
		}
	}

	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	r.items = append(r.items, movement)
	if movement.IdempotencyKey != "" {
		r.byKey[movement.IdempotencyKey] = len(r.items) - 1
	}
	return movement, nil
}

// List возвращает движения, новые первыми.
func (r *movementRepositoryInMemory) List(productID string, movementType domain.MovementType, skip, limit int) ([]domain.StockMovement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.StockMovement, 0, len(r.items))
	for _, movement := range r.items {
		if productID != "" && movement.ProductID != productID {
			continue
		}
		if movementType != "" && movement.Type != movementType {
			continue
		}
		result = append(result, movement)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, skip, limit), nil
}

// Level возвращает остаток товара: сумму журнала, а не счётчик.
func (r *movementRepositoryInMemory) Level(productID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total int64
	for _, movement := range r.items {
		if movement.ProductID == productID {
			total += movement.Qty
		}
	}
	return total, nil
}

var _ domain.StockMovementRepository = (*movementRepositoryInMemory)(nil)

package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// processedKey уникален в рамках (consumer, event_id): разные сервисы
// обрабатывают одно событие независимо.
type processedKey struct {
	consumer string
	eventID  string
}

// processedEventRepositoryInMemory — in-memory таблица обработанных событий.
type processedEventRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[processedKey]time.Time
}

// NewProcessedEventRepository возвращает in-memory хранилище отметок
// об обработанных доставках.
func NewProcessedEventRepository() domain.ProcessedEventRepository {
	return &processedEventRepositoryInMemory{
		items: make(map[processedKey]time.Time),
	}
}

// MarkProcessed записывает отметку; повтор возвращает ErrEventAlreadyProcessed.
func (r *processedEventRepositoryInMemory) MarkProcessed(consumer, eventID string, processedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := processedKey{consumer: consumer, eventID: eventID}
	if _, exists := r.items[key]; exists {
		return domain.ErrEventAlreadyProcessed
	}
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	r.items[key] = processedAt
	return nil
}

// Seen сообщает, была ли доставка уже обработана.
func (r *processedEventRepositoryInMemory) Seen(consumer, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.items[processedKey{consumer: consumer, eventID: eventID}]
	return exists, nil
}

// DeleteExpired удаляет отметки старше before, не более limit за вызов.
func (r *processedEventRepositoryInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, processedAt := range r.items {
		if processedAt.After(before) {
			continue
		}

		delete(r.items, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}

	return removed, nil
}

var _ domain.ProcessedEventRepository = (*processedEventRepositoryInMemory)(nil)

package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// saleRepositoryInMemory — простая in-memory реализация SaleRepository.
type saleRepositoryInMemory struct {
	mu        sync.RWMutex
	items     map[string]domain.Sale
	byKey     map[string]string
	processed domain.ProcessedEventRepository
	outbox    domain.OutboxRepository
}

// NewSaleRepository возвращает in-memory репозиторий для локальной разработки
// и тестов. processed и outbox могут быть nil, если дедупликация доставок и
// публикация событий не нужны.
func NewSaleRepository(processed domain.ProcessedEventRepository, outbox domain.OutboxRepository) domain.SaleRepository {
	return &saleRepositoryInMemory{
		items:     make(map[string]domain.Sale),
		byKey:     make(map[string]string),
		processed: processed,
		outbox:    outbox,
	}
}

// Create сохраняет новую продажу, если ID и ключ идемпотентности ещё не заняты.
// Outbox-события кладутся до вставки: при ошибке enqueue продажа не создаётся
// и повтор запроса начинает с чистого состояния.
func (r *saleRepositoryInMemory) Create(sale domain.Sale, outbox []domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sale.ID]; exists {
		return domain.ErrSaleAlreadyExists
	}
	if sale.IdempotencyKey != "" {
		if _, exists := r.byKey[sale.IdempotencyKey]; exists {
			return domain.ErrSaleAlreadyExists
		}
	}
	if err := r.enqueueAll(outbox); err != nil {
		return err
	}
	if sale.IdempotencyKey != "" {
		r.byKey[sale.IdempotencyKey] = sale.ID
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[sale.ID] = cloneSale(sale)
	return nil
}

func (r *saleRepositoryInMemory) enqueueAll(outbox []domain.OutboxMessage) error {
	if r.outbox == nil {
		return nil
	}
	for _, msg := range outbox {
		if _, err := r.outbox.Enqueue(msg, nil); err != nil {
			return err
		}
	}
	return nil
}

// Get возвращает продажу или ErrSaleNotFound, если её нет.
func (r *saleRepositoryInMemory) Get(id string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

// GetByIdempotencyKey возвращает продажу, созданную ранее с данным ключом запроса.
func (r *saleRepositoryInMemory) GetByIdempotencyKey(key string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return cloneSale(r.items[id]), nil
}

// List возвращает продажи по фильтру, новые первыми.
func (r *saleRepositoryInMemory) List(filter domain.SaleFilter) ([]domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Sale, 0, len(r.items))
	for _, sale := range r.items {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.FromDate != "" && sale.SaleDate < filter.FromDate {
			continue
		}
		if filter.ToDate != "" && sale.SaleDate > filter.ToDate {
			continue
		}
		result = append(result, cloneSale(sale))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if filter.Skip > 0 {
		if filter.Skip >= len(result) {
			return []domain.Sale{}, nil
		}
		result = result[filter.Skip:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}

	return result, nil
}

// CountByNumberPrefix считает продажи с данным префиксом номера.
func (r *saleRepositoryInMemory) CountByNumberPrefix(prefix string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sale := range r.items {
		if strings.HasPrefix(sale.SaleNumber, prefix) {
			count++
		}
	}
	return count, nil
}

// Transition атомарно переводит продажу из статуса from в to и отмечает
// доставку события в той же критической секции.
func (r *saleRepositoryInMemory) Transition(id string, from, to domain.SaleStatus, delivery *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.ErrSaleNotFound
	}
	if sale.Status != from {
		return domain.ErrSaleTerminal
	}

	if delivery != nil && r.processed != nil {
		if err := r.processed.MarkProcessed(delivery.Consumer, delivery.EventID, time.Now().UTC()); err != nil {
			return err
		}
	}

	sale.Status = to
	sale.UpdatedAt = time.Now().UTC()
	r.items[id] = sale
	return nil
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Lines = append([]domain.SaleLine(nil), src.Lines...)
	return dst
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)

package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// taxRepositoryInMemory — append-only журнал налоговых записей в памяти.
type taxRepositoryInMemory struct {
	mu        sync.RWMutex
	items     []domain.TaxRecord
	byKey     map[string]int
	processed domain.ProcessedEventRepository
	outbox    domain.OutboxRepository
}

// NewTaxRepository возвращает in-memory журнал налоговых записей.
// processed и outbox могут быть nil, если дедупликация доставок и
// публикация событий не нужны.
func NewTaxRepository(processed domain.ProcessedEventRepository, outbox domain.OutboxRepository) domain.TaxRepository {
	return &taxRepositoryInMemory{
		byKey:     make(map[string]int),
		processed: processed,
		outbox:    outbox,
	}
}

// Create добавляет запись, кладёт outbox-события и отмечает доставку в той же
// критической секции. Повтор по ключу идемпотентности возвращает существующую
// запись. Отметка пишется последней: неудавшийся enqueue оставляет доставку
// неотмеченной, и повтор досоздаёт недостающее.
func (r *taxRepositoryInMemory) Create(record domain.TaxRecord, delivery *domain.Delivery, outbox []domain.OutboxMessage) (domain.TaxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Вставка идёт последней, поэтому существующий ключ означает, что
	// outbox-события были положены при первой вставке.
	if record.IdempotencyKey != "" {
		if idx, exists := r.byKey[record.IdempotencyKey]; exists {
			return r.items[idx], nil
		}
	}

	if r.outbox != nil {
		for _, msg := range outbox {
			if _, err := r.outbox.Enqueue(msg, nil); err != nil {
				return domain.TaxRecord{}, err
			}
		}
	}

	if delivery != nil && r.processed != nil {
		if err := r.processed.MarkProcessed(delivery.Consumer, delivery.EventID, time.Now().UTC()); err != nil {
			return domain.TaxRecord{}, err
		}
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.items = append(r.items, record)
	if record.IdempotencyKey != "" {
		r.byKey[record.IdempotencyKey] = len(r.items) - 1
	}
	return record, nil
}

// GetByIdempotencyKey возвращает запись по ключу идемпотентности.
func (r *taxRepositoryInMemory) GetByIdempotencyKey(key string) (domain.TaxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx, ok := r.byKey[key]
	if !ok {
		return domain.TaxRecord{}, domain.ErrTaxRecordNotFound
	}
	return r.items[idx], nil
}

// List возвращает налоговые записи по фильтрам, новые первыми.
func (r *taxRepositoryInMemory) List(taxType domain.TaxType, fiscalMonth, referenceType string, skip, limit int) ([]domain.TaxRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.TaxRecord, 0, len(r.items))
	for _, record := range r.items {
		if taxType != "" && record.Type != taxType {
			continue
		}
		if fiscalMonth != "" && record.FiscalMonth != fiscalMonth {
			continue
		}
		if referenceType != "" && record.ReferenceType != referenceType {
			continue
		}
		result = append(result, record)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, skip, limit), nil
}

// MonthlyReport агрегирует налоги по месяцам фискального года.
func (r *taxRepositoryInMemory) MonthlyReport(fiscalYear string) ([]domain.MonthlyTVA, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byMonth := make(map[string]*domain.MonthlyTVA)
	for _, record := range r.items {
		if record.FiscalYear != fiscalYear {
			continue
		}
		agg, ok := byMonth[record.FiscalMonth]
		if !ok {
			agg = &domain.MonthlyTVA{FiscalMonth: record.FiscalMonth}
			byMonth[record.FiscalMonth] = agg
		}
		switch record.Type {
		case domain.TaxTypeCollectee:
			agg.CollecteeMinor += record.TaxAmountMinor
			agg.SalesCount++
		case domain.TaxTypeDeductible:
			agg.DeductibleMinor += record.TaxAmountMinor
			agg.PurchasesCount++
		}
	}

	result := make([]domain.MonthlyTVA, 0, len(byMonth))
	for _, agg := range byMonth {
		agg.NetMinor = agg.CollecteeMinor - agg.DeductibleMinor
		result = append(result, *agg)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FiscalMonth < result[j].FiscalMonth
	})
	return result, nil
}

var _ domain.TaxRepository = (*taxRepositoryInMemory)(nil)

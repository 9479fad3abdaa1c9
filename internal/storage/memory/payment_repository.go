package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// paymentRepositoryInMemory — простая in-memory реализация PaymentRepository.
type paymentRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Payment
	byKey  map[string]string
	outbox domain.OutboxRepository
}

// NewPaymentRepository возвращает in-memory репозиторий платежей.
// outbox может быть nil, если публикация событий не нужна.
func NewPaymentRepository(outbox domain.OutboxRepository) domain.PaymentRepository {
	return &paymentRepositoryInMemory{
		items:  make(map[string]domain.Payment),
		byKey:  make(map[string]string),
		outbox: outbox,
	}
}

// Create сохраняет платёж вместе с outbox-событиями, если ключ
// идемпотентности ещё не занят.
func (r *paymentRepositoryInMemory) Create(payment domain.Payment, outbox []domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if payment.IdempotencyKey != "" {
		if _, exists := r.byKey[payment.IdempotencyKey]; exists {
			return domain.ErrSaleAlreadyExists
		}
	}
	if r.outbox != nil {
		for _, msg := range outbox {
			if _, err := r.outbox.Enqueue(msg, nil); err != nil {
				return err
			}
		}
	}
	if payment.IdempotencyKey != "" {
		r.byKey[payment.IdempotencyKey] = payment.ID
	}
	r.items[payment.ID] = payment
	return nil
}

// GetByIdempotencyKey возвращает платёж по ключу запроса.
func (r *paymentRepositoryInMemory) GetByIdempotencyKey(key string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byKey[key]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return r.items[id], nil
}

// ListBySale возвращает платежи по продаже, новые первыми.
func (r *paymentRepositoryInMemory) ListBySale(saleID string) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Payment, 0, len(r.items))
	for _, payment := range r.items {
		if payment.SaleID == saleID {
			result = append(result, payment)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)

package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// customerRepositoryInMemory — простая in-memory реализация CustomerRepository.
type customerRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Customer
	byCode map[string]string
}

// NewCustomerRepository возвращает in-memory репозиторий клиентов.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		items:  make(map[string]domain.Customer),
		byCode: make(map[string]string),
	}
}

// Create сохраняет клиента, если его код ещё не занят.
func (r *customerRepositoryInMemory) Create(customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[customer.Code]; exists {
		return domain.ErrCustomerCodeTaken
	}
	r.items[customer.ID] = customer
	r.byCode[customer.Code] = customer.ID
	return nil
}

// Get возвращает клиента или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) Get(id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// GetByCode возвращает клиента по его коду.
func (r *customerRepositoryInMemory) GetByCode(code string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[code]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return r.items[id], nil
}

// List возвращает клиентов, отсортированных по коду.
func (r *customerRepositoryInMemory) List(activeOnly bool, skip, limit int) ([]domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Customer, 0, len(r.items))
	for _, customer := range r.items {
		if activeOnly && !customer.IsActive {
			continue
		}
		result = append(result, customer)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Code < result[j].Code
	})

	return paginate(result, skip, limit), nil
}

// paginate применяет skip/limit к уже отсортированной выборке.
func paginate[T any](items []T, skip, limit int) []T {
	if skip > 0 {
		if skip >= len(items) {
			return []T{}
		}
		items = items[skip:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)

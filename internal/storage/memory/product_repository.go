package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// productRepositoryInMemory — простая in-memory реализация ProductRepository.
type productRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Product
	byCode map[string]string
}

// NewProductRepository возвращает in-memory репозиторий товаров.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items:  make(map[string]domain.Product),
		byCode: make(map[string]string),
	}
}

// Create сохраняет товар, если его код ещё не занят.
func (r *productRepositoryInMemory) Create(product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[product.Code]; exists {
		return domain.ErrProductCodeTaken
	}
	r.items[product.ID] = product
	r.byCode[product.Code] = product.ID
	return nil
}

// Get возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// GetByCode возвращает товар по его коду.
func (r *productRepositoryInMemory) GetByCode(code string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[code]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return r.items[id], nil
}

// List возвращает товары, отсортированные по коду.
func (r *productRepositoryInMemory) List(productType domain.ProductType, activeOnly bool, skip, limit int) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		if productType != "" && product.Type != productType {
			continue
		}
		if activeOnly && !product.IsActive {
			continue
		}
		result = append(result, product)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Code < result[j].Code
	})

	return paginate(result, skip, limit), nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)

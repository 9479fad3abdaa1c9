package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// accountRepositoryInMemory — простая in-memory реализация AccountRepository.
type accountRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Account
	byCode map[string]string
}

// NewAccountRepository возвращает in-memory план счетов.
func NewAccountRepository() domain.AccountRepository {
	return &accountRepositoryInMemory{
		items:  make(map[string]domain.Account),
		byCode: make(map[string]string),
	}
}

// Create сохраняет счёт, если его код ещё не занят.
func (r *accountRepositoryInMemory) Create(account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byCode[account.Code]; exists {
		return domain.ErrAccountCodeTaken
	}
	r.items[account.ID] = account
	r.byCode[account.Code] = account.ID
	return nil
}

// Get возвращает счёт или ErrAccountNotFound.
func (r *accountRepositoryInMemory) Get(id string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.items[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return account, nil
}

// GetByCode возвращает счёт по его коду.
func (r *accountRepositoryInMemory) GetByCode(code string) (domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byCode[code]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return r.items[id], nil
}

// List возвращает счета, отсортированные по коду.
func (r *accountRepositoryInMemory) List(accountType domain.AccountType, activeOnly bool, skip, limit int) ([]domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Account, 0, len(r.items))
	for _, account := range r.items {
		if accountType != "" && account.Type != accountType {
			continue
		}
		if activeOnly && !account.IsActive {
			continue
		}
		result = append(result, account)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Code < result[j].Code
	})

	return paginate(result, skip, limit), nil
}

var _ domain.AccountRepository = (*accountRepositoryInMemory)(nil)

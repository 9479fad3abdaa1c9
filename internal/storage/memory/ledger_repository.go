package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// ledgerRepositoryInMemory — append-only журнал проводок в памяти.
type ledgerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.LedgerEntry
	order []string
	byKey map[string]string
}

// NewLedgerRepository возвращает in-memory журнал двойных проводок.
func NewLedgerRepository() domain.LedgerRepository {
	return &ledgerRepositoryInMemory{
		items: make(map[string]domain.LedgerEntry),
		byKey: make(map[string]string),
	}
}

// Create добавляет проводку в журнал. Повтор по ключу идемпотентности
// возвращает существующую проводку.
func (r *ledgerRepositoryInMemory) Create(entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.IdempotencyKey != "" {
		if id, exists := r.byKey[entry.IdempotencyKey]; exists {
			return r.items[id], nil
		}
	}
	return r.createLocked(entry), nil
}

func (r *ledgerRepositoryInMemory) createLocked(entry domain.LedgerEntry) domain.LedgerEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.items[entry.ID] = entry
	r.order = append(r.order, entry.ID)
	if entry.IdempotencyKey != "" {
		r.byKey[entry.IdempotencyKey] = entry.ID
	}
	return entry
}

// Get возвращает проводку или ErrEntryNotFound.
func (r *ledgerRepositoryInMemory) Get(id string) (domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.items[id]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrEntryNotFound
	}
	return entry, nil
}

// List возвращает проводки по фильтру, новые первыми.
func (r *ledgerRepositoryInMemory) List(filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.LedgerEntry, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		entry := r.items[r.order[i]]
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if filter.FiscalMonth != "" && entry.FiscalMonth != filter.FiscalMonth {
			continue
		}
		if filter.ReferenceType != "" && entry.ReferenceType != filter.ReferenceType {
			continue
		}
		if filter.ReferenceID != "" && entry.ReferenceID != filter.ReferenceID {
			continue
		}
		result = append(result, entry)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, filter.Skip, filter.Limit), nil
}

// Reverse атомарно вставляет сторно и выставляет is_reversed у оригинала.
// Повторное сторно возвращает ErrEntryAlreadyReversed.
func (r *ledgerRepositoryInMemory) Reverse(originalID string, reversal domain.LedgerEntry) (domain.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	original, ok := r.items[originalID]
	if !ok {
		return domain.LedgerEntry{}, domain.ErrEntryNotFound
	}
	if original.IsReversed {
		return domain.LedgerEntry{}, domain.ErrEntryAlreadyReversed
	}

	original.IsReversed = true
	r.items[originalID] = original

	reversal.ReversesEntryID = originalID
	return r.createLocked(reversal), nil
}

var _ domain.LedgerRepository = (*ledgerRepositoryInMemory)(nil)

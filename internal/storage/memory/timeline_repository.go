package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// timelineRepositoryInMemory хранит хронику продаж в памяти.
type timelineRepositoryInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.TimelineEvent
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepositoryInMemory{events: make(map[string][]domain.TimelineEvent)}
}

// Append добавляет событие в хронику продажи.
func (r *timelineRepositoryInMemory) Append(event domain.TimelineEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[event.SaleID] = append(r.events[event.SaleID], event)

	sort.SliceStable(r.events[event.SaleID], func(i, j int) bool {
		return r.events[event.SaleID][i].Occurred.Before(r.events[event.SaleID][j].Occurred)
	})

	return nil
}

// List возвращает события продажи в хронологическом порядке.
func (r *timelineRepositoryInMemory) List(saleID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[saleID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)

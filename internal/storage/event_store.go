package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulsemetric/attribution-engine/internal/models"
)

// InMemoryEventStore provides in-memory storage for events. It backs
// development and tests; production uses the ClickHouse store.
type InMemoryEventStore struct {
	mu      sync.RWMutex
	byID    map[string]*models.MarketingEvent
	byBrand map[string][]*models.MarketingEvent
}

// NewInMemoryEventStore creates a new in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		byID:    make(map[string]*models.MarketingEvent),
		byBrand: make(map[string][]*models.MarketingEvent),
	}
}

// Append stores one event. Duplicate IDs are ignored.
func (s *InMemoryEventStore) Append(ctx context.Context, ev *models.MarketingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[ev.ID]; exists {
		return nil
	}
	s.byID[ev.ID] = ev
	s.byBrand[ev.BrandID] = append(s.byBrand[ev.BrandID], ev)
	return nil
}

// QueryRange returns a brand's events in [from, to) ordered by timestamp.
func (s *InMemoryEventStore) QueryRange(ctx context.Context, brandID string, from, to time.Time) ([]*models.MarketingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.MarketingEvent, 0)
	for _, ev := range s.byBrand[brandID] {
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		result = append(result, ev)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// CountByType tallies a brand's events per type in [from, to).
func (s *InMemoryEventStore) CountByType(ctx context.Context, brandID string, from, to time.Time) (map[models.EventType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.EventType]int64)
	for _, ev := range s.byBrand[brandID] {
		if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
			continue
		}
		counts[ev.Type]++
	}
	return counts, nil
}

// Len returns the total number of stored events.
func (s *InMemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

package usage

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory append-only event log.
type MemStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(_ context.Context, ev *Event) error {
	s.mu.Lock()
	s.events = append(s.events, *ev)
	s.mu.Unlock()
	return nil
}

func (s *MemStore) SumSince(_ context.Context, orgID, key string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum int64
	for _, ev := range s.events {
		if ev.OrgID == orgID && ev.Key == key && !ev.OccurredAt.Before(since) {
			sum += ev.Qty
		}
	}
	return sum, nil
}

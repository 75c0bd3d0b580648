package entitlement

import (
	"context"
	"sync"
	"time"

	"paperstack.io/internal/ids"
)

var _ SubscriptionStore = (*MemSubscriptionStore)(nil)

// MemSubscriptionStore is an in-memory SubscriptionStore for tests and
// single-process setups.
type MemSubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

func NewMemSubscriptionStore() *MemSubscriptionStore {
	return &MemSubscriptionStore{subs: make(map[string]Subscription)}
}

func (s *MemSubscriptionStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	s.subs[sub.ID] = *sub
	return nil
}

func (s *MemSubscriptionStore) ActiveByOrg(_ context.Context, orgID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found []Subscription
	for _, sub := range s.subs {
		if sub.OrgID == orgID && sub.Status.Live() {
			found = append(found, sub)
		}
	}
	if len(found) != 1 {
		return nil, ErrNoActiveSubscription
	}
	return &found[0], nil
}

func (s *MemSubscriptionStore) UpdateStatus(_ context.Context, id string, status SubscriptionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.Status = status
	sub.UpdatedAt = time.Now().UTC()
	s.subs[id] = sub
	return nil
}

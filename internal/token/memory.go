package token

import (
	"context"
	"errors"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store. The package mutex gives Rotate the same
// one-winner guarantee the conditional UPDATE gives the Postgres store.
type MemStore struct {
	mu      sync.Mutex
	records map[string]*RefreshTokenRecord
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*RefreshTokenRecord)}
}

func (s *MemStore) Create(_ context.Context, rec *RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return errors.New("token: duplicate record id")
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *MemStore) Find(_ context.Context, id string) (*RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemStore) Rotate(_ context.Context, oldID string, at time.Time, successor *RefreshTokenRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[oldID]
	if !ok || rec.State != StateActive {
		return false, nil
	}
	rec.State = StateRotated
	t := at
	rec.RotatedAt = &t
	cp := *successor
	s.records[successor.ID] = &cp
	return true, nil
}

func (s *MemStore) RevokeFamily(_ context.Context, familyID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.records {
		if rec.FamilyID == familyID && rec.State != StateRevoked {
			rec.State = StateRevoked
			n++
		}
	}
	return n, nil
}

func (s *MemStore) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// FamilyStates reports the state of every record in a family, for tests.
func (s *MemStore) FamilyStates(familyID string) map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State)
	for id, rec := range s.records {
		if rec.FamilyID == familyID {
			out[id] = rec.State
		}
	}
	return out
}

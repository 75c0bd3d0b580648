package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"paperstack.io/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used in tests and single-process setups.
type MemStore struct {
	mu          sync.RWMutex
	orgs        map[string]Organization
	users       map[string]User
	byEmail     map[string]string // lower(email) -> user id
	memberships map[string]Membership
}

func NewMemStore() *MemStore {
	return &MemStore{
		orgs:        make(map[string]Organization),
		users:       make(map[string]User),
		byEmail:     make(map[string]string),
		memberships: make(map[string]Membership),
	}
}

func (s *MemStore) Organizations(context.Context) OrganizationStore { return (*memOrgStore)(s) }
func (s *MemStore) Users(context.Context) UserStore                 { return (*memUserStore)(s) }
func (s *MemStore) Memberships(context.Context) MembershipStore     { return (*memMembershipStore)(s) }

func membershipKey(userID, orgID string) string { return userID + "|" + orgID }

type memOrgStore MemStore

func (s *memOrgStore) Create(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	if _, ok := s.orgs[org.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	org.CreatedAt, org.UpdatedAt = now, now
	s.orgs[org.ID] = *org
	return nil
}

func (s *memOrgStore) Find(_ context.Context, id string) (*Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &org, nil
}

type memUserStore MemStore

func (s *memUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	key := strings.ToLower(u.Email)
	if _, ok := s.byEmail[key]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = *u
	s.byEmail[key] = u.ID
	return nil
}

func (s *memUserStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *memUserStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

type memMembershipStore MemStore

func (s *memMembershipStore) Create(_ context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(m.UserID, m.OrgID)
	if _, ok := s.memberships[key]; ok {
		return ErrAlreadyExists
	}
	m.CreatedAt = time.Now().UTC()
	s.memberships[key] = *m
	return nil
}

func (s *memMembershipStore) Find(_ context.Context, userID, orgID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[membershipKey(userID, orgID)]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *memMembershipStore) ListByUser(_ context.Context, userID string) ([]Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			result = append(result, m)
		}
	}
	return result, nil
}

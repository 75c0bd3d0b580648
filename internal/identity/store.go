package identity

import "context"

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Organizations(ctx context.Context) OrganizationStore
	Users(ctx context.Context) UserStore
	Memberships(ctx context.Context) MembershipStore
}

// OrganizationStore manages organizations.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
}

// UserStore manages users. Email uniqueness is case-insensitive.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Count(ctx context.Context) (int64, error)
}

// MembershipStore manages user-to-org bindings.
type MembershipStore interface {
	Create(ctx context.Context, m *Membership) error
	Find(ctx context.Context, userID, orgID string) (*Membership, error)
	ListByUser(ctx context.Context, userID string) ([]Membership, error)
}

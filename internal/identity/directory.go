package identity

import (
	"context"
	"errors"
	"strings"

	"paperstack.io/internal/ids"
)

// Directory provides credential verification and membership resolution on
// top of a Store.
type Directory struct {
	store Store
}

// NewDirectory constructs a Directory.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// BootstrapInput carries the first organization and its admin account.
type BootstrapInput struct {
	OrgName  string
	Email    string
	Password string
	Name     string
}

// BootstrapResult reports the created identifiers.
type BootstrapResult struct {
	OrgID  string
	UserID string
}

// Bootstrap creates the first organization and its admin user. It fails with
// ErrAlreadyInitialized once any user exists. The count check is advisory
// rather than atomic: bootstrap is a one-time operator action, and two
// concurrent attempts with the same email still collapse into
// ErrAlreadyInitialized through the unique email index.
func (d *Directory) Bootstrap(ctx context.Context, in BootstrapInput) (BootstrapResult, error) {
	in.OrgName = strings.TrimSpace(in.OrgName)
	in.Email = normalizeEmail(in.Email)
	if in.OrgName == "" || in.Email == "" || in.Password == "" {
		return BootstrapResult{}, ErrInvalidInput
	}

	count, err := d.store.Users(ctx).Count(ctx)
	if err != nil {
		return BootstrapResult{}, err
	}
	if count > 0 {
		return BootstrapResult{}, ErrAlreadyInitialized
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return BootstrapResult{}, err
	}

	org := &Organization{ID: ids.New(), Name: in.OrgName}
	if err := d.store.Organizations(ctx).Create(ctx, org); err != nil {
		return BootstrapResult{}, err
	}
	user := &User{
		ID:           ids.New(),
		Email:        in.Email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
	}
	if err := d.store.Users(ctx).Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return BootstrapResult{}, ErrAlreadyInitialized
		}
		return BootstrapResult{}, err
	}
	member := &Membership{UserID: user.ID, OrgID: org.ID, Role: RoleAdmin}
	if err := d.store.Memberships(ctx).Create(ctx, member); err != nil {
		return BootstrapResult{}, err
	}
	return BootstrapResult{OrgID: org.ID, UserID: user.ID}, nil
}

// VerifyCredentials checks email and password and returns the user.
// Unknown emails and wrong passwords produce the same error, and the unknown
// email path still performs a bcrypt comparison so response timing does not
// reveal whether the account exists.
func (d *Directory) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := d.store.Users(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_ = VerifyPassword(string(dummyHash), password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// ResolveMembership returns the user's role in the organization. Only a
// genuinely absent membership reads as ErrNotAMember; storage faults pass
// through.
func (d *Directory) ResolveMembership(ctx context.Context, userID, orgID string) (Role, error) {
	m, err := d.store.Memberships(ctx).Find(ctx, userID, orgID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrNotAMember
	}
	if err != nil {
		return "", err
	}
	return m.Role, nil
}

// Memberships lists all org bindings for a user, most recent last.
func (d *Directory) Memberships(ctx context.Context, userID string) ([]Membership, error) {
	return d.store.Memberships(ctx).ListByUser(ctx, userID)
}

// AddMember creates a membership with the given role.
func (d *Directory) AddMember(ctx context.Context, userID, orgID string, role Role) error {
	if !role.Valid() {
		return ErrInvalidInput
	}
	return d.store.Memberships(ctx).Create(ctx, &Membership{UserID: userID, OrgID: orgID, Role: role})
}

// CreateUser registers an additional user and binds it to the organization.
func (d *Directory) CreateUser(ctx context.Context, orgID, email, password, name string, role Role) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" || !role.Valid() {
		return nil, ErrInvalidInput
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{ID: ids.New(), Email: email, PasswordHash: hash, Name: strings.TrimSpace(name)}
	if err := d.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	if err := d.store.Memberships(ctx).Create(ctx, &Membership{UserID: user.ID, OrgID: orgID, Role: role}); err != nil {
		return nil, err
	}
	return user, nil
}

// AttachMember binds the account with the given email to the organization,
// creating the account first when it does not exist yet. The returned bool
// reports whether a new user was created; password is only consulted on that
// path.
func (d *Directory) AttachMember(ctx context.Context, orgID, email, password, name string, role Role) (*User, bool, error) {
	email = normalizeEmail(email)
	if email == "" || orgID == "" || !role.Valid() {
		return nil, false, ErrInvalidInput
	}
	existing, err := d.store.Users(ctx).FindByEmail(ctx, email)
	if err == nil {
		if err := d.AddMember(ctx, existing.ID, orgID, role); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	user, err := d.CreateUser(ctx, orgID, email, password, name, role)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package entitlement

import "errors"

var (
	ErrNoActiveSubscription = errors.New("entitlement: no active subscription")
	ErrInvalidCatalog       = errors.New("entitlement: invalid catalog")
	ErrNotFound             = errors.New("entitlement: not found")
)

package entitlement

import "context"

// SubscriptionStore persists org plan assignments.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *Subscription) error
	// ActiveByOrg returns the single live subscription for the org. Zero or
	// multiple live rows are a configuration fault and surface as
	// ErrNoActiveSubscription: entitlements fail closed.
	ActiveByOrg(ctx context.Context, orgID string) (*Subscription, error)
	UpdateStatus(ctx context.Context, id string, status SubscriptionStatus) error
}

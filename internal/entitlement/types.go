// Package entitlement answers "is this organization allowed to use this
// feature right now" from an immutable plan catalog, the org's active
// subscription and metered usage.
package entitlement

import "time"

// Plan is a priced tier. The catalog of plans is immutable at runtime.
type Plan struct {
	Key  string
	Name string
}

// Entitlement grants a feature to a plan. A nil Limit means unlimited.
type Entitlement struct {
	PlanKey string
	Key     string
	Enabled bool
	Limit   *int64
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrial    SubscriptionStatus = "trial"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Live reports whether the subscription currently entitles the org.
func (s SubscriptionStatus) Live() bool {
	return s == StatusActive || s == StatusTrial
}

// Subscription assigns a plan to an organization. At most one live
// subscription may exist per org.
type Subscription struct {
	ID        string
	OrgID     string
	PlanKey   string
	Status    SubscriptionStatus
	RenewAt   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcome is the result class of an entitlement check.
type Outcome string

const (
	Allowed       Outcome = "allowed"
	Denied        Outcome = "denied"
	LimitExceeded Outcome = "limit_exceeded"
)

// Decision is the full result of an entitlement check. Remaining is only
// meaningful when Limited is true.
type Decision struct {
	Outcome   Outcome
	PlanKey   string
	Limited   bool
	Remaining int64
}

// Allow reports whether the guarded action may proceed.
func (d Decision) Allow() bool { return d.Outcome == Allowed }

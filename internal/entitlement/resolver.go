package entitlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"paperstack.io/internal/obs"
)

const defaultCacheTTL = 30 * time.Second

// UsageReader is the read side of the usage meter consumed by entitlement
// checks.
type UsageReader interface {
	ConsumedSince(ctx context.Context, orgID, featureKey string, since time.Time) (int64, error)
}

// Resolver combines the plan catalog, subscription store and usage meter
// into a single allow/deny/limit decision. Checks never mutate state;
// recording usage is the caller's explicit step after the guarded action
// succeeds.
type Resolver struct {
	catalog *Catalog
	subs    SubscriptionStore
	usage   UsageReader

	now         func() time.Time
	cacheTTL    time.Duration
	windowStart func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedSubscription
}

type cachedSubscription struct {
	sub     Subscription
	expires time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithCacheTTL bounds how long a resolved subscription may be served from
// cache. Zero disables caching.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl >= 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithUsageWindow injects the start of the metering window. The default is
// the zero time: limits accumulate over the subscription's whole life. Reset
// cadence, if any, is the surrounding product's call.
func WithUsageWindow(start func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if start != nil {
			r.windowStart = start
		}
	}
}

// WithResolverClock overrides the cache time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over an immutable catalog snapshot.
func NewResolver(catalog *Catalog, subs SubscriptionStore, usage UsageReader, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		catalog:     catalog,
		subs:        subs,
		usage:       usage,
		now:         time.Now,
		cacheTTL:    defaultCacheTTL,
		windowStart: func() time.Time { return time.Time{} },
		cache:       make(map[string]cachedSubscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check resolves the entitlement decision for (orgID, featureKey). Denials
// are normal control flow; only storage failures return an error.
func (r *Resolver) Check(ctx context.Context, orgID, featureKey string) (Decision, error) {
	sub, err := r.activeSubscription(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return r.decided(featureKey, Decision{Outcome: Denied}), nil
		}
		return Decision{}, err
	}

	grant, ok := r.catalog.Grant(sub.PlanKey, featureKey)
	if !ok || !grant.Enabled {
		return r.decided(featureKey, Decision{Outcome: Denied, PlanKey: sub.PlanKey}), nil
	}
	if grant.Limit == nil {
		return r.decided(featureKey, Decision{Outcome: Allowed, PlanKey: sub.PlanKey}), nil
	}

	consumed, err := r.usage.ConsumedSince(ctx, orgID, featureKey, r.windowStart())
	if err != nil {
		return Decision{}, fmt.Errorf("read usage for %s/%s: %w", orgID, featureKey, err)
	}
	remaining := *grant.Limit - consumed
	if remaining <= 0 {
		return r.decided(featureKey, Decision{Outcome: LimitExceeded, PlanKey: sub.PlanKey, Limited: true}), nil
	}
	return r.decided(featureKey, Decision{Outcome: Allowed, PlanKey: sub.PlanKey, Limited: true, Remaining: remaining}), nil
}

// KnownPlan reports whether the catalog snapshot contains the plan.
func (r *Resolver) KnownPlan(key string) bool {
	_, ok := r.catalog.Plan(key)
	return ok
}

// Invalidate drops the cached subscription for an org. Call on any
// subscription change.
func (r *Resolver) Invalidate(orgID string) {
	r.mu.Lock()
	delete(r.cache, orgID)
	r.mu.Unlock()
}

func (r *Resolver) activeSubscription(ctx context.Context, orgID string) (Subscription, error) {
	if r.cacheTTL > 0 {
		r.mu.RLock()
		entry, ok := r.cache[orgID]
		r.mu.RUnlock()
		if ok && r.now().Before(entry.expires) {
			return entry.sub, nil
		}
	}

	sub, err := r.subs.ActiveByOrg(ctx, orgID)
	if err != nil {
		return Subscription{}, err
	}
	if r.cacheTTL > 0 {
		r.mu.Lock()
		r.cache[orgID] = cachedSubscription{sub: *sub, expires: r.now().Add(r.cacheTTL)}
		r.mu.Unlock()
	}
	return *sub, nil
}

func (r *Resolver) decided(featureKey string, d Decision) Decision {
	obs.EntitlementDecisionsTotal.WithLabelValues(featureKey, string(d.Outcome)).Inc()
	return d
}

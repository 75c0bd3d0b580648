package entitlement

import "fmt"

// Catalog is an immutable snapshot of plans and their entitlement grants.
// It is loaded once at startup (or on an explicit administrative reload) and
// shared read-only across requests.
type Catalog struct {
	plans  map[string]Plan
	grants map[string]map[string]Entitlement // planKey -> featureKey -> grant
}

// NewCatalog validates and indexes the plan catalog.
func NewCatalog(plans []Plan, grants []Entitlement) (*Catalog, error) {
	c := &Catalog{
		plans:  make(map[string]Plan, len(plans)),
		grants: make(map[string]map[string]Entitlement),
	}
	for _, p := range plans {
		if p.Key == "" {
			return nil, fmt.Errorf("%w: plan with empty key", ErrInvalidCatalog)
		}
		if _, ok := c.plans[p.Key]; ok {
			return nil, fmt.Errorf("%w: duplicate plan %q", ErrInvalidCatalog, p.Key)
		}
		c.plans[p.Key] = p
		c.grants[p.Key] = make(map[string]Entitlement)
	}
	for _, e := range grants {
		byFeature, ok := c.grants[e.PlanKey]
		if !ok {
			return nil, fmt.Errorf("%w: entitlement %q references unknown plan %q", ErrInvalidCatalog, e.Key, e.PlanKey)
		}
		if _, ok := byFeature[e.Key]; ok {
			return nil, fmt.Errorf("%w: duplicate entitlement (%q,%q)", ErrInvalidCatalog, e.PlanKey, e.Key)
		}
		if e.Limit != nil && *e.Limit < 0 {
			return nil, fmt.Errorf("%w: negative limit for (%q,%q)", ErrInvalidCatalog, e.PlanKey, e.Key)
		}
		byFeature[e.Key] = e
	}
	return c, nil
}

// Plan returns the plan for a key.
func (c *Catalog) Plan(key string) (Plan, bool) {
	p, ok := c.plans[key]
	return p, ok
}

// Grant returns the entitlement row for (planKey, featureKey).
func (c *Catalog) Grant(planKey, featureKey string) (Entitlement, bool) {
	byFeature, ok := c.grants[planKey]
	if !ok {
		return Entitlement{}, false
	}
	e, ok := byFeature[featureKey]
	return e, ok
}

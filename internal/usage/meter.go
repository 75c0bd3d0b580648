// Package usage records metered feature consumption as an append-only event
// log and aggregates it at read time.
package usage

import (
	"context"
	"errors"
	"time"

	"paperstack.io/internal/ids"
)

// Event is one metered action. Events are never mutated or deleted by
// normal operation.
type Event struct {
	ID         string
	OrgID      string
	UserID     string
	Key        string
	Qty        int64
	OccurredAt time.Time
}

// Store persists usage events.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	SumSince(ctx context.Context, orgID, key string, since time.Time) (int64, error)
}

// Meter records and aggregates usage. It never enforces limits on its own;
// that is the entitlement resolver's job, using a prior read.
type Meter struct {
	store Store
	now   func() time.Time
}

// MeterOption configures Meter behavior.
type MeterOption func(*Meter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) MeterOption {
	return func(m *Meter) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMeter constructs a Meter.
func NewMeter(store Store, opts ...MeterOption) *Meter {
	m := &Meter{store: store, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends a usage event. Qty values below one default to one.
func (m *Meter) Record(ctx context.Context, orgID, userID, key string, qty int64) error {
	if orgID == "" || key == "" {
		return errors.New("usage: orgID and key are required")
	}
	if qty < 1 {
		qty = 1
	}
	return m.store.Append(ctx, &Event{
		ID:         ids.New(),
		OrgID:      orgID,
		UserID:     userID,
		Key:        key,
		Qty:        qty,
		OccurredAt: m.now().UTC(),
	})
}

// ConsumedSince sums recorded quantity for (orgID, key) since the window
// start. A zero since aggregates over everything.
func (m *Meter) ConsumedSince(ctx context.Context, orgID, key string, since time.Time) (int64, error) {
	return m.store.SumSince(ctx, orgID, key, since)
}

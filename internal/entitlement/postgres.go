package entitlement

import (
	"context"
	"database/sql"
	"fmt"

	"paperstack.io/internal/ids"
	"paperstack.io/internal/obs"
)

var _ SubscriptionStore = (*PGSubscriptionStore)(nil)

// PGSubscriptionStore implements SubscriptionStore using PostgreSQL.
type PGSubscriptionStore struct {
	db *sql.DB
}

func NewPGSubscriptionStore(db *sql.DB) *PGSubscriptionStore {
	return &PGSubscriptionStore{db: db}
}

func (s *PGSubscriptionStore) Create(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into subscriptions(id, org_id, plan_key, status, renew_at) values($1,$2,$3,$4,$5)`,
		sub.ID, sub.OrgID, sub.PlanKey, string(sub.Status), sub.RenewAt,
	)
	return err
}

func (s *PGSubscriptionStore) ActiveByOrg(ctx context.Context, orgID string) (*Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, org_id, plan_key, status, renew_at, created_at, updated_at
		 from subscriptions where org_id=$1 and status in ('active','trial')`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []Subscription
	for rows.Next() {
		var sub Subscription
		var status string
		if err := rows.Scan(&sub.ID, &sub.OrgID, &sub.PlanKey, &status, &sub.RenewAt, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		sub.Status = SubscriptionStatus(status)
		found = append(found, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(found) != 1 {
		// Zero or multiple live rows is a configuration fault, not a user
		// error; log it and fail closed.
		if len(found) > 1 {
			obs.LogRequest(map[string]any{
				"level": "warn", "msg": "multiple live subscriptions", "org_id": orgID, "count": len(found),
			})
		}
		return nil, ErrNoActiveSubscription
	}
	return &found[0], nil
}

func (s *PGSubscriptionStore) UpdateStatus(ctx context.Context, id string, status SubscriptionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`update subscriptions set status=$2, updated_at=now() where id=$1`,
		id, string(status),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadCatalog reads the seeded plan catalog into an immutable snapshot.
func LoadCatalog(ctx context.Context, db *sql.DB) (*Catalog, error) {
	rows, err := db.QueryContext(ctx, `select key, name from plans order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.Key, &p.Name); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grantRows, err := db.QueryContext(ctx,
		`select plan_key, key, enabled, limit_value from entitlements order by plan_key, key`)
	if err != nil {
		return nil, err
	}
	defer grantRows.Close()

	var grants []Entitlement
	for grantRows.Next() {
		var e Entitlement
		var limit sql.NullInt64
		if err := grantRows.Scan(&e.PlanKey, &e.Key, &e.Enabled, &limit); err != nil {
			return nil, err
		}
		if limit.Valid {
			v := limit.Int64
			e.Limit = &v
		}
		grants = append(grants, e)
	}
	if err := grantRows.Err(); err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: no plans seeded", ErrInvalidCatalog)
	}
	return NewCatalog(plans, grants)
}

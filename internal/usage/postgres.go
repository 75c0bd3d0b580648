package usage

import (
	"context"
	"database/sql"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Events are insert-only; the
// aggregate needs no locking.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, ev *Event) error {
	var userID any
	if ev.UserID != "" {
		userID = ev.UserID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into usage_events(id, org_id, user_id, key, qty, occurred_at) values($1,$2,$3,$4,$5,$6)`,
		ev.ID, ev.OrgID, userID, ev.Key, ev.Qty, ev.OccurredAt,
	)
	return err
}

func (s *PGStore) SumSince(ctx context.Context, orgID, key string, since time.Time) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx,
		`select coalesce(sum(qty), 0) from usage_events where org_id=$1 and key=$2 and occurred_at >= $3`,
		orgID, key, since,
	).Scan(&sum)
	return sum, err
}

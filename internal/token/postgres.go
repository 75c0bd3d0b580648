package token

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. The active->rotated transition
// is a conditional UPDATE keyed by record id and current state, so the row
// lock serializes concurrent refreshes of the same token.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, rec *RefreshTokenRecord) error {
	var predecessor any
	if rec.PredecessorID != "" {
		predecessor = rec.PredecessorID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, org_id, role, family_id, state, token_hash, issued_at, expires_at, predecessor_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.UserID, rec.OrgID, rec.Role, rec.FamilyID, string(rec.State),
		rec.TokenHash, rec.IssuedAt, rec.ExpiresAt, predecessor,
	)
	return err
}

func (s *PGStore) Find(ctx context.Context, id string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, org_id, role, family_id, state, token_hash, issued_at, expires_at, rotated_at, predecessor_id
		 from refresh_tokens where id=$1`, id)
	var (
		rec         RefreshTokenRecord
		state       string
		rotatedAt   sql.NullTime
		predecessor sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.OrgID, &rec.Role, &rec.FamilyID, &state,
		&rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt, &rotatedAt, &predecessor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	rec.State = State(state)
	if rotatedAt.Valid {
		t := rotatedAt.Time
		rec.RotatedAt = &t
	}
	rec.PredecessorID = predecessor.String
	return &rec, nil
}

func (s *PGStore) Rotate(ctx context.Context, oldID string, at time.Time, successor *RefreshTokenRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`update refresh_tokens set state='rotated', rotated_at=$2 where id=$1 and state='active'`,
		oldID, at,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n != 1 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, org_id, role, family_id, state, token_hash, issued_at, expires_at, predecessor_id)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		successor.ID, successor.UserID, successor.OrgID, successor.Role, successor.FamilyID,
		string(successor.State), successor.TokenHash, successor.IssuedAt, successor.ExpiresAt, successor.PredecessorID,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PGStore) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set state='revoked' where family_id=$1 and state <> 'revoked'`,
		familyID,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

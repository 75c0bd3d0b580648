package token

import (
	"context"
	"time"
)

// Store persists refresh token records. Implementations must make Rotate a
// single conditional transition so that concurrent refreshes of the same
// record produce exactly one winner.
type Store interface {
	Create(ctx context.Context, rec *RefreshTokenRecord) error
	Find(ctx context.Context, id string) (*RefreshTokenRecord, error)
	// Rotate transitions the old record from active to rotated and inserts
	// its successor in one atomic step, only if the old record is currently
	// active. It reports whether this caller won the transition. Atomicity
	// matters: a concurrent family revocation must never interleave between
	// the transition and the successor insert.
	Rotate(ctx context.Context, oldID string, at time.Time, successor *RefreshTokenRecord) (bool, error)
	// RevokeFamily marks every non-revoked record in the family revoked and
	// returns the number of records touched.
	RevokeFamily(ctx context.Context, familyID string) (int64, error)
	// PurgeExpired deletes records whose expiry precedes the cutoff.
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

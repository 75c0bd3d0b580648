package token

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testRecord(id, familyID, predecessor string) *RefreshTokenRecord {
	now := time.Now().UTC()
	return &RefreshTokenRecord{
		ID:            id,
		UserID:        "u1",
		OrgID:         "o1",
		Role:          "user",
		FamilyID:      familyID,
		State:         StateActive,
		TokenHash:     "hash",
		IssuedAt:      now,
		ExpiresAt:     now.Add(time.Hour),
		PredecessorID: predecessor,
	}
}

func TestPGRotateWinner(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set state='rotated'").
		WithArgs("old-id", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("new-id", "u1", "o1", "user", "fam-1", "active", "hash", sqlmock.AnyArg(), sqlmock.AnyArg(), "old-id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	won, err := store.Rotate(context.Background(), "old-id", time.Now().UTC(), testRecord("new-id", "fam-1", "old-id"))
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if !won {
		t.Fatal("expected winning rotation")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRotateLoserDoesNotInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set state='rotated'").
		WithArgs("old-id", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	store := NewPGStore(db)
	won, err := store.Rotate(context.Background(), "old-id", time.Now().UTC(), testRecord("new-id", "fam-1", "old-id"))
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if won {
		t.Fatal("expected lost rotation")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRevokeFamily(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update refresh_tokens set state='revoked' where family_id").
		WithArgs("fam-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	store := NewPGStore(db)
	n, err := store.RevokeFamily(context.Background(), "fam-1")
	if err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked records, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

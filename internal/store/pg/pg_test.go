package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"accessgate.org/internal/authz"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestUserFind(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "status", "created_at", "updated_at"}).
		AddRow("u1", "alice@example.com", "hash", "active", now, now)
	mock.ExpectQuery("select id, email, password_hash, status, created_at, updated_at from users where id").
		WithArgs("u1").WillReturnRows(rows)

	u, err := store.Users(ctx).Find(ctx, "u1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u.Email != "alice@example.com" || !u.Active() {
		t.Fatalf("unexpected user: %+v", u)
	}

	mock.ExpectQuery("select id, email, password_hash, status, created_at, updated_at from users where id").
		WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.Users(ctx).Find(ctx, "ghost"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("missing user: got %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserSetStatus(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("update users set status").
		WithArgs("u1", "inactive").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Users(ctx).SetStatus(ctx, "u1", "inactive"); err != nil {
		t.Fatalf("set status: %v", err)
	}

	mock.ExpectExec("update users set status").
		WithArgs("ghost", "inactive").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Users(ctx).SetStatus(ctx, "ghost", "inactive"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("missing user: got %v, want ErrNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetForRoleRunsInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("delete from role_permissions where role_id").
		WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "documents:read").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_permissions").
		WithArgs("r1", "reports:read").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Permissions(ctx).SetForRole(ctx, "r1", []string{"documents:read", "reports:read"})
	if err != nil {
		t.Fatalf("set for role: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRotate(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("select subject, status from refresh_sessions where id=.* for update").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"subject", "status"}).AddRow("u1", "active"))
	mock.ExpectExec("update refresh_sessions set status").
		WithArgs("s1", authz.SessionRotated).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_sessions").
		WithArgs("s2", "u1", authz.SessionActive, "s1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	next, err := store.Sessions(ctx).Rotate(ctx, "s1", "s2", exp)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next.Subject != "u1" || next.SupersededID != "s1" || next.Status != authz.SessionActive {
		t.Fatalf("unexpected successor: %+v", next)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRotateSettled(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("select subject, status from refresh_sessions where id=.* for update").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"subject", "status"}).AddRow("u1", "rotated"))
	mock.ExpectRollback()

	_, err := store.Sessions(ctx).Rotate(ctx, "s1", "s2", time.Now().Add(time.Hour))
	if !errors.Is(err, authz.ErrSessionNotActive) {
		t.Fatalf("got %v, want ErrSessionNotActive", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRotateUnknown(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("select subject, status from refresh_sessions where id=.* for update").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"subject", "status"}))
	mock.ExpectRollback()

	_, err := store.Sessions(ctx).Rotate(ctx, "ghost", "s2", time.Now().Add(time.Hour))
	if !errors.Is(err, authz.ErrSessionNotFound) {
		t.Fatalf("got %v, want ErrSessionNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionRevokeDistinguishesMissingFromSettled(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()

	// Active session revokes in one statement.
	mock.ExpectExec("update refresh_sessions set status").
		WithArgs("s1", authz.SessionRevoked, authz.SessionActive).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Sessions(ctx).Revoke(ctx, "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// No row updated and no row found at all: not found.
	mock.ExpectExec("update refresh_sessions set status").
		WithArgs("ghost", authz.SessionRevoked, authz.SessionActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from refresh_sessions where id").
		WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"status"}))
	if err := store.Sessions(ctx).Revoke(ctx, "ghost"); !errors.Is(err, authz.ErrSessionNotFound) {
		t.Fatalf("missing: got %v, want ErrSessionNotFound", err)
	}

	// No row updated but the session exists: already settled.
	mock.ExpectExec("update refresh_sessions set status").
		WithArgs("s2", authz.SessionRevoked, authz.SessionActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select status from refresh_sessions where id").
		WithArgs("s2").WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("rotated"))
	if err := store.Sessions(ctx).Revoke(ctx, "s2"); !errors.Is(err, authz.ErrSessionNotActive) {
		t.Fatalf("settled: got %v, want ErrSessionNotActive", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionFind(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "subject", "status", "superseded_id", "issued_at", "expires_at"}).
		AddRow("s1", "u1", "active", "", now, now.Add(time.Hour))
	mock.ExpectQuery("select id, subject, status, coalesce").
		WithArgs("s1").WillReturnRows(rows)

	sess, err := store.Sessions(ctx).Find(ctx, "s1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if sess.Subject != "u1" || sess.SupersededID != "" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	mock.ExpectQuery("select id, subject, status, coalesce").
		WithArgs("ghost").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.Sessions(ctx).Find(ctx, "ghost"); !errors.Is(err, authz.ErrSessionNotFound) {
		t.Fatalf("missing: got %v, want ErrSessionNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

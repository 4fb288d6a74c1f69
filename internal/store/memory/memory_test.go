package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"accessgate.org/internal/authz"
)

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	users := New().Users(ctx)

	u := &authz.User{Email: "alice@example.com", PasswordHash: "x", Status: authz.UserStatusActive}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}

	dup := &authz.User{Email: "alice@example.com", PasswordHash: "y", Status: authz.UserStatusActive}
	if err := users.Create(ctx, dup); !errors.Is(err, authz.ErrConflict) {
		t.Fatalf("duplicate email: got %v, want ErrConflict", err)
	}

	got, err := users.FindByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("got id %q, want %q", got.ID, u.ID)
	}

	if err := users.SetStatus(ctx, u.ID, authz.UserStatusInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err = users.Find(ctx, u.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Active() {
		t.Fatal("user should be inactive")
	}

	if _, err := users.Find(ctx, "missing"); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("missing user: got %v, want ErrNotFound", err)
	}
}

func TestReturnedCopiesAreDetached(t *testing.T) {
	ctx := context.Background()
	store := New()
	users := store.Users(ctx)

	u := &authz.User{Email: "bob@example.com", Status: authz.UserStatusActive}
	if err := users.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := users.Find(ctx, u.ID)
	got.Status = authz.UserStatusInactive

	again, _ := users.Find(ctx, u.ID)
	if !again.Active() {
		t.Fatal("mutating a returned copy leaked into the store")
	}
}

func TestRolePermissions(t *testing.T) {
	ctx := context.Background()
	store := New()

	if err := store.Permissions(ctx).Ensure(ctx, authz.BuiltinPermissions); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	role := &authz.Role{Name: "reviewer"}
	if err := store.Roles(ctx).Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	keys := []string{authz.PermDocumentsRead, authz.PermReportsRead}
	if err := store.Permissions(ctx).SetForRole(ctx, role.ID, keys); err != nil {
		t.Fatalf("set for role: %v", err)
	}
	perms, err := store.Permissions(ctx).ForRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("for role: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("got %d permissions, want 2", len(perms))
	}
	// ForRole output is sorted by key.
	if perms[0].Key != authz.PermDocumentsRead || perms[1].Key != authz.PermReportsRead {
		t.Fatalf("unexpected keys: %q, %q", perms[0].Key, perms[1].Key)
	}
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	store := New()
	roles := store.Roles(ctx)

	role := &authz.Role{Name: "editor"}
	if err := roles.Create(ctx, role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := roles.Assign(ctx, authz.Assignment{UserID: "u1", RoleID: role.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// Re-assigning is a no-op, not an error.
	if err := roles.Assign(ctx, authz.Assignment{UserID: "u1", RoleID: role.ID}); err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	got, err := roles.Assignments(ctx, "u1")
	if err != nil {
		t.Fatalf("assignments: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d assignments, want 1", len(got))
	}
	if err := roles.Assign(ctx, authz.Assignment{UserID: "u1", RoleID: "ghost"}); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("assign unknown role: got %v, want ErrNotFound", err)
	}
	if err := roles.Unassign(ctx, "u1", role.ID); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if err := roles.Unassign(ctx, "u1", role.ID); !errors.Is(err, authz.ErrNotFound) {
		t.Fatalf("double unassign: got %v, want ErrNotFound", err)
	}
}

func TestSessionRotateAndRevoke(t *testing.T) {
	ctx := context.Background()
	sessions := New().Sessions(ctx)
	exp := time.Now().Add(time.Hour)

	sess := &authz.RefreshSession{ID: "s1", Subject: "u1", Status: authz.SessionActive, ExpiresAt: exp}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	next, err := sessions.Rotate(ctx, "s1", "s2", exp.Add(time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if next.SupersededID != "s1" || next.Status != authz.SessionActive {
		t.Fatalf("unexpected successor: %+v", next)
	}

	old, err := sessions.Find(ctx, "s1")
	if err != nil {
		t.Fatalf("find rotated: %v", err)
	}
	if old.Status != authz.SessionRotated {
		t.Fatalf("old session status %q, want rotated", old.Status)
	}

	// Replaying the rotated session must fail.
	if _, err := sessions.Rotate(ctx, "s1", "s3", exp); !errors.Is(err, authz.ErrSessionNotActive) {
		t.Fatalf("replay: got %v, want ErrSessionNotActive", err)
	}
	if _, err := sessions.Rotate(ctx, "ghost", "s4", exp); !errors.Is(err, authz.ErrSessionNotFound) {
		t.Fatalf("unknown session: got %v, want ErrSessionNotFound", err)
	}

	if err := sessions.Revoke(ctx, "s2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := sessions.Revoke(ctx, "s2"); !errors.Is(err, authz.ErrSessionNotActive) {
		t.Fatalf("double revoke: got %v, want ErrSessionNotActive", err)
	}
}

func TestConcurrentRotateExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	sessions := New().Sessions(ctx)
	exp := time.Now().Add(time.Hour)

	if err := sessions.Create(ctx, &authz.RefreshSession{
		ID: "s1", Subject: "u1", Status: authz.SessionActive, ExpiresAt: exp,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	const rotations = 32
	var wg sync.WaitGroup
	errs := make([]error, rotations)
	for i := 0; i < rotations; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = sessions.Rotate(ctx, "s1", "next-"+strconv.Itoa(i), exp)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, authz.ErrSessionNotActive):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d rotations won, want exactly 1", wins)
	}
}

func TestRevokeAllForSubject(t *testing.T) {
	ctx := context.Background()
	sessions := New().Sessions(ctx)
	exp := time.Now().Add(time.Hour)

	for _, id := range []string{"a", "b"} {
		if err := sessions.Create(ctx, &authz.RefreshSession{
			ID: id, Subject: "u1", Status: authz.SessionActive, ExpiresAt: exp,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := sessions.Create(ctx, &authz.RefreshSession{
		ID: "other", Subject: "u2", Status: authz.SessionActive, ExpiresAt: exp,
	}); err != nil {
		t.Fatalf("create other: %v", err)
	}

	if err := sessions.RevokeAllForSubject(ctx, "u1"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		sess, _ := sessions.Find(ctx, id)
		if sess.Status != authz.SessionRevoked {
			t.Fatalf("session %s status %q, want revoked", id, sess.Status)
		}
	}
	other, _ := sessions.Find(ctx, "other")
	if other.Status != authz.SessionActive {
		t.Fatal("unrelated subject's session was revoked")
	}
}

package authz_test

import (
	"context"
	"errors"
	"testing"

	"accessgate.org/internal/authz"
	"accessgate.org/internal/store/memory"
)

// catalogWithRoles seeds the builtin permissions and the given
// role-name -> permission-keys grants, returning the store and a
// name -> roleID map.
func catalogWithRoles(t *testing.T, grants map[string][]string) (*memory.Store, map[string]string) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	if err := store.Permissions(ctx).Ensure(ctx, authz.BuiltinPermissions); err != nil {
		t.Fatalf("ensure permissions: %v", err)
	}
	ids := make(map[string]string, len(grants))
	for name, keys := range grants {
		role := &authz.Role{Name: name}
		if err := store.Roles(ctx).Create(ctx, role); err != nil {
			t.Fatalf("create role %s: %v", name, err)
		}
		if err := store.Permissions(ctx).SetForRole(ctx, role.ID, keys); err != nil {
			t.Fatalf("grant role %s: %v", name, err)
		}
		ids[name] = role.ID
	}
	return store, ids
}

func TestResolveUnionsAcrossRoles(t *testing.T) {
	ctx := context.Background()
	store, ids := catalogWithRoles(t, map[string][]string{
		"user":      {authz.PermDocumentsRead, authz.PermReportsRead},
		"moderator": {authz.PermDocumentsRead, authz.PermDocumentsEdit, authz.PermReportsExport},
	})
	resolver, err := authz.NewResolver(store.Permissions(ctx))
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	userOnly, err := resolver.Resolve(ctx, []string{ids["user"]})
	if err != nil {
		t.Fatalf("resolve user: %v", err)
	}
	modOnly, err := resolver.Resolve(ctx, []string{ids["moderator"]})
	if err != nil {
		t.Fatalf("resolve moderator: %v", err)
	}
	both, err := resolver.Resolve(ctx, []string{ids["user"], ids["moderator"]})
	if err != nil {
		t.Fatalf("resolve both: %v", err)
	}

	// The combined set is exactly the union of the individual sets.
	want := make(map[string]struct{})
	for k := range userOnly {
		want[k] = struct{}{}
	}
	for k := range modOnly {
		want[k] = struct{}{}
	}
	if len(both) != len(want) {
		t.Fatalf("union size %d, want %d", len(both), len(want))
	}
	for k := range want {
		if _, ok := both[k]; !ok {
			t.Fatalf("union is missing %q", k)
		}
	}
}

func TestResolveIsOrderIndependent(t *testing.T) {
	ctx := context.Background()
	store, ids := catalogWithRoles(t, map[string][]string{
		"a": {authz.PermDocumentsRead},
		"b": {authz.PermReportsRead},
	})
	resolver, _ := authz.NewResolver(store.Permissions(ctx))

	forward, err := resolver.Resolve(ctx, []string{ids["a"], ids["b"]})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	backward, err := resolver.Resolve(ctx, []string{ids["b"], ids["a"], ids["a"]})
	if err != nil {
		t.Fatalf("resolve reversed: %v", err)
	}
	if len(forward) != len(backward) {
		t.Fatalf("sets differ: %d vs %d", len(forward), len(backward))
	}
	for k := range forward {
		if _, ok := backward[k]; !ok {
			t.Fatalf("reversed set is missing %q", k)
		}
	}
}

func TestResolveIgnoresUnknownRoles(t *testing.T) {
	ctx := context.Background()
	store, ids := catalogWithRoles(t, map[string][]string{
		"user": {authz.PermDocumentsRead},
	})
	resolver, _ := authz.NewResolver(store.Permissions(ctx))

	got, err := resolver.Resolve(ctx, []string{ids["user"], "deleted-role"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d permissions, want 1", len(got))
	}
	if _, ok := got[authz.PermDocumentsRead]; !ok {
		t.Fatal("known role's grant missing")
	}
}

func TestResolveEmptyRoleSet(t *testing.T) {
	ctx := context.Background()
	store, _ := catalogWithRoles(t, nil)
	resolver, _ := authz.NewResolver(store.Permissions(ctx))

	got, err := resolver.Resolve(ctx, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty role set resolved to %d permissions", len(got))
	}
	got, err = resolver.Resolve(ctx, []string{"", "  "})
	if err != nil {
		t.Fatalf("resolve blanks: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("blank role ids resolved to %d permissions", len(got))
	}
}

func TestResolveReturnsDetachedCopies(t *testing.T) {
	ctx := context.Background()
	store, ids := catalogWithRoles(t, map[string][]string{
		"user": {authz.PermDocumentsRead, authz.PermReportsRead},
	})
	resolver, _ := authz.NewResolver(store.Permissions(ctx))

	first, err := resolver.Resolve(ctx, []string{ids["user"]})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	delete(first, authz.PermDocumentsRead)

	second, err := resolver.Resolve(ctx, []string{ids["user"]})
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if _, ok := second[authz.PermDocumentsRead]; !ok {
		t.Fatal("mutating one result affected a later resolution")
	}
}

type ctxSensitivePerms struct {
	authz.PermissionStore
	inner authz.PermissionStore
}

func (c ctxSensitivePerms) ForRole(ctx context.Context, roleID string) ([]authz.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.inner.ForRole(ctx, roleID)
}

func TestResolveSurvivesCallerCancellation(t *testing.T) {
	ctx := context.Background()
	store, ids := catalogWithRoles(t, map[string][]string{
		"user": {authz.PermDocumentsRead},
	})
	resolver, _ := authz.NewResolver(ctxSensitivePerms{inner: store.Permissions(ctx)})

	// The catalog fetch may be shared with other callers, so one caller's
	// cancelled context must not decide the outcome.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	got, err := resolver.Resolve(cancelled, []string{ids["user"]})
	if err != nil {
		t.Fatalf("resolve under cancelled context: %v", err)
	}
	if _, ok := got[authz.PermDocumentsRead]; !ok {
		t.Fatal("grant missing from resolution")
	}
}

type failingPerms struct {
	authz.PermissionStore
	err error
}

func (f failingPerms) ForRole(context.Context, string) ([]authz.Permission, error) {
	return nil, f.err
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	boom := errors.New("catalog unavailable")
	resolver, _ := authz.NewResolver(failingPerms{err: boom})

	if _, err := resolver.Resolve(context.Background(), []string{"r1"}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped store error", err)
	}
}

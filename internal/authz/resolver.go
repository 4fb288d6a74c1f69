package authz

import (
	"context"
	"errors"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Resolver computes the effective permission set for a set of roles. The
// result is the union over all known roles; unknown role identifiers
// contribute nothing, so a role deleted after token issuance silently
// drops out of the set instead of failing the request.
type Resolver struct {
	perms PermissionStore
	group singleflight.Group
}

// NewResolver returns a Resolver over the given permission catalog.
func NewResolver(perms PermissionStore) (*Resolver, error) {
	if perms == nil {
		return nil, errors.New("authz: permission store is required")
	}
	return &Resolver{perms: perms}, nil
}

// Resolve returns the union of permission keys granted by the given
// roles. Deterministic and order-independent; concurrent resolutions of
// the same role set share one catalog fetch.
func (r *Resolver) Resolve(ctx context.Context, roleIDs []string) (map[string]struct{}, error) {
	ids := normalizeIDs(roleIDs)
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}

	// The flight is shared with concurrent callers, so it runs on a
	// context detached from the first caller. Cancelling one request must
	// not fail the lookup for everyone who joined it.
	fctx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(strings.Join(ids, ","), func() (any, error) {
		set := make(map[string]struct{})
		for _, id := range ids {
			perms, err := r.perms.ForRole(fctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return nil, err
			}
			for _, p := range perms {
				set[p.Key] = struct{}{}
			}
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}

	// The singleflight result is shared between callers; hand each its
	// own copy so one request cannot mutate another's view.
	shared := v.(map[string]struct{})
	set := make(map[string]struct{}, len(shared))
	for k := range shared {
		set[k] = struct{}{}
	}
	return set, nil
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

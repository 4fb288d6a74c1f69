package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accessgate.org/internal/token"
)

// RoleSource selects where the guard reads role assignments from.
type RoleSource string

const (
	// RoleSourceSnapshot trusts the role set embedded in the access
	// token. Cheapest: no extra lookup, but role changes are invisible
	// until the token expires.
	RoleSourceSnapshot RoleSource = "snapshot"

	// RoleSourceRefetch reads the current assignments on every decision,
	// so revoking a role takes effect immediately at the cost of one
	// store lookup per request.
	RoleSourceRefetch RoleSource = "refetch"
)

// Guard makes the request-time authorization decision: verify the access
// token, confirm the subject is still active, resolve the effective
// permission set and check the required permission.
type Guard struct {
	codec      *token.Codec
	store      Store
	resolver   *Resolver
	roleSource RoleSource
	log        *slog.Logger
}

// NewGuard constructs a Guard. roleSource must be one of
// RoleSourceSnapshot or RoleSourceRefetch; there is no hidden default.
func NewGuard(codec *token.Codec, store Store, resolver *Resolver, roleSource RoleSource, log *slog.Logger) (*Guard, error) {
	if codec == nil || store == nil || resolver == nil {
		return nil, errors.New("authz: codec, store and resolver are required")
	}
	switch roleSource {
	case RoleSourceSnapshot, RoleSourceRefetch:
	default:
		return nil, fmt.Errorf("authz: unknown role source %q", roleSource)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{codec: codec, store: store, resolver: resolver, roleSource: roleSource, log: log}, nil
}

// Authorize decides whether the bearer of rawToken may exercise
// requiredPermission. Authentication failures come back wrapping
// ErrUnauthenticated, missing permissions as ErrForbidden; the precise
// cause is logged but must not reach the transport response.
func (g *Guard) Authorize(ctx context.Context, rawToken, requiredPermission string) (Identity, error) {
	claims, err := g.codec.Verify(rawToken, token.KindAccess)
	if err != nil {
		g.log.DebugContext(ctx, "access token rejected", "cause", err)
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	// The user record is consulted on every decision regardless of role
	// source: a deactivated user must be shut out before their tokens
	// expire.
	user, err := g.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			g.log.DebugContext(ctx, "token subject unknown", "subject", claims.Subject)
			return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return Identity{}, err
	}
	if !user.Active() {
		g.log.InfoContext(ctx, "inactive user rejected", "subject", user.ID)
		return Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrUserInactive)
	}

	roleIDs := claims.Roles
	if g.roleSource == RoleSourceRefetch {
		assignments, err := g.store.Roles(ctx).Assignments(ctx, user.ID)
		if err != nil {
			return Identity{}, err
		}
		roleIDs = make([]string, 0, len(assignments))
		for _, a := range assignments {
			roleIDs = append(roleIDs, a.RoleID)
		}
	}

	perms, err := g.resolver.Resolve(ctx, roleIDs)
	if err != nil {
		return Identity{}, err
	}

	identity := Identity{Subject: user.ID, Roles: roleIDs, Permissions: perms}
	if requiredPermission != "" && !identity.HasPermission(requiredPermission) {
		g.log.DebugContext(ctx, "permission denied",
			"subject", user.ID, "permission", requiredPermission)
		return Identity{}, fmt.Errorf("%w: %s", ErrForbidden, requiredPermission)
	}
	return identity, nil
}

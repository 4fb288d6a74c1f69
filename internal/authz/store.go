package authz

import (
	"context"
	"time"
)

// Store describes persistence required by the authorization engine.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Sessions(ctx context.Context) SessionStore
}

// UserStore manages user records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	SetStatus(ctx context.Context, id, status string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RoleStore manages roles and user-role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Assign(ctx context.Context, assignment Assignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
}

// PermissionStore manages the permission catalog and role grants.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	SetForRole(ctx context.Context, roleID string, keys []string) error
	ForRole(ctx context.Context, roleID string) ([]Permission, error)
}

// SessionStore manages refresh session lifecycle. Rotate must be atomic:
// of two concurrent rotations of the same active session exactly one
// succeeds, the other observes ErrSessionNotActive.
type SessionStore interface {
	Create(ctx context.Context, s *RefreshSession) error
	Find(ctx context.Context, id string) (*RefreshSession, error)

	// Rotate marks the session rotated and inserts a new active session
	// linked to it, as one atomic unit. Returns ErrSessionNotFound when
	// the id is unknown and ErrSessionNotActive when the session was
	// already rotated or revoked (the replay-detection path).
	Rotate(ctx context.Context, id, newID string, newExpiresAt time.Time) (*RefreshSession, error)

	// Revoke transitions an active session to revoked. Revoking a
	// non-active session returns ErrSessionNotActive.
	Revoke(ctx context.Context, id string) error

	// RevokeAllForSubject revokes every active session of the subject.
	RevokeAllForSubject(ctx context.Context, subject string) error
}

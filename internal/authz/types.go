package authz

import "time"

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// User is a human or service account. Users are never deleted, only
// flagged inactive.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Active reports whether the user may authenticate.
func (u User) Active() bool { return u.Status == UserStatusActive }

// Role groups permissions. Roles are flat, no inheritance.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission names a single (resource, action) pair.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Assignment links a user to a role.
type Assignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Refresh session statuses. Rotated and revoked are terminal.
const (
	SessionActive  = "active"
	SessionRotated = "rotated"
	SessionRevoked = "revoked"
)

// RefreshSession is the persisted record behind a refresh token. The ID
// matches the token's jti claim. SupersededID points at the session this
// one replaced, preserving the rotation audit chain.
type RefreshSession struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Status       string    `json:"status"`
	SupersededID string    `json:"superseded_id,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenPair carries freshly issued access and refresh tokens.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

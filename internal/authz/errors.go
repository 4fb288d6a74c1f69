package authz

import "errors"

var (
	ErrNotFound     = errors.New("authz: not found")
	ErrConflict     = errors.New("authz: already exists")
	ErrInvalidInput = errors.New("authz: invalid input")

	// ErrUnauthenticated covers every authentication-stage failure: bad
	// credentials, unverifiable tokens, inactive users. Callers map it to
	// a single response so the transport never reveals which check failed.
	ErrUnauthenticated = errors.New("authz: unauthenticated")

	// ErrForbidden means the caller authenticated but lacks the required
	// permission.
	ErrForbidden = errors.New("authz: forbidden")

	// ErrUserInactive marks a structurally valid token whose subject has
	// been deactivated. Always surfaced wrapped in ErrUnauthenticated.
	ErrUserInactive = errors.New("authz: user inactive")

	ErrSessionNotFound  = errors.New("authz: refresh session not found")
	ErrSessionNotActive = errors.New("authz: refresh session not active")
)

package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"accessgate.org/internal/ids"
	"accessgate.org/internal/token"
)

const defaultRegistrationRole = "user"

// Service provides login, token rotation and role management on top of
// the store, the token codec and the resolver.
type Service struct {
	store    Store
	codec    *token.Codec
	resolver *Resolver
	now      func() time.Time
	log      *slog.Logger
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, codec *token.Codec, resolver *Resolver, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil || resolver == nil {
		return nil, errors.New("authz: store, codec and resolver are required")
	}
	s := &Service{
		store:    store,
		codec:    codec,
		resolver: resolver,
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins seeds the permission catalog.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions)
}

// Login authenticates credentials and issues a fresh token pair. Every
// credential failure collapses into ErrUnauthenticated so the response
// cannot be used to probe which check failed.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, ErrUnauthenticated
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUnauthenticated
		}
		return TokenPair{}, err
	}
	if !user.Active() {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrUserInactive)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, ErrUnauthenticated
	}

	roleIDs, err := s.roleIDs(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	pair, err := s.mintPair(ctx, user.ID, roleIDs, "")
	if err != nil {
		return TokenPair{}, err
	}

	perms, err := s.resolver.Resolve(ctx, roleIDs)
	if err == nil {
		s.log.InfoContext(ctx, "login", "subject", user.ID, "roles", len(roleIDs), "permissions", len(perms))
	}
	return pair, nil
}

// Refresh rotates the presented refresh token and mints a new pair. A
// token whose session was already rotated or revoked is a replay and
// fails with ErrSessionNotActive no matter how valid its signature is.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (TokenPair, error) {
	claims, err := s.codec.Verify(rawRefresh, token.KindRefresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return TokenPair{}, err
	}
	if !user.Active() {
		return TokenPair{}, fmt.Errorf("%w: %w", ErrUnauthenticated, ErrUserInactive)
	}

	roleIDs, err := s.roleIDs(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return s.mintPair(ctx, user.ID, roleIDs, claims.ID)
}

// Logout revokes the session behind the refresh token. Revoking a
// session that is already rotated or revoked is treated as success, so
// repeated logouts are harmless.
func (s *Service) Logout(ctx context.Context, rawRefresh string) error {
	claims, err := s.codec.Verify(rawRefresh, token.KindRefresh)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	err = s.store.Sessions(ctx).Revoke(ctx, claims.ID)
	if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionNotActive) {
		s.log.DebugContext(ctx, "logout on settled session", "session", claims.ID)
		return nil
	}
	return err
}

// Register creates an active user with the default role.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := CheckPasswordStrength(password); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	role, err := s.store.Roles(ctx).FindByName(ctx, defaultRegistrationRole)
	if err != nil {
		return nil, fmt.Errorf("default role %q: %w", defaultRegistrationRole, err)
	}

	user := &User{ID: ids.New(), Email: email, PasswordHash: hash, Status: UserStatusActive}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.store.Roles(ctx).Assign(ctx, Assignment{UserID: user.ID, RoleID: role.ID}); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user registered", "subject", user.ID)
	return user, nil
}

// GetUser returns a user record together with their assigned roles.
func (s *Service) GetUser(ctx context.Context, userID string) (*User, []*Role, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	assignments, err := s.store.Roles(ctx).Assignments(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	roles := make([]*Role, 0, len(assignments))
	for _, a := range assignments {
		role, err := s.store.Roles(ctx).Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		roles = append(roles, role)
	}
	return user, roles, nil
}

// ChangePassword verifies the current password, stores the new hash and
// revokes every refresh session of the subject, so refresh tokens minted
// under the old password stop working immediately.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrUnauthenticated
	}
	if err := CheckPasswordStrength(next); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.store.Sessions(ctx).RevokeAllForSubject(ctx, userID); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "password changed", "subject", userID)
	return nil
}

// SystemStats summarizes account and catalog counts.
type SystemStats struct {
	Users         int `json:"users"`
	ActiveUsers   int `json:"active_users"`
	InactiveUsers int `json:"inactive_users"`
	Roles         int `json:"roles"`
	Permissions   int `json:"permissions"`
}

// Stats gathers system statistics for the admin surface.
func (s *Service) Stats(ctx context.Context) (SystemStats, error) {
	users, err := s.store.Users(ctx).List(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	roles, err := s.store.Roles(ctx).List(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	perms, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return SystemStats{}, err
	}
	stats := SystemStats{Users: len(users), Roles: len(roles), Permissions: len(perms)}
	for _, u := range users {
		if u.Active() {
			stats.ActiveUsers++
		} else {
			stats.InactiveUsers++
		}
	}
	return stats, nil
}

// DeactivateUser flags the user inactive and revokes all of their active
// refresh sessions. The record itself is kept.
func (s *Service) DeactivateUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if err := s.store.Users(ctx).SetStatus(ctx, userID, UserStatusInactive); err != nil {
		return err
	}
	if err := s.store.Sessions(ctx).RevokeAllForSubject(ctx, userID); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "user deactivated", "subject", userID)
	return nil
}

// CreateRole adds a role to the catalog.
func (s *Service) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role := &Role{ID: ids.New(), Name: name, Description: strings.TrimSpace(description)}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// SetRolePermissions replaces the permission grants of a role. Unknown
// permission keys are rejected to keep the catalog closed.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, keys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	known, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return err
	}
	valid := make(map[string]struct{}, len(known))
	for _, p := range known {
		valid[p.Key] = struct{}{}
	}
	deduped := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := valid[key]; !ok {
			return fmt.Errorf("%w: unknown permission %q", ErrInvalidInput, key)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, key)
	}
	return s.store.Permissions(ctx).SetForRole(ctx, roleID, deduped)
}

// AssignRole grants a role to a user.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if _, err := s.store.Users(ctx).Find(ctx, userID); err != nil {
		return err
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return err
	}
	return s.store.Roles(ctx).Assign(ctx, Assignment{UserID: userID, RoleID: roleID})
}

// RemoveRole revokes a role from a user. A user always keeps at least
// one role, so removing the last assignment is refused.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID string) error {
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	assignments, err := s.store.Roles(ctx).Assignments(ctx, userID)
	if err != nil {
		return err
	}
	if len(assignments) <= 1 {
		return fmt.Errorf("%w: user must keep at least one role", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Unassign(ctx, userID, roleID)
}

// ListUsers returns all user records.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	return s.store.Users(ctx).List(ctx)
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions(ctx).List(ctx)
}

// CheckPermission reports whether the user may perform action on
// resource, along with their full effective permission set.
func (s *Service) CheckPermission(ctx context.Context, userID, resource, action string) (bool, []string, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return false, nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	roleIDs, err := s.roleIDs(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	perms, err := s.resolver.Resolve(ctx, roleIDs)
	if err != nil {
		return false, nil, err
	}
	key := PermissionKey(resource, action)
	_, allowed := perms[key]
	list := make([]string, 0, len(perms))
	for k := range perms {
		list = append(list, k)
	}
	return allowed, list, nil
}

func (s *Service) roleIDs(ctx context.Context, userID string) ([]string, error) {
	assignments, err := s.store.Roles(ctx).Assignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.RoleID)
	}
	return ids, nil
}

// mintPair issues an access+refresh pair. With supersededID set the new
// session is created by atomically rotating the old one; otherwise a
// fresh lineage starts. The refresh token is signed before the session
// write: if the write fails the token is never stored and therefore can
// never be redeemed.
func (s *Service) mintPair(ctx context.Context, subject string, roleIDs []string, supersededID string) (TokenPair, error) {
	access, accessClaims, err := s.codec.Issue(subject, token.KindAccess, roleIDs)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshClaims, err := s.codec.Issue(subject, token.KindRefresh, nil)
	if err != nil {
		return TokenPair{}, err
	}

	sessions := s.store.Sessions(ctx)
	if supersededID != "" {
		if _, err := sessions.Rotate(ctx, supersededID, refreshClaims.ID, refreshClaims.ExpiresAt.Time); err != nil {
			return TokenPair{}, err
		}
	} else {
		err := sessions.Create(ctx, &RefreshSession{
			ID:        refreshClaims.ID,
			Subject:   subject,
			Status:    SessionActive,
			IssuedAt:  refreshClaims.IssuedAt.Time,
			ExpiresAt: refreshClaims.ExpiresAt.Time,
		})
		if err != nil {
			return TokenPair{}, err
		}
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// Package memory provides an in-process implementation of authz.Store.
// It backs tests and single-node development setups; the rotation CAS is
// pinned by one mutex, which stands in for the transactional guarantee a
// real database gives the Postgres and Redis stores.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"accessgate.org/internal/authz"
	"accessgate.org/internal/ids"
)

type Store struct {
	mu          sync.Mutex
	users       map[string]*authz.User
	usersByMail map[string]string
	roles       map[string]*authz.Role
	rolesByName map[string]string
	perms       map[string]authz.Permission
	rolePerms   map[string]map[string]struct{}
	assignments map[string]map[string]time.Time
	sessions    map[string]*authz.RefreshSession
	now         func() time.Time
}

var _ authz.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]*authz.User),
		usersByMail: make(map[string]string),
		roles:       make(map[string]*authz.Role),
		rolesByName: make(map[string]string),
		perms:       make(map[string]authz.Permission),
		rolePerms:   make(map[string]map[string]struct{}),
		assignments: make(map[string]map[string]time.Time),
		sessions:    make(map[string]*authz.RefreshSession),
		now:         time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Store) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *Store) Users(context.Context) authz.UserStore             { return (*userStore)(s) }
func (s *Store) Roles(context.Context) authz.RoleStore             { return (*roleStore)(s) }
func (s *Store) Permissions(context.Context) authz.PermissionStore { return (*permStore)(s) }
func (s *Store) Sessions(context.Context) authz.SessionStore       { return (*sessionStore)(s) }

// User store ---------------------------------------------------------------

type userStore Store

func (s *userStore) Create(_ context.Context, u *authz.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, exists := s.usersByMail[u.Email]; exists {
		return authz.ErrConflict
	}
	u.CreatedAt = s.now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	s.users[u.ID] = &cp
	s.usersByMail[u.Email] = u.ID
	return nil
}

func (s *userStore) Find(_ context.Context, id string) (*authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *userStore) FindByEmail(_ context.Context, email string) (*authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usersByMail[strings.ToLower(email)]
	if !ok {
		return nil, authz.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *userStore) List(_ context.Context) ([]*authz.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*authz.User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *userStore) SetStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return authz.ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *userStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return authz.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = s.now().UTC()
	return nil
}

// Role store ---------------------------------------------------------------

type roleStore Store

func (s *roleStore) Create(_ context.Context, role *authz.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	if _, exists := s.rolesByName[role.Name]; exists {
		return authz.ErrConflict
	}
	role.CreatedAt = s.now().UTC()
	role.UpdatedAt = role.CreatedAt
	cp := *role
	s.roles[role.ID] = &cp
	s.rolesByName[role.Name] = role.ID
	return nil
}

func (s *roleStore) Find(_ context.Context, id string) (*authz.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, authz.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *roleStore) FindByName(_ context.Context, name string) (*authz.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.rolesByName[strings.ToLower(name)]
	if !ok {
		return nil, authz.ErrNotFound
	}
	cp := *s.roles[id]
	return &cp, nil
}

func (s *roleStore) List(_ context.Context) ([]*authz.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*authz.Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *roleStore) Assign(_ context.Context, a authz.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[a.RoleID]; !ok {
		return authz.ErrNotFound
	}
	if s.assignments[a.UserID] == nil {
		s.assignments[a.UserID] = make(map[string]time.Time)
	}
	if _, dup := s.assignments[a.UserID][a.RoleID]; !dup {
		s.assignments[a.UserID][a.RoleID] = s.now().UTC()
	}
	return nil
}

func (s *roleStore) Unassign(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[userID][roleID]; !ok {
		return authz.ErrNotFound
	}
	delete(s.assignments[userID], roleID)
	return nil
}

func (s *roleStore) Assignments(_ context.Context, userID string) ([]authz.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authz.Assignment, 0, len(s.assignments[userID]))
	for roleID, at := range s.assignments[userID] {
		out = append(out, authz.Assignment{UserID: userID, RoleID: roleID, CreatedAt: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

// Permission store ----------------------------------------------------------

type permStore Store

func (s *permStore) Ensure(_ context.Context, perms []authz.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range perms {
		if _, exists := s.perms[p.Key]; exists {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		p.CreatedAt = s.now().UTC()
		s.perms[p.Key] = p
	}
	return nil
}

func (s *permStore) List(_ context.Context) ([]authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authz.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *permStore) SetForRole(_ context.Context, roleID string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return authz.ErrNotFound
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, known := s.perms[k]; known {
			set[k] = struct{}{}
		}
	}
	s.rolePerms[roleID] = set
	return nil
}

func (s *permStore) ForRole(_ context.Context, roleID string) ([]authz.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, authz.ErrNotFound
	}
	out := make([]authz.Permission, 0, len(s.rolePerms[roleID]))
	for key := range s.rolePerms[roleID] {
		out = append(out, s.perms[key])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Session store --------------------------------------------------------------

type sessionStore Store

func (s *sessionStore) Create(_ context.Context, sess *authz.RefreshSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return authz.ErrConflict
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *sessionStore) Find(_ context.Context, id string) (*authz.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, authz.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// Rotate performs the status transition and the insert of the successor
// under one lock acquisition, so two concurrent rotations of the same
// session cannot both observe it active.
func (s *sessionStore) Rotate(_ context.Context, id, newID string, newExpiresAt time.Time) (*authz.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.sessions[id]
	if !ok {
		return nil, authz.ErrSessionNotFound
	}
	if old.Status != authz.SessionActive {
		return nil, authz.ErrSessionNotActive
	}
	old.Status = authz.SessionRotated
	next := &authz.RefreshSession{
		ID:           newID,
		Subject:      old.Subject,
		Status:       authz.SessionActive,
		SupersededID: old.ID,
		IssuedAt:     s.now().UTC(),
		ExpiresAt:    newExpiresAt,
	}
	s.sessions[newID] = next
	cp := *next
	return &cp, nil
}

func (s *sessionStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return authz.ErrSessionNotFound
	}
	if sess.Status != authz.SessionActive {
		return authz.ErrSessionNotActive
	}
	sess.Status = authz.SessionRevoked
	return nil
}

func (s *sessionStore) RevokeAllForSubject(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Subject == subject && sess.Status == authz.SessionActive {
			sess.Status = authz.SessionRevoked
		}
	}
	return nil
}

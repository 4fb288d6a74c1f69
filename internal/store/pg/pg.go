// Package pg implements authz.Store on PostgreSQL. Rotation of refresh
// sessions relies on row locking inside a single transaction, which is
// the one synchronization point the engine needs.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"accessgate.org/internal/authz"
	"accessgate.org/internal/ids"
)

type Store struct {
	db *sql.DB
}

var _ authz.Store = (*Store)(nil)

// Open connects to PostgreSQL with pool defaults tuned for the API
// server workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(context.Context) authz.UserStore             { return &userStore{db: s.db} }
func (s *Store) Roles(context.Context) authz.RoleStore             { return &roleStore{db: s.db} }
func (s *Store) Permissions(context.Context) authz.PermissionStore { return &permStore{db: s.db} }
func (s *Store) Sessions(context.Context) authz.SessionStore       { return &sessionStore{db: s.db} }

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *authz.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, status) values($1,$2,$3,$4)`,
		u.ID, u.Email, u.PasswordHash, u.Status,
	)
	return err
}

const userColumns = `id, email, password_hash, status, created_at, updated_at`

func scanUser(row *sql.Row) (*authz.User, error) {
	var u authz.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*authz.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*authz.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) List(ctx context.Context) ([]*authz.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*authz.User
	for rows.Next() {
		var u authz.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *userStore) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status=$2, updated_at=now() where id=$1`, id, status)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Role store ---------------------------------------------------------------

type roleStore struct{ db *sql.DB }

const roleColumns = `id, name, description, created_at, updated_at`

func (s *roleStore) Create(ctx context.Context, role *authz.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into roles(id, name, description) values($1,$2,$3)`,
		role.ID, role.Name, role.Description,
	)
	return err
}

func scanRole(row *sql.Row) (*authz.Role, error) {
	var r authz.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *roleStore) Find(ctx context.Context, id string) (*authz.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, id))
}

func (s *roleStore) FindByName(ctx context.Context, name string) (*authz.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where name=$1`, name))
}

func (s *roleStore) List(ctx context.Context) ([]*authz.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*authz.Role
	for rows.Next() {
		var r authz.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

func (s *roleStore) Assign(ctx context.Context, a authz.Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`insert into user_roles(user_id, role_id) values($1,$2) on conflict do nothing`,
		a.UserID, a.RoleID,
	)
	return err
}

func (s *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`, userID, roleID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *roleStore) Assignments(ctx context.Context, userID string) ([]authz.Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`select user_id, role_id, created_at from user_roles where user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []authz.Assignment
	for rows.Next() {
		var a authz.Assignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Permission store ----------------------------------------------------------

type permStore struct{ db *sql.DB }

func (s *permStore) Ensure(ctx context.Context, perms []authz.Permission) error {
	for _, p := range perms {
		if p.ID == "" {
			p.ID = ids.New()
		}
		_, err := s.db.ExecContext(ctx,
			`insert into permissions(id, key, description) values($1,$2,$3) on conflict (key) do nothing`,
			p.ID, p.Key, p.Description,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *permStore) List(ctx context.Context) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, key, description, created_at from permissions order by key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func (s *permStore) SetForRole(ctx context.Context, roleID string, keys []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id=$1`, roleID); err != nil {
		return err
	}
	for _, key := range keys {
		_, err := tx.ExecContext(ctx,
			`insert into role_permissions(role_id, permission_id)
			 select $1, id from permissions where key=$2`, roleID, key,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *permStore) ForRole(ctx context.Context, roleID string) ([]authz.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select p.id, p.key, p.description, p.created_at from permissions p
		 join role_permissions rp on rp.permission_id=p.id where rp.role_id=$1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func collectPermissions(rows *sql.Rows) ([]authz.Permission, error) {
	var perms []authz.Permission
	for rows.Next() {
		var p authz.Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Session store --------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

func (s *sessionStore) Create(ctx context.Context, sess *authz.RefreshSession) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_sessions(id, subject, status, superseded_id, issued_at, expires_at)
		 values($1,$2,$3,nullif($4,''),$5,$6)`,
		sess.ID, sess.Subject, sess.Status, sess.SupersededID, sess.IssuedAt, sess.ExpiresAt,
	)
	return err
}

func (s *sessionStore) Find(ctx context.Context, id string) (*authz.RefreshSession, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, subject, status, coalesce(superseded_id,''), issued_at, expires_at
		 from refresh_sessions where id=$1`, id)
	var sess authz.RefreshSession
	err := row.Scan(&sess.ID, &sess.Subject, &sess.Status, &sess.SupersededID, &sess.IssuedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Rotate locks the session row, verifies it is still active, marks it
// rotated and inserts the successor, all in one transaction. Of two
// concurrent rotations one blocks on the row lock and then observes the
// rotated status.
func (s *sessionStore) Rotate(ctx context.Context, id, newID string, newExpiresAt time.Time) (*authz.RefreshSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var subject, status string
	err = tx.QueryRowContext(ctx,
		`select subject, status from refresh_sessions where id=$1 for update`, id,
	).Scan(&subject, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, authz.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != authz.SessionActive {
		return nil, authz.ErrSessionNotActive
	}

	if _, err := tx.ExecContext(ctx,
		`update refresh_sessions set status=$2 where id=$1`, id, authz.SessionRotated); err != nil {
		return nil, err
	}

	next := &authz.RefreshSession{
		ID:           newID,
		Subject:      subject,
		Status:       authz.SessionActive,
		SupersededID: id,
		IssuedAt:     time.Now().UTC(),
		ExpiresAt:    newExpiresAt,
	}
	if _, err := tx.ExecContext(ctx,
		`insert into refresh_sessions(id, subject, status, superseded_id, issued_at, expires_at)
		 values($1,$2,$3,$4,$5,$6)`,
		next.ID, next.Subject, next.Status, next.SupersededID, next.IssuedAt, next.ExpiresAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *sessionStore) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update refresh_sessions set status=$2 where id=$1 and status=$3`,
		id, authz.SessionRevoked, authz.SessionActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	// Distinguish a missing session from a settled one.
	var status string
	err = s.db.QueryRowContext(ctx,
		`select status from refresh_sessions where id=$1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return authz.ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return authz.ErrSessionNotActive
}

func (s *sessionStore) RevokeAllForSubject(ctx context.Context, subject string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_sessions set status=$2 where subject=$1 and status=$3`,
		subject, authz.SessionRevoked, authz.SessionActive)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

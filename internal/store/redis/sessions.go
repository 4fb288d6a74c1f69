// Package redis implements authz.SessionStore on Redis for deployments
// that keep refresh sessions out of the relational store. The rotate and
// revoke transitions run as Lua scripts, so the status check and the
// status write are one atomic step on the server.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"accessgate.org/internal/authz"
)

const (
	sessionKeyPrefix = "rs:"
	subjectKeyPrefix = "rs:subject:"

	// Settled sessions are kept around past their expiry so a replayed
	// token is answered with "not active" rather than "not found" while
	// its signature is still valid.
	settledRetention = 24 * time.Hour
)

const (
	luaNotFound  = 0
	luaNotActive = 1
	luaOK        = 2
)

var rotateScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return {0}
end
if status ~= "active" then
  return {1}
end
redis.call("HSET", KEYS[1], "status", "rotated")
local subject = redis.call("HGET", KEYS[1], "subject")
redis.call("HSET", KEYS[2],
  "subject", subject,
  "status", "active",
  "superseded", ARGV[1],
  "issued_at", ARGV[2],
  "expires_at", ARGV[3])
redis.call("EXPIREAT", KEYS[2], tonumber(ARGV[4]))
return {2, subject}
`)

var revokeScript = redis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return 0
end
if status ~= "active" then
  return 1
end
redis.call("HSET", KEYS[1], "status", "revoked")
return 2
`)

// SessionStore persists refresh sessions in Redis.
type SessionStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ authz.SessionStore = (*SessionStore)(nil)

// NewSessionStore wraps a connected client.
func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client, now: time.Now}
}

func sessionKey(id string) string      { return sessionKeyPrefix + id }
func subjectKey(subject string) string { return subjectKeyPrefix + subject }

func (s *SessionStore) Create(ctx context.Context, sess *authz.RefreshSession) error {
	key := sessionKey(sess.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"subject", sess.Subject,
		"status", sess.Status,
		"superseded", sess.SupersededID,
		"issued_at", sess.IssuedAt.Unix(),
		"expires_at", sess.ExpiresAt.Unix(),
	)
	pipe.ExpireAt(ctx, key, sess.ExpiresAt.Add(settledRetention))
	pipe.SAdd(ctx, subjectKey(sess.Subject), sess.ID)
	// The newest session expires last, so its deadline bounds the whole
	// index. Without this the per-subject set would outlive its members.
	pipe.ExpireAt(ctx, subjectKey(sess.Subject), sess.ExpiresAt.Add(settledRetention))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Find(ctx context.Context, id string) (*authz.RefreshSession, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, authz.ErrSessionNotFound
	}
	issued, _ := strconv.ParseInt(fields["issued_at"], 10, 64)
	expires, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	return &authz.RefreshSession{
		ID:           id,
		Subject:      fields["subject"],
		Status:       fields["status"],
		SupersededID: fields["superseded"],
		IssuedAt:     time.Unix(issued, 0).UTC(),
		ExpiresAt:    time.Unix(expires, 0).UTC(),
	}, nil
}

func (s *SessionStore) Rotate(ctx context.Context, id, newID string, newExpiresAt time.Time) (*authz.RefreshSession, error) {
	now := s.now().UTC()
	res, err := rotateScript.Run(ctx, s.client,
		[]string{sessionKey(id), sessionKey(newID)},
		id,
		now.Unix(),
		newExpiresAt.Unix(),
		newExpiresAt.Add(settledRetention).Unix(),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, errors.New("redis: empty rotate reply")
	}
	code, ok := res[0].(int64)
	if !ok {
		return nil, errors.New("redis: unexpected rotate reply")
	}
	switch code {
	case luaNotFound:
		return nil, authz.ErrSessionNotFound
	case luaNotActive:
		return nil, authz.ErrSessionNotActive
	}
	if len(res) < 2 {
		return nil, errors.New("redis: truncated rotate reply")
	}
	subject, _ := res[1].(string)

	// Track the successor under its subject for bulk revocation. The
	// subject is only known after the script reads the old session, so
	// this index write happens after the transition commits; a crash in
	// between leaves an unindexed active session, caught by key expiry.
	next := &authz.RefreshSession{
		ID:           newID,
		Subject:      subject,
		Status:       authz.SessionActive,
		SupersededID: id,
		IssuedAt:     now,
		ExpiresAt:    newExpiresAt,
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, subjectKey(subject), newID)
	pipe.SRem(ctx, subjectKey(subject), id)
	pipe.ExpireAt(ctx, subjectKey(subject), newExpiresAt.Add(settledRetention))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *SessionStore) Revoke(ctx context.Context, id string) error {
	code, err := revokeScript.Run(ctx, s.client, []string{sessionKey(id)}).Int64()
	if err != nil {
		return err
	}
	switch code {
	case luaNotFound:
		return authz.ErrSessionNotFound
	case luaNotActive:
		return authz.ErrSessionNotActive
	}
	return nil
}

func (s *SessionStore) RevokeAllForSubject(ctx context.Context, subject string) error {
	members, err := s.client.SMembers(ctx, subjectKey(subject)).Result()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	for _, id := range members {
		if err := s.Revoke(ctx, id); err != nil {
			if errors.Is(err, authz.ErrSessionNotFound) || errors.Is(err, authz.ErrSessionNotActive) {
				continue
			}
			return err
		}
	}
	// Every listed session is settled or gone now, so the index entries
	// serve no further bulk revocation and can be pruned.
	settled := make([]any, len(members))
	for i, id := range members {
		settled[i] = id
	}
	return s.client.SRem(ctx, subjectKey(subject), settled...).Err()
}

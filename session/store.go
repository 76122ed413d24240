package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session exists under the id.
	ErrNotFound = errors.New("session not found")
	// ErrIDReused is returned when saving over a terminated or expired
	// session id. Terminal states are not re-enterable.
	ErrIDReused = errors.New("session id already terminated")
	// ErrBackend wraps store connectivity failures.
	ErrBackend = errors.New("session backend unavailable")
)

// Save refuses ids with a tombstone, keeping terminated ids unusable for
// as long as the tombstone lives.
const saveSessionScript = `
if redis.call("EXISTS", KEYS[3]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("SADD", KEYS[2], ARGV[2])
return 1
`

// Delete removes the session and its index entry and drops a tombstone in
// one atomic step, so no observer sees a terminated session without its
// tombstone.
const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
redis.call("SET", KEYS[3], "1", "PX", ARGV[2])
return existed
`

var (
	saveSessionLua   = redis.NewScript(saveSessionScript)
	deleteSessionLua = redis.NewScript(deleteSessionScript)
)

// Store is the Redis-backed session store. It keeps a per-user session-id
// set as the index structure for cap enforcement and logout-all.
type Store struct {
	redis        redis.UniversalClient
	prefix       string
	tombstoneTTL time.Duration
}

func NewStore(client redis.UniversalClient, prefix string, tombstoneTTL time.Duration) *Store {
	if prefix == "" {
		prefix = "as"
	}
	if tombstoneTTL <= 0 {
		tombstoneTTL = 24 * time.Hour
	}
	return &Store{redis: client, prefix: prefix, tombstoneTTL: tombstoneTTL}
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.prefix + ":" + normalizeTenant(tenantID) + ":" + sessionID
}

func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + "u:" + normalizeTenant(tenantID) + ":" + userID
}

func (s *Store) tombstoneKey(sessionID string) string { return s.prefix + "x:" + sessionID }

func (s *Store) cooldownKey(sessionID string) string { return s.prefix + "r:" + sessionID }

func normalizeTenant(tenantID string) string {
	if tenantID == "" {
		return "0"
	}
	return tenantID
}

// Save persists a session with the given TTL and indexes it under its user.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	sess.SchemaVersion = currentSchemaVersion
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	res, err := saveSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sess.TenantID, sess.ID), s.userKey(sess.TenantID, sess.UserID), s.tombstoneKey(sess.ID)},
		data,
		sess.ID,
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if res == 0 {
		return ErrIDReused
	}
	return nil
}

// Get fetches a session without mutating any state. Expiry is enforced by
// the caller so it can distinguish expired from missing.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	sess := &Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session: %v", ErrBackend, err)
	}
	return sess, nil
}

// Update rewrites a session preserving its remaining TTL.
func (s *Store) Update(ctx context.Context, sess *Session) error {
	key := s.key(sess.TenantID, sess.ID)
	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if pttl <= 0 {
		return ErrNotFound
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, data, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// UpdateWithTTL rewrites a session and resets its TTL, used on renewal.
func (s *Store) UpdateWithTTL(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(sess.TenantID, sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Delete removes the session, de-indexes it, and tombstones the id.
func (s *Store) Delete(ctx context.Context, tenantID, userID, sessionID string) error {
	_, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(tenantID, sessionID), s.userKey(tenantID, userID), s.tombstoneKey(sessionID)},
		sessionID,
		s.tombstoneTTL.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// IDsForUser returns the indexed session ids for a user.
func (s *Store) IDsForUser(ctx context.Context, tenantID, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return ids, nil
}

// CountForUser returns the indexed session count for a user.
func (s *Store) CountForUser(ctx context.Context, tenantID, userID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.userKey(tenantID, userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return int(n), nil
}

// GetMany fetches several sessions, silently skipping missing ones.
func (s *Store) GetMany(ctx context.Context, tenantID string, sessionIDs []string) ([]*Session, error) {
	if len(sessionIDs) == 0 {
		return []*Session{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(sessionIDs))
	for i, sid := range sessionIDs {
		cmds[i] = pipe.Get(ctx, s.key(tenantID, sid))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	sessions := make([]*Session, 0, len(sessionIDs))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		sess := &Session{}
		if err := json.Unmarshal(data, sess); err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// TryRenewCooldown claims the per-session renewal cooldown slot. It
// returns false while a previous renewal's window is still open.
func (s *Store) TryRenewCooldown(ctx context.Context, sessionID string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := s.redis.SetNX(ctx, s.cooldownKey(sessionID), "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return ok, nil
}

// SweepExpired scans the tenant keyspace and deletes sessions past their
// expiry, tombstoning each id. Admin/janitor path, O(n) by design.
func (s *Store) SweepExpired(ctx context.Context, tenantID string) (int, error) {
	pattern := s.prefix + ":" + normalizeTenant(tenantID) + ":*"
	var (
		cursor  uint64
		removed int
		now     = time.Now()
	)

	for {
		ks, next, err := s.redis.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		for _, key := range ks {
			data, err := s.redis.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			sess := &Session{}
			if err := json.Unmarshal(data, sess); err != nil {
				continue
			}
			if !sess.Expired(now) {
				continue
			}
			if err := s.Delete(ctx, sess.TenantID, sess.UserID, sess.ID); err == nil {
				removed++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

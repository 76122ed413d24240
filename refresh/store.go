package refresh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTokenNotFound is returned when no record exists for the presented
	// token hash.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrFamilyNotFound is returned for lookups of unknown families.
	ErrFamilyNotFound = errors.New("token family not found")
	// ErrFamilyRevoked is returned when appending to a revoked family.
	ErrFamilyRevoked = errors.New("token family revoked")
	// ErrBackend wraps store connectivity failures.
	ErrBackend = errors.New("refresh backend unavailable")
)

// Store persists refresh records and families in the shared keyed store.
// The used-marker is its own key written with SET NX, which is the single
// conditional write that makes consumption race-safe: two concurrent
// refreshes of one token get exactly one winner.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "rt"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) recordKey(hash [32]byte) string {
	return s.prefix + ":r:" + hex.EncodeToString(hash[:])
}

func (s *Store) usedKey(hash [32]byte) string {
	return s.prefix + ":u:" + hex.EncodeToString(hash[:])
}

func (s *Store) familyKey(familyID string) string { return s.prefix + ":f:" + familyID }

func (s *Store) familyRevokedKey(familyID string) string { return s.prefix + ":fx:" + familyID }

// SaveRecord writes a record under the token hash with the token's
// remaining lifetime as TTL.
func (s *Store) SaveRecord(ctx context.Context, hash [32]byte, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.recordKey(hash), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, hash [32]byte) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record: %v", ErrBackend, err)
	}
	return rec, nil
}

// TryMarkUsed is the atomic mark-and-check. It returns true for exactly
// one caller per token; every other caller observes an existing marker.
func (s *Store) TryMarkUsed(ctx context.Context, hash [32]byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	won, err := s.redis.SetNX(ctx, s.usedKey(hash), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return won, nil
}

// UpdateRecord rewrites a record preserving its remaining TTL.
func (s *Store) UpdateRecord(ctx context.Context, hash [32]byte, rec *Record) error {
	key := s.recordKey(hash)
	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if pttl <= 0 {
		return ErrTokenNotFound
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, data, pttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, hash [32]byte) error {
	if err := s.redis.Del(ctx, s.recordKey(hash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) SaveFamily(ctx context.Context, fam *Family, ttl time.Duration) error {
	data, err := json.Marshal(fam)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.familyKey(fam.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *Store) GetFamily(ctx context.Context, familyID string) (*Family, error) {
	data, err := s.redis.Get(ctx, s.familyKey(familyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrFamilyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	fam := &Family{}
	if err := json.Unmarshal(data, fam); err != nil {
		return nil, fmt.Errorf("%w: corrupt family: %v", ErrBackend, err)
	}
	return fam, nil
}

// AppendMember adds a token to the member chain under optimistic locking,
// refusing revoked families. The family TTL is extended to cover the new
// member's lifetime.
func (s *Store) AppendMember(ctx context.Context, familyID, tokenID string, expiresAt int64, ttl time.Duration) error {
	const maxRetries = 4
	key := s.familyKey(familyID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			fam := &Family{}
			if err := json.Unmarshal(data, fam); err != nil {
				return err
			}
			if fam.Revoked {
				return ErrFamilyRevoked
			}

			fam.Members = append(fam.Members, tokenID)
			if expiresAt > fam.ExpiresAt {
				fam.ExpiresAt = expiresAt
			}

			updated, err := json.Marshal(fam)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrFamilyNotFound
			}
			if errors.Is(err, ErrFamilyRevoked) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: family append contention", ErrBackend)
}

// MarkFamilyRevoked sets the single revoked flag consulted on every token
// lookup. One key flip makes every member unusable at once; no member
// rewrite is needed for consumers to observe a consistent state.
func (s *Store) MarkFamilyRevoked(ctx context.Context, familyID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.familyRevokedKey(familyID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	// Best-effort doc update for observability; the flag key is the
	// authoritative fact.
	fam, err := s.GetFamily(ctx, familyID)
	if err != nil {
		if errors.Is(err, ErrFamilyNotFound) {
			return nil
		}
		return err
	}
	fam.Revoked = true
	remaining := time.Until(time.Unix(fam.ExpiresAt, 0))
	if remaining < time.Second {
		remaining = time.Second
	}
	return s.SaveFamily(ctx, fam, remaining)
}

func (s *Store) IsFamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.familyRevokedKey(familyID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// SweepExpiredFamilies removes family docs whose chain has fully expired.
// Records and markers expire via their own TTLs; only the doc needs the
// scan because its TTL is extended on every rotation and can outlive the
// members when a chain goes quiet.
func (s *Store) SweepExpiredFamilies(ctx context.Context) (int, error) {
	pattern := s.prefix + ":f:*"
	var (
		cursor  uint64
		removed int
		now     = time.Now().Unix()
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
			fam := &Family{}
			if err := json.Unmarshal(data, fam); err != nil || fam.ExpiresAt >= now {
				continue
			}
			if err := s.redis.Del(ctx, key).Err(); err == nil {
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

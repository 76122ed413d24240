package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Method names a second-factor verification mechanism.
type Method string

const (
	MethodTOTP          Method = "totp"
	MethodBackupCode    Method = "backup_code"
	MethodTrustedDevice Method = "trusted_device"
)

var (
	// ErrChallengeNotFound is returned when no challenge exists under the
	// id, including after terminal failure removed it.
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	// ErrChallengeExpired is returned when the challenge outlived its TTL.
	// Terminal; a new challenge must be created.
	ErrChallengeExpired = errors.New("mfa challenge expired")
	// ErrChallengeExhausted is returned when the attempt budget is spent.
	// Terminal; a new challenge must be created.
	ErrChallengeExhausted = errors.New("mfa challenge attempts exhausted")
	// ErrBackend wraps challenge store connectivity failures.
	ErrBackend = errors.New("mfa backend unavailable")
)

const challengeSchemaVersion = 1

// Challenge is the short-lived, attempt-limited second-factor request.
// It only ever moves forward: pending until verified (deleted), expired
// (TTL), or exhausted (deleted). Switching methods keeps it pending.
type Challenge struct {
	SchemaVersion int      `json:"v"`
	ID            string   `json:"id"`
	UserID        string   `json:"user_id"`
	TenantID      string   `json:"tenant_id"`
	SessionID     string   `json:"session_id,omitempty"`
	Method        Method   `json:"method"`
	Available     []Method `json:"available"`
	CreatedAt     int64    `json:"created_at"`
	ExpiresAt     int64    `json:"expires_at"`
	Attempts      int      `json:"attempts"`
	MaxAttempts   int      `json:"max_attempts"`
}

func (c *Challenge) Expired(now time.Time) bool {
	return now.Unix() > c.ExpiresAt
}

// Allows reports whether the method was offered when the challenge was
// created.
func (c *Challenge) Allows(m Method) bool {
	for _, a := range c.Available {
		if a == m {
			return true
		}
	}
	return false
}

// ChallengeStore keeps challenges in Redis, keyed by challenge id with a
// TTL matching the challenge expiry.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "mc"
	}
	return &ChallengeStore{redis: client, prefix: prefix}
}

func (s *ChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

func (s *ChallengeStore) Save(ctx context.Context, ch *Challenge, ttl time.Duration) error {
	ch.SchemaVersion = challengeSchemaVersion
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(ch.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (s *ChallengeStore) Get(ctx context.Context, challengeID string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	ch := &Challenge{}
	if err := json.Unmarshal(data, ch); err != nil {
		return nil, fmt.Errorf("%w: corrupt challenge: %v", ErrBackend, err)
	}
	if ch.Expired(time.Now()) {
		_, _ = s.redis.Del(ctx, s.key(challengeID)).Result()
		return nil, ErrChallengeExpired
	}
	return ch, nil
}

func (s *ChallengeStore) Delete(ctx context.Context, challengeID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(challengeID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under optimistic locking
// so concurrent wrong guesses each consume exactly one attempt. When the
// budget is spent the challenge is deleted in the same transaction and
// exhausted=true is returned.
func (s *ChallengeStore) RecordFailure(ctx context.Context, challengeID string) (exhausted bool, err error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var spent bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			ch := &Challenge{}
			if err := json.Unmarshal(data, ch); err != nil {
				return err
			}
			if ch.Expired(time.Now()) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			ch.Attempts++
			if ch.Attempts >= ch.MaxAttempts {
				spent = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(ch.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}

			updated, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrChallengeNotFound
			}
			if errors.Is(err, ErrChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return spent, nil
	}

	return false, ErrChallengeNotFound
}

// SetMethod switches the active method on a pending challenge without
// touching its attempt budget or TTL.
func (s *ChallengeStore) SetMethod(ctx context.Context, challengeID string, m Method) (*Challenge, error) {
	key := s.key(challengeID)

	ch, err := s.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	pttl, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if pttl <= 0 {
		return nil, ErrChallengeExpired
	}

	ch.Method = m
	data, err := json.Marshal(ch)
	if err != nil {
		return nil, err
	}
	if err := s.redis.Set(ctx, key, data, pttl).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return ch, nil
}

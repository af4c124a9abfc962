package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable wraps every transport failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrNotFound means the session does not exist or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrRefreshHashMismatch means a stale refresh secret was presented. The session
	// is deleted before this is returned.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
)

const maxRotateAttempts = 3

// Store is a Redis-backed session store. Each session lives under
// <prefix>:<sessionID>; a per-user set indexes a user's sessions.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	sliding bool
	now     func() time.Time
}

// NewStore creates a session [Store]. With sliding set, every successful Get extends
// the key TTL up to the session's absolute expiry.
func NewStore(client redis.UniversalClient, prefix string, sliding bool) *Store {
	if prefix == "" {
		prefix = "ps"
	}
	return &Store{
		redis:   client,
		prefix:  prefix,
		sliding: sliding,
		now:     time.Now,
	}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// Save persists sess for ttl and indexes it under its user.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the session or ErrNotFound. Expired blobs are deleted on read.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := s.key(sessionID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.SessionID = sessionID

	now := s.now()
	if sess.Expired(now) {
		if err := s.deleteSessionAndIndex(ctx, sess.UserID, sessionID); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	if s.sliding {
		remaining := time.Unix(sess.ExpiresAt, 0).Sub(now)
		if err := s.redis.Expire(ctx, key, remaining).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	return s.deleteSessionAndIndex(ctx, sess.UserID, sessionID)
}

// DeleteAllForUser removes every indexed session of userID. A session saved while
// this runs may survive; it still expires on its own.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)

	ids, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.key(id))
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionIDs returns the indexed session ids of userID.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Rotate swaps the stored refresh hash from provided to next under an optimistic
// WATCH on the session key. A mismatching hash deletes the session and returns
// ErrRefreshHashMismatch; a missing or expired session returns ErrNotFound.
func (s *Store) Rotate(ctx context.Context, sessionID string, provided, next [32]byte) (*Session, error) {
	key := s.key(sessionID)
	var rotated *Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}

		sess, err := Decode(data)
		if err != nil {
			return err
		}
		sess.SessionID = sessionID

		if sess.Expired(s.now()) {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.userKey(sess.UserID), sessionID)
				return nil
			})
			if err != nil {
				return err
			}
			return ErrNotFound
		}

		if subtle.ConstantTimeCompare(sess.RefreshHash[:], provided[:]) != 1 {
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.userKey(sess.UserID), sessionID)
				return nil
			})
			if err != nil {
				return err
			}
			return ErrRefreshHashMismatch
		}

		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return err
		}
		if ttl <= 0 {
			ttl = time.Unix(sess.ExpiresAt, 0).Sub(s.now())
		}

		sess.RefreshHash = next
		encoded, err := Encode(sess)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		rotated = sess
		return nil
	}

	for attempt := 0; attempt < maxRotateAttempts; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return rotated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrRefreshHashMismatch), errors.Is(err, ErrCorrupt):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return nil, fmt.Errorf("%w: rotate contention on %s", ErrRedisUnavailable, sessionID)
}

// Ping reports Redis availability and round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, userID, sessionID string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sessionID))
		pipe.SRem(ctx, s.userKey(userID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

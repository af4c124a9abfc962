package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/portalAuth/profile"
	"github.com/redis/go-redis/v9"
)

// Redis keeps one string key per email. SETNX gives Register its per-row atomicity.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedis returns a registry storing entries under prefix:<email>. An empty prefix
// defaults to "er".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "er"
	}
	return &Redis{redis: client, prefix: prefix}
}

func (r *Redis) key(email string) string {
	return r.prefix + ":" + profile.NormalizeEmail(email)
}

func (r *Redis) Lookup(ctx context.Context, email string) (Result, error) {
	val, err := r.redis.Get(ctx, r.key(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	role := profile.Role(val)
	if !role.Valid() {
		role = profile.DefaultRole
	}
	return Result{Exists: true, Role: role}, nil
}

func (r *Redis) Register(ctx context.Context, email string, role profile.Role) error {
	if !role.Valid() {
		return profile.ErrInvalidRole
	}

	key := r.key(email)
	ok, err := r.redis.SetNX(ctx, key, string(role), 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		return nil
	}

	existing, err := r.Lookup(ctx, email)
	if err != nil {
		return err
	}
	return &RegisteredError{Email: profile.NormalizeEmail(email), Role: existing.Role}
}

func (r *Redis) Reassign(ctx context.Context, email string, role profile.Role) (bool, error) {
	if !role.Valid() {
		return false, profile.ErrInvalidRole
	}

	ok, err := r.redis.SetXX(ctx, r.key(email), string(role), 0).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

func (r *Redis) Remove(ctx context.Context, email string) error {
	if err := r.redis.Del(ctx, r.key(email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

var _ Registry = (*Redis)(nil)

// Package redislock implements the per-resource distributed lock on Redis.
// Acquisition is a single SET-if-absent with expiry; release and extend are
// Lua scripts that check the stored owner token first, so a lock that expired
// and was re-acquired elsewhere is never removed by a stale holder.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

const (
	releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`
	extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`
)

// Commander is the subset of Redis commands the locker needs. Satisfied by
// *redis.Client and redis.UniversalClient.
type Commander interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Option configures a Locker.
type Option func(*Locker)

// WithTokenFunc overrides owner-token generation.
func WithTokenFunc(tokenFn func() string) Option {
	return func(locker *Locker) {
		locker.tokenFn = tokenFn
	}
}

// Locker implements royalty.Locker on Redis.
type Locker struct {
	client  Commander
	tokenFn func() string
}

// New returns a Locker over the given Redis client.
func New(client Commander, options ...Option) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redislock: client dependency is nil")
	}
	locker := &Locker{client: client, tokenFn: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(locker)
		}
	}
	return locker, nil
}

// Acquire attempts a single atomic set-if-absent with expiry. A held key is
// reported as royalty.ErrLockNotAcquired; so is a backend failure, because
// calculation must fail closed when the lock backend is unreachable.
func (locker *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (royalty.Lease, error) {
	token := locker.tokenFn()
	acquired, err := locker.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lock backend unavailable: %v", royalty.ErrLockNotAcquired, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s is held", royalty.ErrLockNotAcquired, key)
	}
	return &lease{client: locker.client, key: key, token: token}, nil
}

// IsLocked reports whether a live lock exists for the key.
func (locker *Locker) IsLocked(ctx context.Context, key string) (bool, error) {
	count, err := locker.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// TTL returns the remaining lifetime of the lock, zero when absent.
func (locker *Locker) TTL(ctx context.Context, key string) (time.Duration, error) {
	remaining, err := locker.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// ForceRelease removes the key regardless of owner. Operator-triggered
// recovery only; normal release paths are ownership-checked.
func (locker *Locker) ForceRelease(ctx context.Context, key string) error {
	return locker.client.Del(ctx, key).Err()
}

// WithLock acquires the key, runs fn while holding it, and always releases.
// fn is never invoked when acquisition fails.
func (locker *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	held, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		_ = held.Release(ctx)
	}()
	return fn(ctx)
}

type lease struct {
	client Commander
	key    string
	token  string
}

func (held *lease) Token() string {
	return held.token
}

// Release deletes the key only while this lease still owns it. A foreign or
// expired token is a silent no-op.
func (held *lease) Release(ctx context.Context) error {
	return held.client.Eval(ctx, releaseScript, []string{held.key}, held.token).Err()
}

// Extend resets the TTL while this lease still owns the key. Returns false
// when ownership has been lost.
func (held *lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	result, err := held.client.Eval(ctx, extendScript, []string{held.key}, held.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

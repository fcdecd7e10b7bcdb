// Package memlock implements the lock contract in process memory. Suitable
// for single-process deployments (sqlite mode) and tests; it provides the
// same ownership-token and TTL semantics as the Redis locker but no
// cross-process exclusion.
package memlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/machinesoul11/yg-backend-sub013/pkg/royalty"
)

type entry struct {
	token     string
	expiresAt time.Time
}

// Locker implements royalty.Locker with an in-process table.
type Locker struct {
	mu    sync.Mutex
	locks map[string]entry
	nowFn func() time.Time
}

// Option configures a Locker.
type Option func(*Locker)

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(locker *Locker) {
		locker.nowFn = now
	}
}

// New returns an empty Locker.
func New(options ...Option) *Locker {
	locker := &Locker{
		locks: make(map[string]entry),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(locker)
		}
	}
	return locker
}

// Acquire takes the key if no live lock holds it.
func (locker *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (royalty.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	locker.mu.Lock()
	defer locker.mu.Unlock()
	now := locker.nowFn()
	if current, exists := locker.locks[key]; exists && current.expiresAt.After(now) {
		return nil, fmt.Errorf("%w: %s is held", royalty.ErrLockNotAcquired, key)
	}
	token := uuid.NewString()
	locker.locks[key] = entry{token: token, expiresAt: now.Add(ttl)}
	return &lease{locker: locker, key: key, token: token}, nil
}

// IsLocked reports whether a live lock exists for the key.
func (locker *Locker) IsLocked(key string) bool {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	current, exists := locker.locks[key]
	return exists && current.expiresAt.After(locker.nowFn())
}

// TTL returns the remaining lifetime of the lock, zero when absent.
func (locker *Locker) TTL(key string) time.Duration {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	current, exists := locker.locks[key]
	if !exists {
		return 0
	}
	remaining := current.expiresAt.Sub(locker.nowFn())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ForceRelease removes the key regardless of owner. Operator recovery only.
func (locker *Locker) ForceRelease(key string) {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	delete(locker.locks, key)
}

// WithLock acquires the key, runs fn while holding it, and always releases.
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

func (locker *Locker) release(key string, token string) {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if current, exists := locker.locks[key]; exists && current.token == token {
		delete(locker.locks, key)
	}
}

func (locker *Locker) extend(key string, token string, ttl time.Duration) bool {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	current, exists := locker.locks[key]
	if !exists || current.token != token || !current.expiresAt.After(locker.nowFn()) {
		return false
	}
	locker.locks[key] = entry{token: token, expiresAt: locker.nowFn().Add(ttl)}
	return true
}

type lease struct {
	locker *Locker
	key    string
	token  string
}

func (held *lease) Token() string {
	return held.token
}

// Release removes the key only while this lease still owns it.
func (held *lease) Release(ctx context.Context) error {
	held.locker.release(held.key, held.token)
	return nil
}

// Extend resets the TTL while this lease still owns the key.
func (held *lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	return held.locker.extend(held.key, held.token, ttl), nil
}

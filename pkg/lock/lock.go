// Package lock provides a Redis-backed mutex so only one worker process runs
// the outbox dispatcher or the chain watcher at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pawfinds/pawfinds-backend/pkg/redis"
)

const defaultTTL = 30 * time.Second

// Lock coordinates exclusive ownership of a background loop.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Refresh(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock implements Lock using SETNX with a TTL and an owner token.
type RedisLock struct {
	client store
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client store, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// TTL returns the lease length; holders should refresh well inside it.
func (l *RedisLock) TTL() time.Duration {
	return l.ttl
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Refresh extends the lease. It returns false when another owner took over.
func (l *RedisLock) Refresh(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	current, err := l.currentOwner(ctx)
	if err != nil {
		return false, err
	}
	if current != l.owner {
		l.owner = ""
		return false, nil
	}
	if _, err := l.client.Expire(ctx, l.key, l.ttl); err != nil {
		return false, fmt.Errorf("extend lock: %w", err)
	}
	return true, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	current, err := l.currentOwner(ctx)
	if err != nil {
		return err
	}
	if current != l.owner {
		l.owner = ""
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}

func (l *RedisLock) currentOwner(ctx context.Context) (string, error) {
	value, err := l.client.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("read lock owner: %w", err)
	}
	return value, nil
}

// Noop always grants the lock. Used when Redis coordination is disabled in dev.
type Noop struct{}

func (Noop) Acquire(context.Context) (bool, error) { return true, nil }
func (Noop) Refresh(context.Context) (bool, error) { return true, nil }
func (Noop) Release(context.Context) error         { return nil }

// Leader keeps track of whether this process currently owns a lock. Loops
// call Ensure once per iteration and only do work when it reports true.
type Leader struct {
	lock Lock
	held bool
}

func NewLeader(l Lock) *Leader {
	if l == nil {
		l = Noop{}
	}
	return &Leader{lock: l}
}

// Ensure acquires the lock, or refreshes it when already held.
func (l *Leader) Ensure(ctx context.Context) (bool, error) {
	if l.held {
		ok, err := l.lock.Refresh(ctx)
		if err != nil {
			l.held = false
			return false, err
		}
		if ok {
			return true, nil
		}
		l.held = false
	}
	ok, err := l.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	l.held = ok
	return ok, nil
}

// Held reports the outcome of the last Ensure.
func (l *Leader) Held() bool {
	return l.held
}

// Release gives the lock up if held.
func (l *Leader) Release(ctx context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	return l.lock.Release(ctx)
}

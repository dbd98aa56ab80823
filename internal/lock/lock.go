// Package lock provides the fleet-wide mutual exclusion used to run each
// scheduled job on one instance per tick.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

var ErrEmptyName = errors.New("lock name is empty")

// Lease is a held lock. It expires on its own after the TTL unless extended.
type Lease interface {
	Name() string
	Extend(ctx context.Context) error
}

// Locker acquires named leases without waiting. ok is false when another
// holder has the lock; err is reserved for store failures.
type Locker interface {
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
	Release(ctx context.Context, lease Lease) error
}

// RedisLocker implements Locker with redsync on a single Redis.
type RedisLocker struct {
	rs *redsync.Redsync
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client))}
}

type redisLease struct {
	name  string
	mutex *redsync.Mutex
}

func (l *redisLease) Name() string { return l.name }

func (l *redisLease) Extend(ctx context.Context) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.name, err)
	}
	if !ok {
		return fmt.Errorf("extend lock %s: lease lost", l.name)
	}
	return nil
}

func (r *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	if strings.TrimSpace(name) == "" {
		return nil, false, ErrEmptyName
	}
	m := r.rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)
	if err := m.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return &redisLease{name: name, mutex: m}, true, nil
}

func (r *RedisLocker) Release(ctx context.Context, lease Lease) error {
	l, ok := lease.(*redisLease)
	if !ok || l == nil {
		return fmt.Errorf("release lock: foreign lease %T", lease)
	}
	released, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	if !released {
		return fmt.Errorf("release lock %s: lease already expired", l.name)
	}
	return nil
}

// isContention reports whether err means another holder owns the lock.
func isContention(err error) bool {
	var (
		taken     *redsync.ErrTaken
		nodeTaken *redsync.ErrNodeTaken
	)
	return errors.Is(err, redsync.ErrFailed) ||
		errors.As(err, &taken) ||
		errors.As(err, &nodeTaken)
}

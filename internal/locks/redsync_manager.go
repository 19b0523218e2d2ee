// Package locks provides cross-process mutual exclusion for token refreshes
// using the Redlock implementation from go-redsync/redsync/v4.
//
// In a single process the connection manager already collapses concurrent
// refreshes of one (user, provider) pair. When several replicas share a token
// store they additionally take a lock named refresh:{user}:{provider} here, so
// only one replica talks to the provider at a time.
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"area-connect/internal/common/errors"
	"area-connect/internal/redis"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

// Lock is a held distributed lock.
type Lock interface {
	Key() string
	Release(ctx context.Context) error
	IsHeld() bool
}

// Locker acquires named locks. Acquire blocks until the lock is held, the
// wait budget is spent or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lock, error)
}

// Options tune lock expiry and how long Acquire waits under contention.
type Options struct {
	// Expiry bounds how long a crashed holder can block others.
	Expiry time.Duration
	// Wait is the total time Acquire keeps retrying.
	Wait time.Duration
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultOptions suits locks held across a single provider call bounded by timeout.
func DefaultOptions(timeout time.Duration) Options {
	return Options{
		Expiry:     2 * timeout,
		Wait:       timeout + time.Second,
		RetryDelay: 50 * time.Millisecond,
	}
}

// RedsyncManager implements Locker with redsync.
type RedsyncManager struct {
	redsync *redsync.Redsync
	opts    Options

	mu   sync.Mutex
	held map[*RedsyncLock]struct{}
}

// RedsyncLock wraps a redsync.Mutex.
type RedsyncLock struct {
	mutex   *redsync.Mutex
	key     string
	manager *RedsyncManager

	mu       sync.Mutex
	released bool
}

// RefreshKey names the lock guarding one connection's refresh.
func RefreshKey(userID, providerKey string) string {
	return fmt.Sprintf("refresh:%s:%s", userID, providerKey)
}

// NewRedsyncManager creates a lock manager backed by redisClient.
func NewRedsyncManager(redisClient *redis.Client, opts Options) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}
	if opts.Expiry <= 0 || opts.RetryDelay <= 0 {
		return nil, errors.ConfigError("lock expiry and retry delay must be positive")
	}

	pool := goredis.NewPool(redisClient.GetGoRedisClient())

	return &RedsyncManager{
		redsync: redsync.New(pool),
		opts:    opts,
		held:    make(map[*RedsyncLock]struct{}),
	}, nil
}

// Acquire takes the lock named key.
func (rm *RedsyncManager) Acquire(ctx context.Context, key string) (Lock, error) {
	tries := int(rm.opts.Wait / rm.opts.RetryDelay)
	if tries < 1 {
		tries = 1
	}

	mutex := rm.redsync.NewMutex(fmt.Sprintf("lock:%s", key),
		redsync.WithExpiry(rm.opts.Expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(rm.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, errors.InternalError("failed to acquire distributed lock", err).WithContext("key", key)
	}

	lock := &RedsyncLock{mutex: mutex, key: key, manager: rm}

	rm.mu.Lock()
	rm.held[lock] = struct{}{}
	rm.mu.Unlock()

	return lock, nil
}

// Close releases every lock still held through this manager.
func (rm *RedsyncManager) Close() error {
	rm.mu.Lock()
	locks := make([]*RedsyncLock, 0, len(rm.held))
	for lock := range rm.held {
		locks = append(locks, lock)
	}
	rm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, lock := range locks {
		_ = lock.Release(ctx)
	}
	return nil
}

// Key returns the lock name.
func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release unlocks in Redis. Releasing twice is a no-op.
func (rl *RedsyncLock) Release(ctx context.Context) error {
	rl.mu.Lock()
	if rl.released {
		rl.mu.Unlock()
		return nil
	}
	rl.released = true
	rl.mu.Unlock()

	rl.manager.mu.Lock()
	delete(rl.manager.held, rl)
	rl.manager.mu.Unlock()

	if ok, err := rl.mutex.UnlockContext(ctx); err != nil || !ok {
		return errors.InternalError("failed to release distributed lock", err).WithContext("key", rl.key)
	}
	return nil
}

// IsHeld reports whether Release has not been called yet.
func (rl *RedsyncLock) IsHeld() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return !rl.released
}

var _ Locker = (*RedsyncManager)(nil)

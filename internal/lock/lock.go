// Package lock provides a Redis-backed mutual-exclusion primitive over a
// shared key space. Locks are TTL-bounded so a crashed holder self-heals
// instead of deadlocking the key.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is held by another owner and
// could not be acquired within the wait window.
var ErrNotAcquired = errors.New("lock not acquired")

const (
	// DefaultTTL bounds how long a crashed holder can keep a key locked.
	DefaultTTL = 2 * time.Minute

	retryDelay = 100 * time.Millisecond
)

// Locker acquires and releases named locks.
type Locker struct {
	rs     *redsync.Redsync
	rdb    redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// Config configures a Locker.
type Config struct {
	Client redis.UniversalClient
	Prefix string // key namespace (default "bindery:lock")
	Logger *slog.Logger
}

// New creates a Locker.
func New(cfg Config) *Locker {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "bindery:lock"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(cfg.Client)),
		rdb:    cfg.Client,
		prefix: prefix,
		logger: logger.With("component", "lock"),
	}
}

// Handle represents a held lock. Release it exactly once.
type Handle struct {
	mutex *redsync.Mutex
	key   string
}

// Key returns the fully qualified lock key.
func (h *Handle) Key() string { return h.key }

// Release releases the lock. Releasing an already-expired lock is not an
// error worth surfacing to callers; the TTL has done the job.
func (h *Handle) Release(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return nil
		}
		return fmt.Errorf("failed to release %s: %w", h.key, err)
	}
	if !ok {
		return fmt.Errorf("failed to release %s: lock not held", h.key)
	}
	return nil
}

func (l *Locker) name(key string) string {
	return l.prefix + ":" + key
}

// Acquire blocks until the lock is held or waitTimeout elapses, retrying at
// a fixed cadence. The held lock expires after ttl even if Release is never
// called.
func (l *Locker) Acquire(ctx context.Context, key string, ttl, waitTimeout time.Duration) (*Handle, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	tries := 1
	if waitTimeout > 0 {
		tries = int(waitTimeout/retryDelay) + 1
	}

	name := l.name(key)
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	return &Handle{mutex: mutex, key: name}, nil
}

// TryAcquire attempts the lock exactly once without blocking. Returns
// ErrNotAcquired when the key is already held.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	name := l.name(key)
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}
	return &Handle{mutex: mutex, key: name}, nil
}

// IsLocked reports whether the key is currently held by anyone.
func (l *Locker) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.name(key)).Result()
	if err != nil {
		return false, fmt.Errorf("lock check for %s: %w", key, err)
	}
	return n > 0, nil
}

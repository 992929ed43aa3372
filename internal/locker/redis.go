package locker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-proc-requisitions/internal/logger"
)

// ErrLockNotHeld is returned when a lock expired before the guarded function
// finished.
var ErrLockNotHeld = errors.New("lock was not held or already expired")

// RedisOptions tunes RedLock acquisition.
type RedisOptions struct {
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultRedisOptions suits requisition transitions, which finish well
// inside a second.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
	}
}

// Redis is a Locker shared by every replica, using the RedLock algorithm.
type Redis struct {
	rs   *redsync.Redsync
	opts RedisOptions
	log  *logger.Logger
}

// NewRedis verifies connectivity and returns a Redis locker.
func NewRedis(ctx context.Context, client goredislib.UniversalClient, opts RedisOptions, log *logger.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is nil")
	}
	if opts.Expiry <= 0 {
		return nil, errors.New("lock expiry must be greater than 0")
	}
	if opts.Tries < 1 {
		return nil, errors.New("lock tries must be at least 1")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log,
	}, nil
}

// WithLock acquires key across replicas, runs fn, then releases it.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if fn == nil {
		return ErrNilFunc
	}
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}

	mutex := r.rs.NewMutex(key,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	r.log.Debug().Str("lock_key", key).Msg("lock acquired")

	fnErr := fn(ctx)

	ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
	switch {
	case err != nil:
		r.log.Error().Err(err).Str("lock_key", key).Msg("failed to release lock")
	case !ok:
		r.log.Warn().Str("lock_key", key).Msg("lock was not held or already expired")
		if fnErr == nil {
			return ErrLockNotHeld
		}
	}
	return fnErr
}

package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"jewel-auction/internal/biddingerrors"
	"jewel-auction/internal/metrics"
	"jewel-auction/utils"
)

// RedisLocker extends the per-key lock across processes. Callers in the same
// process queue on a local KeyedMutex first, so only one of them at a time
// competes for the Redis lock. The Redis lease is renewed while fn runs.
type RedisLocker struct {
	local   *KeyedMutex
	rs      *redsync.Redsync
	options redisLockerOptions
}

type redisLockerOptions struct {
	prefix        string
	expiry        time.Duration
	retryDelay    time.Duration
	renewInterval time.Duration
}

type RedisLockerOption func(*redisLockerOptions)

// WithRedisLockerPrefix sets the key prefix of the Redis locks.
func WithRedisLockerPrefix(prefix string) RedisLockerOption {
	return func(o *redisLockerOptions) { o.prefix = prefix }
}

// WithRedisLockerExpiry sets the lease of one Redis lock.
func WithRedisLockerExpiry(d time.Duration) RedisLockerOption {
	return func(o *redisLockerOptions) { o.expiry = d }
}

// WithRedisLockerRetryDelay sets the pause between attempts on a taken lock.
func WithRedisLockerRetryDelay(d time.Duration) RedisLockerOption {
	return func(o *redisLockerOptions) { o.retryDelay = d }
}

// NewRedisLocker creates a RedisLocker over client.
func NewRedisLocker(client redis.UniversalClient, opts ...RedisLockerOption) *RedisLocker {
	options := redisLockerOptions{
		prefix:     "jewel-auction:lock:",
		expiry:     8 * time.Second,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.expiry <= 0 {
		options.expiry = 8 * time.Second
	}
	options.renewInterval = options.expiry / 3

	return &RedisLocker{
		local:   New(),
		rs:      redsync.New(goredis.NewPool(client)),
		options: options,
	}
}

// Do runs fn while holding both the local and the Redis lock for key. Waiting
// for either is bounded by timeout (when positive) and by ctx, and ends with
// an error wrapping biddingerrors.ErrBusy.
func (l *RedisLocker) Do(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	unlock, err := l.local.Lock(waitCtx, key)
	if err != nil {
		metrics.LockWait.Observe(time.Since(start).Seconds())
		return err
	}
	defer unlock()

	mutex := l.rs.NewMutex(l.options.prefix+key,
		redsync.WithExpiry(l.options.expiry),
		redsync.WithTries(1),
	)
	err = l.acquire(waitCtx, key, mutex)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		l.renew(renewCtx, key, mutex)
	}()

	defer func() {
		stopRenew()
		<-renewed
		if ok, err := mutex.UnlockContext(context.Background()); err != nil || !ok {
			utils.Warn("failed to release distributed lock", map[string]any{
				"key":   key,
				"error": fmt.Sprint(err),
			})
		}
	}()

	return fn(context.WithoutCancel(ctx))
}

func (l *RedisLocker) acquire(ctx context.Context, key string, mutex *redsync.Mutex) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock %s: %w - %v", key, biddingerrors.ErrBusy, ctx.Err())
		case <-timer.C:
			err := mutex.LockContext(ctx)
			if err == nil {
				return nil
			}
			var commErr *redsync.RedisError
			if errors.As(err, &commErr) {
				return fmt.Errorf("lock %s: %w", key, err)
			}
			timer.Reset(l.options.retryDelay)
		}
	}
}

func (l *RedisLocker) renew(ctx context.Context, key string, mutex *redsync.Mutex) {
	ticker := time.NewTicker(l.options.renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok, err := mutex.ExtendContext(ctx); err != nil || !ok {
				if ctx.Err() != nil {
					return
				}
				utils.Warn("failed to extend distributed lock", map[string]any{
					"key":   key,
					"error": fmt.Sprint(err),
				})
			}
		}
	}
}

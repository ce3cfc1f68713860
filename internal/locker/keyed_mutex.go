package locker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"jewel-auction/internal/biddingerrors"
	"jewel-auction/internal/metrics"
)

// Locker runs fn while holding the exclusive lock for key.
type Locker interface {
	Do(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error
}

// KeyedMutex hands out one exclusive lock per key. Entries are reference
// counted and removed once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// New creates an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*entry)}
}

// Lock blocks until the lock for key is acquired or ctx is done. On success
// it returns the function that releases the lock; it must be called exactly
// once. When ctx ends first the error wraps biddingerrors.ErrBusy.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	e := k.acquireEntry(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.releaseEntry(key, e)
		return nil, fmt.Errorf("lock %s: %w - %v", key, biddingerrors.ErrBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.releaseEntry(key, e)
		})
	}, nil
}

// Do runs fn while holding the lock for key. Waiting is bounded by timeout
// (when positive) and by ctx. Once the lock is held fn receives a context
// that is no longer cancelled with ctx, so a write that has started is not
// abandoned halfway by a disconnecting caller.
func (k *KeyedMutex) Do(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) error {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	unlock, err := k.Lock(waitCtx, key)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	defer unlock()

	return fn(context.WithoutCancel(ctx))
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func (k *KeyedMutex) acquireEntry(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *KeyedMutex) releaseEntry(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

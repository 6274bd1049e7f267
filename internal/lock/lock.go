// Package lock serializes ingestion so that writing a dataset and rebuilding
// the mitigation set happen as one unit.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotObtained is returned when the lock could not be acquired before the
// context ended.
var ErrNotObtained = errors.New("lock: not obtained")

// ErrLost is the cancellation cause of a held context whose lock could not
// be refreshed.
var ErrLost = errors.New("lock: lost")

// Locker grants exclusive access to the ingest write path. Work done under
// the lock must use the returned held context, which is cancelled if the
// lock is lost. The release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context) (held context.Context, release func(), err error)
}

// Local is an in-process Locker backed by a one-slot channel so that waiting
// can be abandoned when ctx is cancelled.
type Local struct {
	ch chan struct{}
}

// NewLocal creates an in-process Locker.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *Local) Acquire(ctx context.Context) (context.Context, func(), error) {
	select {
	case l.ch <- struct{}{}:
		held, cancel := context.WithCancel(ctx)
		return held, func() {
			cancel()
			<-l.ch
		}, nil
	case <-ctx.Done():
		return nil, nil, eris.Wrap(ErrNotObtained, ctx.Err().Error())
	}
}

// Redis is a Locker shared by every process pointed at the same Redis key.
type Redis struct {
	client  *redislock.Client
	key     string
	ttl     time.Duration
	backoff time.Duration
}

// RedisOptions configures a Redis locker.
type RedisOptions struct {
	Key     string
	TTL     time.Duration
	Backoff time.Duration // retry interval while the lock is held elsewhere
}

// NewRedis creates a Locker on top of an existing Redis client.
func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Key == "" {
		opts.Key = "scopezero:ingest"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	return &Redis{
		client:  redislock.New(rdb),
		key:     opts.Key,
		ttl:     opts.TTL,
		backoff: opts.Backoff,
	}
}

// Acquire retries until the key is obtained or ctx is done. The key's TTL is
// extended every half TTL until release.
func (r *Redis) Acquire(ctx context.Context) (context.Context, func(), error) {
	lk, err := r.client.Obtain(ctx, r.key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, nil, eris.Wrapf(ErrNotObtained, "redis key %s", r.key)
	}
	if err != nil {
		return nil, nil, eris.Wrapf(err, "lock: obtain redis key %s", r.key)
	}

	held, release := hold(ctx, lk, r.key, r.ttl)
	return held, release, nil
}

// heldLock is the part of *redislock.Lock used while holding it.
type heldLock interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
	Release(ctx context.Context) error
}

// hold keeps lk alive until the returned release func is called. A failed
// refresh cancels the held context with ErrLost.
func hold(ctx context.Context, lk heldLock, key string, ttl time.Duration) (context.Context, func()) {
	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-held.Done():
				return
			case <-ticker.C:
				if err := lk.Refresh(held, ttl, nil); err != nil {
					zap.L().Error("lock: refresh redis key failed",
						zap.String("key", key),
						zap.Error(err),
					)
					cancel(eris.Wrapf(ErrLost, "redis key %s", key))
					return
				}
			}
		}
	}()

	return held, func() {
		close(stop)
		<-done
		cancel(nil)

		// Use a fresh context: the caller's may already be cancelled.
		relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer relCancel()
		if err := lk.Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			zap.L().Warn("lock: release redis key failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
}

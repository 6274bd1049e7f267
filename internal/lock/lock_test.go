package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SerializesHolders(t *testing.T) {
	l := NewLocal()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, release, err := l.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLocal_ContextCancelledWhileWaiting(t *testing.T) {
	l := NewLocal()
	_, release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = l.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotObtained))
}

func TestLocal_ReacquireAfterRelease(t *testing.T) {
	l := NewLocal()
	_, release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	release()

	_, release, err = l.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestNewRedis_Defaults(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close() //nolint:errcheck

	r := NewRedis(rdb, RedisOptions{})
	assert.Equal(t, "scopezero:ingest", r.key)
	assert.Equal(t, 30*time.Second, r.ttl)
	assert.Equal(t, 100*time.Millisecond, r.backoff)
}

func TestRedis_UnreachableServer(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := NewRedis(rdb, RedisOptions{Key: "test:ingest"}).Acquire(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test:ingest")
}

func TestLocal_HeldContextCancelledOnRelease(t *testing.T) {
	l := NewLocal()
	held, release, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.NoError(t, held.Err())

	release()
	assert.ErrorIs(t, held.Err(), context.Canceled)
}

// fakeLock records refreshes and releases of a held lock.
type fakeLock struct {
	refreshes  atomic.Int32
	releases   atomic.Int32
	refreshErr error
}

func (f *fakeLock) Refresh(_ context.Context, _ time.Duration, _ *redislock.Options) error {
	f.refreshes.Add(1)
	return f.refreshErr
}

func (f *fakeLock) Release(context.Context) error {
	f.releases.Add(1)
	return nil
}

func TestHold_RefreshesUntilRelease(t *testing.T) {
	lk := &fakeLock{}
	held, release := hold(context.Background(), lk, "test:ingest", 20*time.Millisecond)

	require.Eventually(t, func() bool { return lk.refreshes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, held.Err(), "lock outlived its TTL while refreshed")

	release()
	n := lk.refreshes.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, lk.refreshes.Load(), "no refresh after release")
	assert.Equal(t, int32(1), lk.releases.Load())
	assert.ErrorIs(t, held.Err(), context.Canceled)
}

func TestHold_LostLockCancelsHeldContext(t *testing.T) {
	lk := &fakeLock{refreshErr: redislock.ErrNotObtained}
	held, release := hold(context.Background(), lk, "test:ingest", 20*time.Millisecond)
	defer release()

	select {
	case <-held.Done():
	case <-time.After(time.Second):
		t.Fatal("held context not cancelled after failed refresh")
	}
	assert.ErrorIs(t, context.Cause(held), ErrLost)
	assert.Equal(t, int32(1), lk.refreshes.Load())
}

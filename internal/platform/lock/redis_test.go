package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl, nil), mr
}

func TestRedisLockerSerializesHolders(t *testing.T) {
	locker, _ := newTestLocker(t, 5*time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "trust:company:1:account:a:lock")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestRedisLockerTimesOutWhileHeld(t *testing.T) {
	locker, _ := newTestLocker(t, 5*time.Second)
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	require.ErrorIs(t, err, ErrNotObtained)
}

func TestRedisLockerIndependentKeys(t *testing.T) {
	locker, mr := newTestLocker(t, 5*time.Second)
	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockB, err := locker.Lock(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, mr.Exists("a"))
	assert.True(t, mr.Exists("b"))

	unlockA()
	unlockB()
	assert.False(t, mr.Exists("a"))
}

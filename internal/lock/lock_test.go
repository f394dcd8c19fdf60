package lock

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSerialisesSameKey(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "party:c1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(waitCtx, "party:c1")
	require.ErrorIs(t, err, ErrNotObtained)

	other, err := locker.Obtain(ctx, "party:c2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	again, err := locker.Obtain(ctx, "party:c1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocalLockerHandsOverAfterRelease(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "k")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		next, err := locker.Obtain(ctx, "k")
		if err == nil {
			_ = next(ctx)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, release(ctx))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never obtained the lock")
	}
}

func TestLocalLockerDropsIdleKeys(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		release, err := locker.Obtain(ctx, fmt.Sprintf("party:c%d", i))
		require.NoError(t, err)
		require.NoError(t, release(ctx))
	}
	require.Zero(t, locker.held())

	release, err := locker.Obtain(ctx, "party:busy")
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(waitCtx, "party:busy")
	require.ErrorIs(t, err, ErrNotObtained)
	require.Equal(t, 1, locker.held())

	require.NoError(t, release(ctx))
	require.Zero(t, locker.held())
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("POSLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POSLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, 5*time.Second)
	ctx := context.Background()
	key := "it:" + time.Now().Format("150405.000000")

	release, err := locker.Obtain(ctx, key)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(waitCtx, key)
	require.Error(t, err)

	require.NoError(t, release(ctx))
	again, err := locker.Obtain(ctx, key)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestRedisLockerRefreshesWhileHeld(t *testing.T) {
	addr := os.Getenv("POSLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set POSLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ttl := 200 * time.Millisecond
	locker := NewRedisLocker(client, ttl)
	ctx := context.Background()
	key := "it-refresh:" + time.Now().Format("150405.000000")

	release, err := locker.Obtain(ctx, key)
	require.NoError(t, err)

	time.Sleep(3 * ttl)
	remaining, err := client.PTTL(ctx, "lock:"+key).Result()
	require.NoError(t, err)
	require.Positive(t, remaining)

	waitCtx, cancel := context.WithTimeout(ctx, ttl/2)
	defer cancel()
	_, err = locker.Obtain(waitCtx, key)
	require.Error(t, err)

	require.NoError(t, release(ctx))
	exists, err := client.Exists(ctx, "lock:"+key).Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

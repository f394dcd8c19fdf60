package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

// RedisLocker holds commit locks in redis so several API instances can share
// one database. A held lock is refreshed every half TTL until it is released.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: redislock.New(client),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), int(ttl/(50*time.Millisecond))),
	}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string) (Release, error) {
	held, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
	}
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(held, stop, stopped)

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			<-stopped
			if rerr := held.Release(ctx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
				err = rerr
			}
		})
		return err
	}, nil
}

func (l *RedisLocker) keepAlive(held *redislock.Lock, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			err := held.Refresh(ctx, l.ttl, nil)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

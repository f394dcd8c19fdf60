package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posledger/backend/internal/domain"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore keeps drafts in redis. A zero ttl keeps them until cleared.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Save(ctx context.Context, key Key, state domain.DraftState) error {
	if len(state.Items) == 0 {
		return s.Clear(ctx, key)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key.String(), payload, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, key Key) (domain.DraftState, bool, error) {
	val, err := s.client.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DraftState{}, false, nil
	}
	if err != nil {
		return domain.DraftState{}, false, err
	}

	var state domain.DraftState
	if err := json.Unmarshal(val, &state); err != nil {
		return domain.DraftState{}, false, err
	}
	return state, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, key Key) error {
	return s.client.Del(ctx, key.String()).Err()
}

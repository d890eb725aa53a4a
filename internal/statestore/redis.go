package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const statePrefix = "oauth_state:"

// RedisStore keeps states in Redis with a native TTL
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Set(ctx context.Context, key string, state State) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal oauth state: %w", err)
	}

	// A rewritten state keeps the expiry of the original handshake
	ttl := r.ttl - time.Since(state.CreatedAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, statePrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store oauth state: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (State, error) {
	data, err := r.client.Get(ctx, statePrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("failed to load oauth state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}
	return state, nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, statePrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete oauth state: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires keys itself
func (r *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	count := 0
	iter := r.client.Scan(ctx, 0, statePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to count oauth states: %w", err)
	}
	return count, nil
}

func (r *RedisStore) Name() string { return "redis" }

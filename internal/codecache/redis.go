package codecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "otp:"

// Redis keeps codes in Redis so they survive a bot restart.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis returns a cache over client; ttl is the freshness window.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Put(ctx context.Context, phone string, c Code) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode code: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+phone, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, phone string) (Code, bool, error) {
	payload, err := r.client.Get(ctx, keyPrefix+phone).Bytes()
	if errors.Is(err, redis.Nil) {
		return Code{}, false, nil
	}
	if err != nil {
		return Code{}, false, fmt.Errorf("redis get: %w", err)
	}
	var c Code
	if err := json.Unmarshal(payload, &c); err != nil {
		return Code{}, false, fmt.Errorf("decode code: %w", err)
	}
	return c, true, nil
}

func (r *Redis) Delete(ctx context.Context, phone string) error {
	if err := r.client.Del(ctx, keyPrefix+phone).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

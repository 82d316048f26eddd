package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every FraudGuard key in a shared Redis.
const keyPrefix = "fraudguard:"

// incrWindow increments a counter and starts its expiry window on first use.
var incrWindow = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// redisStore is the Pro tier backend and the second tier of tiered.
type redisStore struct {
	client *redis.Client
}

func dialRedis(addr, password string, db int) (*redisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &redisStore{client: client}, nil
}

func (r *redisStore) get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (r *redisStore) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (r *redisStore) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrWindow.Run(ctx, r.client, []string{keyPrefix + key}, window.Milliseconds()).Int64()
}

func (r *redisStore) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisStore) close() error {
	return r.client.Close()
}

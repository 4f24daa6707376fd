package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mercari-watcher/models"
)

// DefaultRedisKey is the list holding the seen store.
const DefaultRedisKey = "mercari-watcher:seen"

// ErrEmptyRedisAddress is returned when the Redis backend has no address.
var ErrEmptyRedisAddress = errors.New("redis address is required")

const redisConnectTimeout = 5 * time.Second

// RedisPersister keeps the seen store as a Redis list of JSON records,
// head to tail in insertion order.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// RedisOptions configures NewRedisPersister.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// NewRedisPersister connects to Redis and verifies the connection.
func NewRedisPersister(ctx context.Context, opts RedisOptions) (*RedisPersister, error) {
	if opts.Address == "" {
		return nil, ErrEmptyRedisAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	return newRedisPersister(client, opts.Key), nil
}

func newRedisPersister(client *redis.Client, key string) *RedisPersister {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPersister{client: client, key: key}
}

// LoadSeen reads the whole list.
func (rp *RedisPersister) LoadSeen(ctx context.Context) ([]models.SeenRecord, error) {
	values, err := rp.client.LRange(ctx, rp.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: load seen: %w", err)
	}

	records := make([]models.SeenRecord, 0, len(values))
	for i, v := range values {
		var r models.SeenRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("redis: decode record %d: %w", i, err)
		}
		if r.Signature == "" {
			return nil, fmt.Errorf("redis: record %d has no signature", i)
		}
		records = append(records, r)
	}
	return records, nil
}

// SaveSeen replaces the list atomically.
func (rp *RedisPersister) SaveSeen(ctx context.Context, records []models.SeenRecord) error {
	values := make([]interface{}, 0, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("redis: encode record: %w", err)
		}
		values = append(values, string(b))
	}

	_, err := rp.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rp.key)
		if len(values) > 0 {
			pipe.RPush(ctx, rp.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: save seen: %w", err)
	}
	return nil
}

func (rp *RedisPersister) Close() error {
	return rp.client.Close()
}

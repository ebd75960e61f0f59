package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by RedisStore.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HLen(ctx context.Context, key string) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Close() error
}

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix is prepended to the hash key holding the checkpoints.
	Prefix string
}

// RedisStore keeps every checkpoint as a JSON field of one Redis hash.
type RedisStore struct {
	client RedisClient
	key    string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	opts := &redis.Options{
		Addr: cfg.Address,
		DB:   cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("checkpoint redis %q: ping failed: %w", cfg.Address, err)
	}
	return NewRedisStoreWithClient(client, cfg.Prefix), nil
}

// NewRedisStoreWithClient creates a RedisStore backed by a pre-built client.
func NewRedisStoreWithClient(client RedisClient, prefix string) *RedisStore {
	return &RedisStore{client: client, key: prefix + "checkpoints"}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	if cp.ID == "" {
		return errors.New("checkpoint id is required")
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ID, err)
	}
	return s.client.HSet(ctx, s.key, cp.ID, raw).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (Checkpoint, error) {
	raw, err := s.client.HGet(ctx, s.key, id).Result()
	if errors.Is(err, redis.Nil) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}
	return decode(raw)
}

func (s *RedisStore) List(ctx context.Context) ([]Checkpoint, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Checkpoint, 0, len(all))
	for _, raw := range all {
		cp, err := decode(raw)
		if err != nil {
			return nil, err
		}
		cp.Records = nil
		out = append(out, cp)
	}
	sortByCreated(out)
	return out, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.key).Result()
	return int(n), err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, s.key, id).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func decode(raw string) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal([]byte(raw), &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

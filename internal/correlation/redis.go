package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "activity:correlation"

// RedisStore keeps entries in Redis under activity:correlation:<namespace>:<user>.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection. ttl bounds how long an entry
// survives without being rewritten; zero keeps entries until deleted.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, namespace, userName string) (*Entry, error) {
	if err := validKey(namespace, userName); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, redisKey(namespace, userName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get correlation entry: %w", err)
	}
	return decode(data)
}

func (s *RedisStore) Set(ctx context.Context, namespace, userName string, entry *Entry) error {
	if err := validKey(namespace, userName); err != nil {
		return err
	}
	data, err := encode(entry)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey(namespace, userName), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set correlation entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, namespace, userName string) error {
	if err := validKey(namespace, userName); err != nil {
		return err
	}
	if err := s.client.Del(ctx, redisKey(namespace, userName)).Err(); err != nil {
		return fmt.Errorf("delete correlation entry: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(namespace, userName string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, namespace, userName)
}

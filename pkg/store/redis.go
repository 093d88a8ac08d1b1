package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// RedisStore implements BucketStore on a Redis instance. Each bucket
// blob is stored under a single key derived from its position.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed bucket store and verifies the
// connection with a PING.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping failed: %v", ErrUnavailable, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "oram:bucket:"
	}

	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) key(position int) string {
	return fmt.Sprintf("%s%d", s.prefix, position)
}

// ReadBucket returns the blob at position.
func (s *RedisStore) ReadBucket(ctx context.Context, position int) ([]byte, error) {
	blob, err := s.rdb.Get(ctx, s.key(position)).Bytes()
	if err == redis.Nil {
		return nil, ErrBucketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading bucket %d: %v", ErrUnavailable, position, err)
	}
	return blob, nil
}

// WriteBucket replaces the blob at position. Buckets never expire.
func (s *RedisStore) WriteBucket(ctx context.Context, position int, blob []byte) error {
	if err := s.rdb.Set(ctx, s.key(position), blob, 0).Err(); err != nil {
		return fmt.Errorf("%w: writing bucket %d: %v", ErrUnavailable, position, err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error { return s.rdb.Close() }

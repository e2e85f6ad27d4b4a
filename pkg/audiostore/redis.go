package audiostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis stores clips as hashes so several server processes can serve the
// same audio URLs.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOptions struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "tutur:audio:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	return &Redis{rdb: opts.Client, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// NewRedisFromURL parses a redis:// URL and builds the store.
func NewRedisFromURL(url string, ttl time.Duration) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(RedisOptions{Client: redis.NewClient(opt), TTL: ttl})
}

func (s *Redis) Put(ctx context.Context, clip Clip) (string, error) {
	id := uuid.NewString()
	key := s.prefix + id
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, "content_type", clip.ContentType, "data", clip.Data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store clip: %w", err)
	}
	return id, nil
}

func (s *Redis) Get(ctx context.Context, id string) (Clip, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return Clip{}, ErrNotFound
	}
	if err != nil {
		return Clip{}, fmt.Errorf("load clip: %w", err)
	}
	if len(vals) == 0 {
		return Clip{}, ErrNotFound
	}
	return Clip{ContentType: vals["content_type"], Data: []byte(vals["data"])}, nil
}

// Close releases the underlying client.
func (s *Redis) Close() error {
	return s.rdb.Close()
}

package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// Shared cache across daemon instances, with a small in-process TinyLFU layer in front of redis.
type RedisCacheStore struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ CacheStore = (*RedisCacheStore)(nil)

func NewRedisCacheStore(redisURL string, ttl time.Duration) (*RedisCacheStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	return NewRedisCacheStoreFromClient(rdb, ttl, true), nil
}

// localCache controls the in-process layer; disable it when several processes write the same keys and need to observe each other's purges immediately.
func NewRedisCacheStoreFromClient(rdb *redis.Client, ttl time.Duration, localCache bool) *RedisCacheStore {
	opts := &cache.Options{
		Redis: rdb,
	}
	if localCache {
		opts.LocalCache = cache.NewTinyLFU(10_000, ttl)
	}
	return &RedisCacheStore{
		Data: cache.New(opts),
		TTL:  ttl,
	}
}

func redisCacheKey(name, key string) string {
	return "warden/cache/" + name + "/" + key
}

func (s *RedisCacheStore) Get(ctx context.Context, name, key string) (string, error) {
	var val string
	err := s.Data.Get(ctx, redisCacheKey(name, key), &val)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, name, key string, val string) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisCacheKey(name, key),
		Value: val,
		TTL:   s.TTL,
	})
}

func (s *RedisCacheStore) Purge(ctx context.Context, name, key string) error {
	err := s.Data.Delete(ctx, redisCacheKey(name, key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}

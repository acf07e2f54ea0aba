package countstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisCountPrefix = "warden/count/"

type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, err
	}
	return &RedisCountStore{Client: rdb}, nil
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	key := redisCountPrefix + periodBucket(name, val, period, time.Now())
	c, err := s.Client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) Increment(ctx context.Context, name, val string) error {
	now := time.Now()

	// increment all buckets in a single redis round-trip
	multi := s.Client.TxPipeline()

	key := redisCountPrefix + periodBucket(name, val, PeriodHour, now)
	multi.Incr(ctx, key)
	multi.Expire(ctx, key, 2*time.Hour)

	key = redisCountPrefix + periodBucket(name, val, PeriodDay, now)
	multi.Incr(ctx, key)
	multi.Expire(ctx, key, 48*time.Hour)

	key = redisCountPrefix + periodBucket(name, val, PeriodTotal, now)
	multi.Incr(ctx, key)
	// no expiration for total

	_, err := multi.Exec(ctx)
	return err
}

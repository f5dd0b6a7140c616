package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindowStore shares fixed windows across instances. The window key is
// created with the window as its TTL on first increment, so expiry is the
// window reset; blocks get their own key whose TTL is the lazy expiry.
type RedisWindowStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWindowStore(client redis.UniversalClient, prefix string) *RedisWindowStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisWindowStore{client: client, prefix: prefix}
}

func (s *RedisWindowStore) counterKey(identity, endpoint string) string {
	return fmt.Sprintf("%s:window:%s:%s", s.prefix, identity, endpoint)
}

func (s *RedisWindowStore) blockKey(identity, endpoint string) string {
	return fmt.Sprintf("%s:block:%s:%s", s.prefix, identity, endpoint)
}

func (s *RedisWindowStore) Increment(ctx context.Context, identity, endpoint string, window time.Duration) (int, time.Time, error) {
	key := s.counterKey(identity, endpoint)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}
	count := int(incr.Val())
	remaining := ttl.Val()
	if remaining < 0 {
		remaining = window
	}
	windowStart := time.Now().Add(remaining - window)
	return count, windowStart, nil
}

func (s *RedisWindowStore) BlockedUntil(ctx context.Context, identity, endpoint string) (time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.blockKey(identity, endpoint)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	until := time.UnixMilli(millis)
	if !until.After(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *RedisWindowStore) Block(ctx context.Context, identity, endpoint string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.blockKey(identity, endpoint), strconv.FormatInt(until.UnixMilli(), 10), ttl).Err()
}

func (s *RedisWindowStore) Unblock(ctx context.Context, identity, endpoint string) error {
	return s.client.Del(ctx, s.blockKey(identity, endpoint)).Err()
}

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisPrefix = "webhook:"

// RedisStore shares processed events across replicas; keys expire after ttl.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func (s *RedisStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, redisPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, eventID string, result Result) error {
	b, err := json.Marshal(Record{EventID: eventID, ProcessedAt: s.now().UTC(), Result: result})
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisPrefix+eventID, string(b), s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, eventID string) (*Record, bool, error) {
	str, err := s.rdb.Get(ctx, redisPrefix+eventID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(str), &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

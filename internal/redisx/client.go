package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb redis.Cmdable, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// MarkOnce claims an event id for a consumer. It reports false when the id
// was already claimed.
func MarkOnce(ctx context.Context, rdb redis.Cmdable, service, eventID string) (bool, error) {
	ok, err := rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), time.Now().UTC().Format(time.RFC3339), TTLDedup).Result()
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w", eventID, err)
	}
	return ok, nil
}

// Forget drops a claim so a failed event can be retried on redelivery.
func Forget(ctx context.Context, rdb redis.Cmdable, service, eventID string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}

package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingValue marks a claimed key whose work has not finished yet.
const pendingValue = "pending"

var ErrInProgress = errors.New("request with this idempotency key is still in progress")

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

// MarkOnce sets key if absent and reports whether this call set it.
func MarkOnce(ctx context.Context, rdb redis.Cmdable, key string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

func CheckoutKey(userID, idemKey string) string {
	return fmt.Sprintf(KeyIdemCheckout, userID, idemKey)
}

// Claim reserves an idempotency key. It returns ("", nil) when the caller
// owns the key and should do the work, the stored result when the work is
// already done, or ErrInProgress while another request holds it.
func Claim(ctx context.Context, rdb redis.Cmdable, key string) (string, error) {
	ok, err := rdb.SetNX(ctx, key, pendingValue, TTLPending).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	v, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; let the caller retry
		return "", ErrInProgress
	}
	if err != nil {
		return "", err
	}
	if v == pendingValue {
		return "", ErrInProgress
	}
	return v, nil
}

// Complete stores the result of a claimed key.
func Complete(ctx context.Context, rdb redis.Cmdable, key, result string) error {
	return rdb.Set(ctx, key, result, TTLIdempotency).Err()
}

// Release drops a claim after failed work so the key can be retried.
func Release(ctx context.Context, rdb redis.Cmdable, key string) error {
	return rdb.Del(ctx, key).Err()
}

package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestClaimLifecycle(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	key := CheckoutKey("u-ana", "cart-7")
	assert.Equal(t, "idem:checkout:u-ana:cart-7", key)

	got, err := Claim(ctx, rdb, key)
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, TTLPending, mr.TTL(key))

	_, err = Claim(ctx, rdb, key)
	assert.ErrorIs(t, err, ErrInProgress)

	require.NoError(t, Complete(ctx, rdb, key, "o-1"))
	got, err = Claim(ctx, rdb, key)
	require.NoError(t, err)
	assert.Equal(t, "o-1", got)
	assert.Equal(t, TTLIdempotency, mr.TTL(key))
}

func TestReleaseAllowsRetry(t *testing.T) {
	_, rdb := newRedis(t)
	ctx := context.Background()
	key := CheckoutKey("u-ana", "cart-8")

	_, err := Claim(ctx, rdb, key)
	require.NoError(t, err)
	require.NoError(t, Release(ctx, rdb, key))

	got, err := Claim(ctx, rdb, key)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestMarkOnce(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	first, err := MarkOnce(ctx, rdb, "dedup:stock:ev-1", TTLDedup)
	require.NoError(t, err)
	second, err := MarkOnce(ctx, rdb, "dedup:stock:ev-1", TTLDedup)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	ok, err := Exists(ctx, rdb, "dedup:stock:ev-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(TTLDedup)
	ok, err = Exists(ctx, rdb, "dedup:stock:ev-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

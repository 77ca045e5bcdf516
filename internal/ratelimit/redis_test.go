package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_FixedWindow(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedis(client, Newsletter)
	ctx := context.Background()

	for i := 0; i < Newsletter.Max; i++ {
		ok, err := l.Allow(ctx, "newsletter:1.1.1.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "newsletter:1.1.1.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl := mr.TTL("ratelimit:newsletter:1.1.1.1")
	assert.Greater(t, ttl, time.Duration(0), "first hit sets an expiry")
	assert.LessOrEqual(t, ttl, Newsletter.Window)

	mr.FastForward(Newsletter.Window + time.Second)
	ok, err = l.Allow(ctx, "newsletter:1.1.1.1")
	require.NoError(t, err)
	assert.True(t, ok, "key expired, new window")
}

// Two limiters on the same Redis behave like two instances of the service.
func TestRedis_SharedAcrossInstances(t *testing.T) {
	_, client := setupRedis(t)
	a := NewRedis(client, Login)
	b := NewRedis(client, Login)
	ctx := context.Background()

	for i := 0; i < Login.Max; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}
		ok, err := l.Allow(ctx, "login:9.9.9.9")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := b.Allow(ctx, "login:9.9.9.9")
	assert.False(t, ok)
}

func TestRedis_BackendDown(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewRedis(client, Login)
	mr.Close()

	_, err := l.Allow(context.Background(), "login:x")
	assert.Error(t, err)
}

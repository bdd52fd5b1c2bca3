package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)

	c, err = New(Config{Mode: "LOCAL", LocalMaxBytes: 1 << 20})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, c)

	_, err = New(Config{Mode: ModeRedis})
	assert.Error(t, err)

	_, err = New(Config{Mode: "memcached"})
	assert.Error(t, err)
}

func TestLocalSetGetInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(1<<20, time.Hour)

	_, ok := c.Get(ctx, "m1")
	assert.False(t, ok)

	c.Set(ctx, "m1", []string{"view_accounts", "view_team"})
	c.Set(ctx, "m2", []string{})

	got, ok := c.Get(ctx, "m1")
	require.True(t, ok)
	assert.Equal(t, []string{"view_accounts", "view_team"}, got)

	empty, ok := c.Get(ctx, "m2")
	require.True(t, ok, "an empty set is still a cached answer")
	assert.Empty(t, empty)

	c.Invalidate(ctx, "m1")
	_, ok = c.Get(ctx, "m1")
	assert.False(t, ok)

	c.Purge(ctx)
	_, ok = c.Get(ctx, "m2")
	assert.False(t, ok)
}

func TestLocalExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewLocal(1<<20, time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set(ctx, "m1", []string{"view_vat"})
	_, ok := c.Get(ctx, "m1")
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "m1")
	assert.False(t, ok)
	assert.False(t, c.cache.Has([]byte("m1")), "expired entry should be dropped")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, ok := decode([]byte("not json"), time.Now())
	assert.False(t, ok)

	raw, err := encode([]string{"a"}, time.Time{})
	require.NoError(t, err)
	got, ok := decode(raw, time.Now())
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, got)
}

func TestRedisUnavailableIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRedis(client, "", time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	c.Set(ctx, "m1", []string{"view_team"})
	_, ok := c.Get(ctx, "m1")
	assert.False(t, ok)
	c.Invalidate(ctx, "m1")
	c.Purge(ctx)
	assert.Equal(t, "teamledger:perms:m1", c.redisKey("m1"))
	assert.Error(t, c.Ping(ctx))
}

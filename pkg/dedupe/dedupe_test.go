package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Seen(t *testing.T) {
	m := NewMemory(time.Minute)
	defer m.Close()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	dup, err := m.Seen(ctx, "update:1")
	require.NoError(t, err)
	assert.False(t, dup)

	dup, _ = m.Seen(ctx, "update:1")
	assert.True(t, dup)

	dup, _ = m.Seen(ctx, "callback:1")
	assert.False(t, dup, "keys are independent")

	now = now.Add(2 * time.Minute)
	dup, _ = m.Seen(ctx, "update:1")
	assert.False(t, dup, "expired keys are forgotten")

	m.sweep()
	assert.Equal(t, 1, m.Size())
}

func TestRedis_Seen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	d := NewRedisFromClient(client, "test:", time.Minute)
	t.Cleanup(func() { _ = d.Close() })
	ctx := context.Background()

	dup, err := d.Seen(ctx, "update:7")
	require.NoError(t, err)
	assert.False(t, dup)
	assert.True(t, mr.Exists("test:update:7"))

	dup, err = d.Seen(ctx, "update:7")
	require.NoError(t, err)
	assert.True(t, dup)

	mr.FastForward(2 * time.Minute)
	dup, err = d.Seen(ctx, "update:7")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestNewRedis_Unreachable(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)

	_, err = NewRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, "update", kindOf("update:1"))
	assert.Equal(t, "other", kindOf("plain"))
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/FlowPipe/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), config.RedisConfig{
		URL:          "redis://" + mr.Addr() + "/0",
		ReadTimeout:  1,
		WriteTimeout: 1,
		DialTimeout:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisSessionStore(t *testing.T) {
	_, client := setupTestRedis(t)
	clock := newFakeClock()
	exerciseSessionStore(t, NewRedisSessionStore(client, WithClock(clock.Now)), clock)
}

func TestRedisSessionStore_KeyTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	s := NewRedisSessionStore(client, WithTTL(10*time.Minute))

	require.NoError(t, s.Upsert(ctx, sampleSession("u1")))
	assert.Equal(t, 10*time.Minute, mr.TTL("flowpipe:session:u1"))

	mr.FastForward(11 * time.Minute)
	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got, "redis evicted the key")
}

func TestRedisSessionStore_CorruptValue(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set("flowpipe:session:u1", "not-json"))

	_, err := NewRedisSessionStore(client).Get(context.Background(), "u1")
	assert.Error(t, err)
}

func TestNewRedisClient_BadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), config.RedisConfig{URL: "::not a url"})
	assert.Error(t, err)
}

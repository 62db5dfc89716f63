package codecache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisCache(t *testing.T) {
	client := newRedisClient(t)
	ctx := context.Background()
	cache := NewRedis(client, time.Minute)

	captured := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, cache.Put(ctx, "+919876540001", Code{Code: "654321", CapturedAt: captured}))

	c, ok, err := cache.Get(ctx, "+919876540001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "654321", c.Code)
	assert.True(t, captured.Equal(c.CapturedAt))

	ttl, err := client.TTL(ctx, "otp:+919876540001").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, cache.Delete(ctx, "+919876540001"))
	_, ok, err = cache.Get(ctx, "+919876540001")
	require.NoError(t, err)
	assert.False(t, ok)
}

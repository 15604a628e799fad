package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisclient "github.com/zatekoja/patientflow/internal/infrastructure/clients/redis"
)

func newTestClient(t *testing.T) *redisclient.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Requires Redis connection (set REDIS_TEST_ADDR)")
	}
	client := redisclient.NewClientFrom(redis.NewClient(&redis.Options{Addr: addr}))
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()))
	return client
}

func TestRedisLeaseAdapter(t *testing.T) {
	client := newTestClient(t)
	leases := NewRedisLeaseAdapter(client)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	now := time.Now()

	lease, ok, err := leases.TryAcquire(ctx, key, "tok-a", 200*time.Millisecond, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok-a", lease.Token)

	_, ok, err = leases.TryAcquire(ctx, key, "tok-b", 200*time.Millisecond, now)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be rejected while the lease is in force")

	released, err := leases.Release(ctx, key, "tok-b")
	require.NoError(t, err)
	assert.False(t, released, "non-owner must not release")

	time.Sleep(300 * time.Millisecond)
	_, ok, err = leases.TryAcquire(ctx, key, "tok-b", time.Second, time.Now())
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is taken over")

	released, err = leases.Release(ctx, key, "tok-b")
	require.NoError(t, err)
	assert.True(t, released)
}

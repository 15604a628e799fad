package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	redisclient "github.com/zatekoja/patientflow/internal/infrastructure/clients/redis"
)

// releaseScript deletes the key only while it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseKeyPrefix namespaces lease keys in a shared Redis
const LeaseKeyPrefix = "lease:"

// RedisLeaseAdapter implements the LeaseProvider interface using Redis.
// Expiry is enforced by the Redis server clock through PX.
type RedisLeaseAdapter struct {
	client *redisclient.Client
}

// NewRedisLeaseAdapter creates a new Redis lease adapter
func NewRedisLeaseAdapter(client *redisclient.Client) providers.LeaseProvider {
	return &RedisLeaseAdapter{
		client: client,
	}
}

// TryAcquire sets the key with NX so only one holder wins until the TTL lapses
func (a *RedisLeaseAdapter) TryAcquire(ctx context.Context, key, token string, ttl time.Duration, now time.Time) (*entities.Lease, bool, error) {
	ok, err := a.client.Client().SetNX(ctx, LeaseKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &entities.Lease{Key: key, Token: token, CreatedAt: now, ExpiresAt: now.Add(ttl)}, true, nil
}

// Release deletes the lease if token still owns it
func (a *RedisLeaseAdapter) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, a.client.Client(), []string{LeaseKeyPrefix + key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lease %s: %w", key, err)
	}
	return n == 1, nil
}

package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	redisclient "github.com/zatekoja/patientflow/internal/infrastructure/clients/redis"
)

func newRedisBus(t *testing.T) providers.EventBus {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("Requires Redis connection (set REDIS_TEST_ADDR)")
	}
	client := redisclient.NewClientFrom(redis.NewClient(&redis.Options{Addr: addr}))
	t.Cleanup(func() { client.Close() })
	require.NoError(t, client.Ping(context.Background()))

	bus := NewRedisEventBus(client)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestRedisEventBus_PublishSubscribe(t *testing.T) {
	bus := newRedisBus(t)
	channel := providers.GetClinicChannel("test-" + uuid.NewString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)

	event := entities.NewQueueEvent(entities.QueueEventYourTurnNow, "1001", "lab",
		map[string]interface{}{"number": 3}, time.Now())

	// the server side subscription is established asynchronously
	var got *entities.QueueEvent
	require.Eventually(t, func() bool {
		if err := bus.Publish(context.Background(), channel, event); err != nil {
			return false
		}
		select {
		case got = <-ch:
			return got != nil
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)

	assert.Equal(t, event.ID, got.ID)
	assert.Equal(t, entities.QueueEventYourTurnNow, got.Type)
	assert.Equal(t, "1001", got.Recipient)
	assert.Equal(t, "lab", got.ClinicID)
	assert.EqualValues(t, 3, got.Payload["number"])

	cancel()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 20*time.Millisecond, "subscriber channel should close after cancel")
}

func TestRedisEventBus_UnsubscribeClosesSubscribers(t *testing.T) {
	bus := newRedisBus(t)
	channel := providers.GetPatientChannel("test-" + uuid.NewString())

	ch, err := bus.Subscribe(context.Background(), channel)
	require.NoError(t, err)
	require.NoError(t, bus.Unsubscribe(context.Background(), channel))

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed")
	}
}

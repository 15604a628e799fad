package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/adapters/memory"
	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

func TestLockManager_SecondAcquireIsBusy(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: fixtureStart}
	locks := services.NewLockManager(memory.NewLeaseTable(), 0)
	locks.SetClock(clock.Now)

	lease, err := locks.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, services.DefaultLeaseTTL, lease.TTL())
	assert.NotEmpty(t, lease.Token)

	_, err = locks.Acquire(ctx, "k", 0)
	assert.Equal(t, apperrors.ReasonBusy, apperrors.ReasonOf(err))

	_, err = locks.Acquire(ctx, "other", 0)
	assert.NoError(t, err)
}

func TestLockManager_ExpiredLeaseCanBeTaken(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: fixtureStart}
	locks := services.NewLockManager(memory.NewLeaseTable(), time.Second)
	locks.SetClock(clock.Now)

	stale, err := locks.Acquire(ctx, "k", 0)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	fresh, err := locks.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	assert.NotEqual(t, stale.Token, fresh.Token)

	// the stale holder cannot release the new lease
	require.NoError(t, locks.Release(ctx, stale))
	_, err = locks.Acquire(ctx, "k", 0)
	assert.Equal(t, apperrors.ReasonBusy, apperrors.ReasonOf(err))
}

func TestLockManager_WithLeaseReleasesOnError(t *testing.T) {
	ctx := context.Background()
	locks := services.NewLockManager(memory.NewLeaseTable(), 0)

	boom := errors.New("boom")
	err := locks.WithLease(ctx, "k", 0, func(ctx context.Context) error {
		_, err := locks.Acquire(ctx, "k", 0)
		assert.Equal(t, apperrors.ReasonBusy, apperrors.ReasonOf(err))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	lease, err := locks.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	require.NoError(t, locks.Release(ctx, lease))
}

type mockLeaseProvider struct {
	mock.Mock
}

func (m *mockLeaseProvider) TryAcquire(ctx context.Context, key, token string, ttl time.Duration, now time.Time) (*entities.Lease, bool, error) {
	args := m.Called(ctx, key, token, ttl, now)
	lease, _ := args.Get(0).(*entities.Lease)
	return lease, args.Bool(1), args.Error(2)
}

func (m *mockLeaseProvider) Release(ctx context.Context, key, token string) (bool, error) {
	args := m.Called(ctx, key, token)
	return args.Bool(0), args.Error(1)
}

func TestLockManager_StoreFailureIsInternal(t *testing.T) {
	provider := &mockLeaseProvider{}
	provider.On("TryAcquire", mock.Anything, "k", mock.AnythingOfType("string"), services.DefaultLeaseTTL, mock.Anything).
		Return(nil, false, errors.New("connection refused"))

	locks := services.NewLockManager(provider, 0)
	_, err := locks.Acquire(context.Background(), "k", 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInternal))
	provider.AssertExpectations(t)
}

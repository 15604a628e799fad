package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/adapters/memory"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

func TestStore_RollbackOnError(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		require.NoError(t, repos.Clinics.Upsert(ctx, &entities.Clinic{ID: "lab", Status: entities.ClinicStatusOpen}))
		return errors.New("abort")
	})
	require.Error(t, err)

	err = store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		_, err := repos.Clinics.GetByID(ctx, "lab")
		return err
	})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_NestedCallsJoinTransaction(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		if err := repos.Clinics.Upsert(ctx, &entities.Clinic{ID: "eye", Status: entities.ClinicStatusOpen}); err != nil {
			return err
		}
		return store.RunInTx(ctx, func(ctx context.Context, inner repositories.Repositories) error {
			_, err := inner.Clinics.GetByID(ctx, "eye")
			return err
		})
	})
	assert.NoError(t, err)
}

func TestStore_NextNumberStrictlyIncreasingUnderConcurrency(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	numbers := make(chan int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
				n, err := repos.Tickets.NextNumber(ctx, "lab", "2026-03-01")
				numbers <- n
				return err
			})
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %d", n)
		seen[n] = true
	}
	assert.Len(t, seen, 50)
	for i := 1; i <= 50; i++ {
		assert.True(t, seen[i])
	}
}

func TestStore_UpdateStatusGuard(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Now()

	err := store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		require.NoError(t, repos.Tickets.Create(ctx, &entities.QueueTicket{
			ID: "t1", ClinicID: "lab", PatientID: "1001", QueueDate: "2026-03-01", Number: 1, Status: entities.TicketStatusWaiting,
		}))

		ok, err := repos.Tickets.UpdateStatus(ctx, "t1", []entities.TicketStatus{entities.TicketStatusCalled},
			entities.TicketChange{To: entities.TicketStatusIn, StartedAt: &now})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = repos.Tickets.UpdateStatus(ctx, "t1", []entities.TicketStatus{entities.TicketStatusWaiting},
			entities.TicketChange{To: entities.TicketStatusCalled, CalledAt: &now})
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestLeaseTable_ExpiryAndOwnership(t *testing.T) {
	leases := memory.NewLeaseTable()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	lease, ok, err := leases.TryAcquire(ctx, "queue:call-next:lab", "a", 10*time.Second, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now.Add(10*time.Second), lease.ExpiresAt)

	_, ok, _ = leases.TryAcquire(ctx, "queue:call-next:lab", "b", 10*time.Second, now.Add(5*time.Second))
	assert.False(t, ok)

	released, _ := leases.Release(ctx, "queue:call-next:lab", "b")
	assert.False(t, released)

	_, ok, _ = leases.TryAcquire(ctx, "queue:call-next:lab", "b", 10*time.Second, now.Add(11*time.Second))
	assert.True(t, ok)

	released, _ = leases.Release(ctx, "queue:call-next:lab", "a")
	assert.False(t, released, "stale owner must not release the new holder's lease")
	released, _ = leases.Release(ctx, "queue:call-next:lab", "b")
	assert.True(t, released)
}

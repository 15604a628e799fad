package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/application/services"
	"github.com/zatekoja/patientflow/internal/domain/entities"
)

func TestSchedulerService_TickCallsAndExpires(t *testing.T) {
	f := newFixture(t)
	f.seedClinics(t,
		&entities.Clinic{ID: "lab", Capacity: 1},
		&entities.Clinic{ID: "xray", Capacity: 2},
		&entities.Clinic{ID: "eye"},
		&entities.Clinic{ID: "closed", Status: entities.ClinicStatusClosed},
	)
	for _, p := range []struct{ clinic, patient string }{
		{"lab", "1001"}, {"lab", "1002"}, {"xray", "1003"},
	} {
		_, err := f.queue.Enqueue(f.ctx, p.clinic, p.patient, services.EnqueueMeta{})
		require.NoError(t, err)
	}

	report, err := f.scheduler.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, services.TickReport{Clinics: 3, Called: 2, NoWaiting: 1}, *report)

	report, err = f.scheduler.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CapacityFull)
	assert.Equal(t, 0, report.Called)

	// the lab patient never shows up, the next one is admitted
	f.clock.Advance(6 * time.Minute)
	report, err = f.scheduler.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Expired)
	assert.Equal(t, 1, report.Called)

	snap, err := f.queue.Snapshot(f.ctx, "lab")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counts[entities.TicketStatusNoShow])
	assert.Equal(t, 1, snap.Counts[entities.TicketStatusCalled])
}

func TestSchedulerService_SkipsOutsideWorkingHours(t *testing.T) {
	f := newFixture(t)
	f.seedClinics(t, &entities.Clinic{ID: "lab"})
	_, err := f.queue.Enqueue(f.ctx, "lab", "1001", services.EnqueueMeta{})
	require.NoError(t, err)

	f.clock.Advance(7 * time.Hour) // 16:00
	report, err := f.scheduler.Tick(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)

	snap, err := f.queue.Snapshot(f.ctx, "lab")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counts[entities.TicketStatusWaiting])
}

func TestSchedulerService_BusyClinicIsCounted(t *testing.T) {
	f := newFixture(t)
	f.seedClinics(t, &entities.Clinic{ID: "lab"})
	_, err := f.queue.Enqueue(f.ctx, "lab", "1001", services.EnqueueMeta{})
	require.NoError(t, err)

	_, err = f.locks.Acquire(f.ctx, services.CallNextLeaseKey("lab"), time.Hour)
	require.NoError(t, err)

	report, err := f.scheduler.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Busy)
	assert.Equal(t, 0, report.Errors)
}

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

func newMockClient(t *testing.T) (*postgres.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.NewClientFromDB(db), mock
}

func ticketRows() *sqlmock.Rows {
	cols := make([]string, len(ticketColumns))
	for i, c := range ticketColumns {
		cols[i] = c.(string)
	}
	return sqlmock.NewRows(cols)
}

func TestStore_RunInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits when fn succeeds", func(t *testing.T) {
		client, mock := newMockClient(t)
		store := NewStore(client)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "system_settings"`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
			return repos.Settings.Set(ctx, entities.SettingGraceMinutes, "7")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		client, mock := newMockClient(t)
		store := NewStore(client)

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested call joins the running transaction", func(t *testing.T) {
		client, mock := newMockClient(t)
		store := NewStore(client)

		mock.ExpectBegin()
		mock.ExpectCommit()

		inner := false
		err := store.RunInTx(ctx, func(ctx context.Context, _ repositories.Repositories) error {
			return store.RunInTx(ctx, func(context.Context, repositories.Repositories) error {
				inner = true
				return nil
			})
		})
		require.NoError(t, err)
		assert.True(t, inner)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil, "unused"))

	err := mapError(&pq.Error{Code: pqUniqueViolation, Constraint: "queue_tickets_pkey"}, "failed to create ticket")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
	assert.True(t, apperrors.HasReason(err, apperrors.ReasonAlreadyExists))

	err = mapError(&pq.Error{Code: pqCheckViolation, Message: "bad priority"}, "failed to create ticket")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	err = mapError(errors.New("connection reset"), "failed to list clinics")
	assert.True(t, apperrors.HasReason(err, apperrors.ReasonDatabaseError))
}

func TestTicketAdapter_NextNumber(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewTicketAdapter(client.DB())

	mock.ExpectQuery(`INSERT INTO "ticket_counters" .* ON CONFLICT .* RETURNING "last_number"`).
		WillReturnRows(sqlmock.NewRows([]string{"last_number"}).AddRow(4))

	n, err := adapter.NextNumber(context.Background(), "lab", "2026-10-16")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTicketAdapter_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed id is not found without a query", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewTicketAdapter(client.DB())

		_, err := adapter.GetByID(ctx, "not-a-uuid")
		assert.True(t, apperrors.IsNotFound(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is not found", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewTicketAdapter(client.DB())
		id := uuid.NewString()

		mock.ExpectQuery(`SELECT .* FROM "queue_tickets"`).WithArgs(id).WillReturnRows(ticketRows())

		_, err := adapter.GetByID(ctx, id)
		assert.True(t, apperrors.IsNotFound(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scans a called ticket", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewTicketAdapter(client.DB())
		id := uuid.NewString()
		now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
		expires := now.Add(5 * time.Minute)

		mock.ExpectQuery(`SELECT .* FROM "queue_tickets"`).WithArgs(id).WillReturnRows(
			ticketRows().AddRow(id, "lab", "12345", "2026-10-16", 3, "called", 0,
				"general", "male", "", now, expires, nil, nil, now, now))

		ticket, err := adapter.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entities.TicketStatusCalled, ticket.Status)
		assert.Equal(t, entities.GenderMale, ticket.Gender)
		assert.Equal(t, 3, ticket.Number)
		require.NotNil(t, ticket.ExpiresAt)
		assert.True(t, ticket.ExpiresAt.Equal(expires))
		assert.Nil(t, ticket.StartedAt)
	})
}

func TestTicketAdapter_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	id := uuid.NewString()
	now := time.Now()

	t.Run("guard match", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewTicketAdapter(client.DB())

		mock.ExpectExec(`UPDATE "queue_tickets" SET .* WHERE .*"status" IN`).WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := adapter.UpdateStatus(ctx, id, []entities.TicketStatus{entities.TicketStatusCalled},
			entities.TicketChange{To: entities.TicketStatusIn, StartedAt: &now})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard miss", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewTicketAdapter(client.DB())

		mock.ExpectExec(`UPDATE "queue_tickets"`).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := adapter.UpdateStatus(ctx, id, []entities.TicketStatus{entities.TicketStatusCalled},
			entities.TicketChange{To: entities.TicketStatusIn, StartedAt: &now})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTicketAdapter_CreateDuplicateNumber(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewTicketAdapter(client.DB())

	mock.ExpectExec(`INSERT INTO "queue_tickets"`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Constraint: "queue_tickets_clinic_id_queue_date_number_key"})

	err := adapter.Create(context.Background(), &entities.QueueTicket{
		ID: uuid.NewString(), ClinicID: "lab", PatientID: "12345", QueueDate: "2026-10-16",
		Number: 1, Status: entities.TicketStatusWaiting,
	})
	assert.True(t, apperrors.HasReason(err, apperrors.ReasonAlreadyExists))
}

func TestClinicLoadAdapter(t *testing.T) {
	ctx := context.Background()
	cols := make([]string, len(loadColumns))
	for i, c := range loadColumns {
		cols[i] = c.(string)
	}

	t.Run("missing row yields an empty load", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewClinicLoadAdapter(client.DB())

		mock.ExpectQuery(`SELECT .* FROM "clinic_loads"`).WillReturnRows(sqlmock.NewRows(cols))

		load, err := adapter.Get(ctx, "lab", "2026-10-16")
		require.NoError(t, err)
		assert.Equal(t, 0, load.Occupied())
		assert.Equal(t, 1.0, load.EfficiencyScore)
	})

	t.Run("apply locks, increments and writes back", func(t *testing.T) {
		client, mock := newMockClient(t)
		adapter := NewClinicLoadAdapter(client.DB())
		now := time.Now()

		mock.ExpectExec(`INSERT INTO "clinic_loads" .* ON CONFLICT DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT .* FROM "clinic_loads" .* FOR UPDATE`).WillReturnRows(
			sqlmock.NewRows(cols).AddRow("lab", "2026-10-16", 1, 0, 4, 2, 0, 1.0, now, nil, now))
		mock.ExpectExec(`UPDATE "clinic_loads"`).WillReturnResult(sqlmock.NewResult(0, 1))

		load, err := adapter.Apply(ctx, "lab", "2026-10-16", entities.LoadDelta{Called: -1, Served: 1})
		require.NoError(t, err)
		assert.Equal(t, 0, load.CurrentCalled)
		assert.Equal(t, 3, load.TotalServedToday)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLeaseAdapter(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("acquires a free key", func(t *testing.T) {
		client, mock := newMockClient(t)
		leases := NewLeaseAdapter(client)

		mock.ExpectQuery(`INSERT INTO "leases" .* ON CONFLICT .* WHERE .* RETURNING "token"`).
			WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("tok-1"))

		lease, ok, err := leases.TryAcquire(ctx, "queue:call-next:lab", "tok-1", 10*time.Second, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 10*time.Second, lease.TTL())
	})

	t.Run("held key is busy", func(t *testing.T) {
		client, mock := newMockClient(t)
		leases := NewLeaseAdapter(client)

		mock.ExpectQuery(`INSERT INTO "leases"`).WillReturnRows(sqlmock.NewRows([]string{"token"}))

		lease, ok, err := leases.TryAcquire(ctx, "queue:call-next:lab", "tok-2", 10*time.Second, now)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, lease)
	})

	t.Run("release deletes only the owner's row", func(t *testing.T) {
		client, mock := newMockClient(t)
		leases := NewLeaseAdapter(client)

		mock.ExpectExec(`DELETE FROM "leases"`).WithArgs("queue:call-next:lab", "tok-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		released, err := leases.Release(ctx, "queue:call-next:lab", "tok-1")
		require.NoError(t, err)
		assert.True(t, released)
	})
}

func TestPatientRouteAdapter_Get(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewPatientRouteAdapter(client.DB())
	now := time.Now()

	cols := []string{"patient_id", "step_order", "clinic_id", "status", "exam_type", "gender",
		"priority", "started_at", "completed_at", "created_at"}
	mock.ExpectQuery(`SELECT .* FROM "patient_routes"`).WillReturnRows(sqlmock.NewRows(cols).
		AddRow("12345", 1, "lab", "done", "general", "male", 0, now, now, now).
		AddRow("12345", 2, "xray", "active", "general", "male", 0, now, nil, now))

	route, err := adapter.Get(context.Background(), "12345")
	require.NoError(t, err)
	require.Len(t, route.Steps, 2)
	assert.Equal(t, "general", route.ExamType)
	assert.Equal(t, "xray", route.ActiveStep().ClinicID)
	assert.Equal(t, 50, route.Status().Progress)
}

func TestSettingsAdapter_All(t *testing.T) {
	client, mock := newMockClient(t)
	adapter := NewSettingsAdapter(client.DB())

	mock.ExpectQuery(`SELECT "key", "value" FROM "system_settings"`).WillReturnRows(
		sqlmock.NewRows([]string{"key", "value"}).
			AddRow("grace_minutes", "5").
			AddRow("max_capacity_per_clinic", "6"))

	settings, err := adapter.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "5", settings["grace_minutes"])
	assert.Len(t, settings, 2)
}

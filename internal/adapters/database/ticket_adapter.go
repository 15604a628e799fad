package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

var ticketColumns = []interface{}{
	"id", "clinic_id", "patient_id", "queue_date", "number", "status", "priority",
	"exam_type", "gender", "notes", "called_at", "expires_at", "started_at", "finished_at",
	"created_at", "updated_at",
}

// TicketAdapter implements the TicketRepository interface
type TicketAdapter struct {
	q sqlx.ExtContext
}

// NewTicketAdapter creates a new ticket adapter outside any transaction
func NewTicketAdapter(q sqlx.ExtContext) repositories.TicketRepository {
	return &TicketAdapter{q: q}
}

// NextNumber atomically reserves the next ticket number of a clinic day
func (a *TicketAdapter) NextNumber(ctx context.Context, clinicID, date string) (int, error) {
	query, args, err := dialect.Insert("ticket_counters").
		Rows(goqu.Record{"clinic_id": clinicID, "queue_date": date, "last_number": 1}).
		OnConflict(goqu.DoUpdate("clinic_id, queue_date", goqu.Record{
			"last_number": goqu.L("ticket_counters.last_number + 1"),
		})).
		Returning("last_number").
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build query", err)
	}

	var number int
	if err := sqlx.GetContext(ctx, a.q, &number, query, args...); err != nil {
		return 0, mapError(err, "failed to reserve ticket number")
	}
	return number, nil
}

// Create inserts a new ticket
func (a *TicketAdapter) Create(ctx context.Context, ticket *entities.QueueTicket) error {
	ds := dialect.Insert("queue_tickets").Rows(goqu.Record{
		"id":          ticket.ID,
		"clinic_id":   ticket.ClinicID,
		"patient_id":  ticket.PatientID,
		"queue_date":  ticket.QueueDate,
		"number":      ticket.Number,
		"status":      ticket.Status,
		"priority":    ticket.Priority,
		"exam_type":   ticket.ExamType,
		"gender":      ticket.Gender,
		"notes":       ticket.Notes,
		"called_at":   ticket.CalledAt,
		"expires_at":  ticket.ExpiresAt,
		"started_at":  ticket.StartedAt,
		"finished_at": ticket.FinishedAt,
		"created_at":  ticket.CreatedAt,
		"updated_at":  ticket.UpdatedAt,
	}).Prepared(true)

	if _, err := exec(ctx, a.q, ds); err != nil {
		return mapError(err, "failed to create ticket")
	}
	return nil
}

// GetByID retrieves a ticket by ID
func (a *TicketAdapter) GetByID(ctx context.Context, id string) (*entities.QueueTicket, error) {
	notFound := fmt.Sprintf("ticket with id %s not found", id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError(notFound)
	}

	ds := dialect.From("queue_tickets").Select(ticketColumns...).Where(goqu.Ex{"id": id})
	ticket := &entities.QueueTicket{}
	if err := get(ctx, a.q, ticket, ds); err != nil {
		return nil, mapError(err, notFound)
	}
	return ticket, nil
}

func activeStatuses() []string {
	out := make([]string, len(entities.ActiveTicketStatuses))
	for i, s := range entities.ActiveTicketStatuses {
		out[i] = string(s)
	}
	return out
}

// FindActive returns the patient's waiting, called or in ticket at a clinic on a day
func (a *TicketAdapter) FindActive(ctx context.Context, clinicID, patientID, date string) (*entities.QueueTicket, error) {
	ds := dialect.From("queue_tickets").Select(ticketColumns...).
		Where(goqu.Ex{
			"clinic_id":  clinicID,
			"patient_id": patientID,
			"queue_date": date,
			"status":     activeStatuses(),
		}).
		Order(goqu.I("created_at").Desc(), goqu.I("number").Desc()).
		Limit(1)

	ticket := &entities.QueueTicket{}
	if err := get(ctx, a.q, ticket, ds); err != nil {
		return nil, mapError(err, fmt.Sprintf("no active ticket for patient %s at clinic %s", patientID, clinicID))
	}
	return ticket, nil
}

// FindCurrentForPatient returns the patient's most recent active ticket on a day, any clinic
func (a *TicketAdapter) FindCurrentForPatient(ctx context.Context, patientID, date string) (*entities.QueueTicket, error) {
	ds := dialect.From("queue_tickets").Select(ticketColumns...).
		Where(goqu.Ex{
			"patient_id": patientID,
			"queue_date": date,
			"status":     activeStatuses(),
		}).
		Order(goqu.I("created_at").Desc(), goqu.I("number").Desc()).
		Limit(1)

	ticket := &entities.QueueTicket{}
	if err := get(ctx, a.q, ticket, ds); err != nil {
		return nil, mapError(err, fmt.Sprintf("no active ticket for patient %s", patientID))
	}
	return ticket, nil
}

// ExistsForPatient reports whether the patient has any ticket on a day
func (a *TicketAdapter) ExistsForPatient(ctx context.Context, patientID, date string) (bool, error) {
	inner := dialect.From("queue_tickets").Select(goqu.L("1")).
		Where(goqu.Ex{"patient_id": patientID, "queue_date": date})
	ds := dialect.Select(goqu.Func("EXISTS", inner))

	var exists bool
	if err := get(ctx, a.q, &exists, ds); err != nil {
		return false, mapError(err, "failed to check patient tickets")
	}
	return exists, nil
}

// NextWaiting returns the first waiting ticket in service order. The row stays
// locked until the transaction ends; rows locked by other callers are skipped.
func (a *TicketAdapter) NextWaiting(ctx context.Context, clinicID, date string) (*entities.QueueTicket, error) {
	ds := dialect.From("queue_tickets").Select(ticketColumns...).
		Where(goqu.Ex{
			"clinic_id":  clinicID,
			"queue_date": date,
			"status":     entities.TicketStatusWaiting,
		}).
		Order(goqu.I("priority").Desc(), goqu.I("number").Asc()).
		Limit(1).
		ForUpdate(exp.SkipLocked)

	ticket := &entities.QueueTicket{}
	if err := get(ctx, a.q, ticket, ds); err != nil {
		return nil, mapError(err, fmt.Sprintf("no waiting ticket at clinic %s", clinicID))
	}
	return ticket, nil
}

// CountAhead counts the waiting tickets served before the given one
func (a *TicketAdapter) CountAhead(ctx context.Context, ticket *entities.QueueTicket) (int, error) {
	ds := dialect.From("queue_tickets").Select(goqu.COUNT("*")).
		Where(
			goqu.Ex{
				"clinic_id":  ticket.ClinicID,
				"queue_date": ticket.QueueDate,
				"status":     entities.TicketStatusWaiting,
			},
			goqu.C("id").Neq(ticket.ID),
			goqu.Or(
				goqu.C("priority").Gt(ticket.Priority),
				goqu.And(
					goqu.C("priority").Eq(ticket.Priority),
					goqu.C("number").Lt(ticket.Number),
				),
			),
		)

	var n int
	if err := get(ctx, a.q, &n, ds); err != nil {
		return 0, mapError(err, "failed to count tickets ahead")
	}
	return n, nil
}

// ListByClinic returns a clinic day's tickets in service order
func (a *TicketAdapter) ListByClinic(ctx context.Context, clinicID, date string) ([]*entities.QueueTicket, error) {
	ds := dialect.From("queue_tickets").Select(ticketColumns...).
		Where(goqu.Ex{"clinic_id": clinicID, "queue_date": date}).
		Order(goqu.I("priority").Desc(), goqu.I("number").Asc())

	var tickets []*entities.QueueTicket
	if err := selectAll(ctx, a.q, &tickets, ds); err != nil {
		return nil, mapError(err, "failed to list clinic tickets")
	}
	return tickets, nil
}

// UpdateStatus applies change only while the ticket status is one of from
func (a *TicketAdapter) UpdateStatus(ctx context.Context, id string, from []entities.TicketStatus, change entities.TicketChange) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	record := goqu.Record{"status": change.To, "updated_at": time.Now()}
	if change.CalledAt != nil {
		record["called_at"] = *change.CalledAt
	}
	if change.ExpiresAt != nil {
		record["expires_at"] = *change.ExpiresAt
	}
	if change.StartedAt != nil {
		record["started_at"] = *change.StartedAt
	}
	if change.FinishedAt != nil {
		record["finished_at"] = *change.FinishedAt
	}

	guard := make([]string, len(from))
	for i, s := range from {
		guard[i] = string(s)
	}

	ds := dialect.Update("queue_tickets").Set(record).
		Where(goqu.Ex{"id": id, "status": guard}).
		Prepared(true)

	n, err := exec(ctx, a.q, ds)
	if err != nil {
		return false, mapError(err, "failed to update ticket status")
	}
	return n == 1, nil
}

// ExpireCalled moves every called ticket of a clinic whose grace period ended before now to no_show
func (a *TicketAdapter) ExpireCalled(ctx context.Context, clinicID string, now time.Time) ([]*entities.QueueTicket, error) {
	query, args, err := dialect.Update("queue_tickets").
		Set(goqu.Record{"status": entities.TicketStatusNoShow, "updated_at": now}).
		Where(
			goqu.Ex{"clinic_id": clinicID, "status": entities.TicketStatusCalled},
			goqu.C("expires_at").Lt(now),
		).
		Returning(ticketColumns...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var expired []*entities.QueueTicket
	if err := sqlx.SelectContext(ctx, a.q, &expired, query, args...); err != nil {
		return nil, mapError(err, "failed to expire called tickets")
	}
	sortByNumber(expired)
	return expired, nil
}

// RaisePriority sets the priority of the patient's waiting and called tickets on a day
func (a *TicketAdapter) RaisePriority(ctx context.Context, patientID, date string, priority int) (int, error) {
	ds := dialect.Update("queue_tickets").
		Set(goqu.Record{"priority": priority, "updated_at": time.Now()}).
		Where(goqu.Ex{
			"patient_id": patientID,
			"queue_date": date,
			"status":     []string{string(entities.TicketStatusWaiting), string(entities.TicketStatusCalled)},
		}).
		Prepared(true)

	n, err := exec(ctx, a.q, ds)
	if err != nil {
		return 0, mapError(err, "failed to raise ticket priority")
	}
	return int(n), nil
}

func sortByNumber(ts []*entities.QueueTicket) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Number < ts[j].Number })
}

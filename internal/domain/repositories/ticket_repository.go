package repositories

import (
	"context"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
)

// TicketRepository defines the interface for queue ticket data operations.
// Finders return a NOT_FOUND AppError when nothing matches.
type TicketRepository interface {
	// NextNumber atomically reserves the next ticket number of a clinic day
	NextNumber(ctx context.Context, clinicID, date string) (int, error)

	// Create inserts a new ticket
	Create(ctx context.Context, ticket *entities.QueueTicket) error

	// GetByID retrieves a ticket by ID
	GetByID(ctx context.Context, id string) (*entities.QueueTicket, error)

	// FindActive returns the patient's waiting, called or in ticket at a clinic on a day
	FindActive(ctx context.Context, clinicID, patientID, date string) (*entities.QueueTicket, error)

	// FindCurrentForPatient returns the patient's most recent active ticket on a day, any clinic
	FindCurrentForPatient(ctx context.Context, patientID, date string) (*entities.QueueTicket, error)

	// ExistsForPatient reports whether the patient has any ticket on a day
	ExistsForPatient(ctx context.Context, patientID, date string) (bool, error)

	// NextWaiting returns the first waiting ticket by priority desc, number asc,
	// locked against concurrent callers where the store supports it
	NextWaiting(ctx context.Context, clinicID, date string) (*entities.QueueTicket, error)

	// CountAhead counts the waiting tickets served before the given one
	CountAhead(ctx context.Context, ticket *entities.QueueTicket) (int, error)

	// ListByClinic returns a clinic day's tickets in service order
	ListByClinic(ctx context.Context, clinicID, date string) ([]*entities.QueueTicket, error)

	// UpdateStatus applies change only while the ticket status is one of from.
	// It reports false when the guard did not match.
	UpdateStatus(ctx context.Context, id string, from []entities.TicketStatus, change entities.TicketChange) (bool, error)

	// ExpireCalled moves every called ticket of a clinic whose grace period ended before now to no_show
	ExpireCalled(ctx context.Context, clinicID string, now time.Time) ([]*entities.QueueTicket, error)

	// RaisePriority sets the priority of the patient's waiting and called tickets on a day
	RaisePriority(ctx context.Context, patientID, date string, priority int) (int, error)
}

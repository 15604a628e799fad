package entities

import (
	"time"
)

// TicketStatus represents the state of a queue ticket
type TicketStatus string

const (
	TicketStatusWaiting TicketStatus = "waiting"
	TicketStatusCalled  TicketStatus = "called"
	TicketStatusIn      TicketStatus = "in"
	TicketStatusDone    TicketStatus = "done"
	TicketStatusNoShow  TicketStatus = "no_show"
)

// Priorities. Higher is served first.
const (
	PriorityNormal    = 0
	PriorityEmergency = 3
)

// ticketTransitions lists every allowed edge of the ticket state machine
var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusWaiting: {TicketStatusCalled},
	TicketStatusCalled:  {TicketStatusIn, TicketStatusDone, TicketStatusNoShow},
	TicketStatusIn:      {TicketStatusDone},
}

// CanTransition reports whether a ticket may move from one status to another
func CanTransition(from, to TicketStatus) bool {
	for _, allowed := range ticketTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ActiveTicketStatuses are the statuses that hold a place in a clinic
var ActiveTicketStatuses = []TicketStatus{TicketStatusWaiting, TicketStatusCalled, TicketStatusIn}

// IsActive reports whether the status still holds a place in the clinic
func (s TicketStatus) IsActive() bool {
	return s == TicketStatusWaiting || s == TicketStatusCalled || s == TicketStatusIn
}

// IsTerminal reports whether no further transition is possible
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusDone || s == TicketStatusNoShow
}

// QueueTicket is a patient's slot at one clinic for one calendar day
type QueueTicket struct {
	ID         string       `json:"id" db:"id"`
	ClinicID   string       `json:"clinic_id" db:"clinic_id"`
	PatientID  string       `json:"patient_id" db:"patient_id"`
	QueueDate  string       `json:"queue_date" db:"queue_date"`
	Number     int          `json:"number" db:"number"`
	Status     TicketStatus `json:"status" db:"status"`
	Priority   int          `json:"priority" db:"priority"`
	ExamType   string       `json:"exam_type" db:"exam_type"`
	Gender     Gender       `json:"gender" db:"gender"`
	Notes      string       `json:"notes,omitempty" db:"notes"`
	CalledAt   *time.Time   `json:"called_at,omitempty" db:"called_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// Ahead reports whether t is served before other in the same clinic queue
func (t *QueueTicket) Ahead(other *QueueTicket) bool {
	if t.Priority != other.Priority {
		return t.Priority > other.Priority
	}
	return t.Number < other.Number
}

// IsExpired reports whether a called ticket has passed its grace period
func (t *QueueTicket) IsExpired(now time.Time) bool {
	return t.Status == TicketStatusCalled && t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// TicketChange describes a guarded status update of a single ticket
type TicketChange struct {
	To         TicketStatus
	CalledAt   *time.Time
	ExpiresAt  *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Apply copies the change onto the ticket
func (c TicketChange) Apply(t *QueueTicket, now time.Time) {
	t.Status = c.To
	if c.CalledAt != nil {
		t.CalledAt = c.CalledAt
	}
	if c.ExpiresAt != nil {
		t.ExpiresAt = c.ExpiresAt
	}
	if c.StartedAt != nil {
		t.StartedAt = c.StartedAt
	}
	if c.FinishedAt != nil {
		t.FinishedAt = c.FinishedAt
	}
	t.UpdatedAt = now
}

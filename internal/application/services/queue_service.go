package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// EnqueueMeta carries the ticket attributes chosen by the caller
type EnqueueMeta struct {
	ExamType string
	Gender   entities.Gender
	Priority int
	Notes    string

	// allowClosed lets routing park a patient at a closed template clinic
	allowClosed bool
}

// EnqueueResult is the outcome of an enqueue
type EnqueueResult struct {
	Ticket *entities.QueueTicket `json:"ticket"`
	// Position is 1 for the next patient to be called, 0 when not waiting
	Position int `json:"position"`
	// Existing is true when the patient already held an active ticket
	Existing bool `json:"existing"`
}

// CallResult is the outcome of a successful call-next
type CallResult struct {
	Ticket *entities.QueueTicket `json:"ticket"`
	Load   *entities.ClinicLoad  `json:"load"`
}

// QueueSnapshot is a clinic's queue for today
type QueueSnapshot struct {
	ClinicID string                        `json:"clinic_id"`
	Date     string                        `json:"date"`
	Capacity int                           `json:"capacity"`
	Counts   map[entities.TicketStatus]int `json:"counts"`
	Load     *entities.ClinicLoad          `json:"load"`
	Tickets  []*entities.QueueTicket       `json:"tickets"`
}

// QueueService owns the ticket lifecycle of every clinic
type QueueService struct {
	store    repositories.Store
	config   ConfigProvider
	locks    *LockManager
	notifier *Notifier
	leaseTTL time.Duration
	now      func() time.Time
	metrics  *observability.Metrics
}

// NewQueueService creates a new queue service
func NewQueueService(store repositories.Store, config ConfigProvider, locks *LockManager, notifier *Notifier) *QueueService {
	return &QueueService{
		store:    store,
		config:   config,
		locks:    locks,
		notifier: notifier,
		leaseTTL: DefaultLeaseTTL,
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (s *QueueService) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics enables queue metrics
func (s *QueueService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// SetLeaseTTL sets the lifetime of the call-next lease
func (s *QueueService) SetLeaseTTL(ttl time.Duration) {
	if ttl > 0 {
		s.leaseTTL = ttl
	}
}

// Enqueue gives the patient a waiting ticket at the clinic. A patient who
// already holds an active ticket there gets that ticket back.
func (s *QueueService) Enqueue(ctx context.Context, clinicID, patientID string, meta EnqueueMeta) (*EnqueueResult, error) {
	ctx, span := observability.StartSpan(ctx, "QueueService.Enqueue",
		attribute.String("clinic.id", clinicID), attribute.String("patient.id", patientID))
	defer span.End()

	var result *EnqueueResult
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		var err error
		result, err = s.enqueueTx(ctx, repos, ob, clinicID, patientID, meta)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

func (s *QueueService) enqueueTx(ctx context.Context, repos repositories.Repositories, _ *outbox, clinicID, patientID string, meta EnqueueMeta) (*EnqueueResult, error) {
	if err := entities.ValidatePatientID(patientID); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	if err := entities.ValidatePriority(meta.Priority); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	clinic, err := repos.Clinics.GetByID(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if !clinic.IsOpen() && !meta.allowClosed {
		return nil, apperrors.NewConflictError(fmt.Sprintf("clinic %s is closed", clinicID)).WithReason(apperrors.ReasonClinicClosed)
	}

	now := s.now()
	date := s.config.Current().DateKey(now)

	existing, err := repos.Tickets.FindActive(ctx, clinicID, patientID, date)
	if err == nil {
		position, err := s.position(ctx, repos, existing)
		if err != nil {
			return nil, err
		}
		return &EnqueueResult{Ticket: existing, Position: position, Existing: true}, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	number, err := repos.Tickets.NextNumber(ctx, clinicID, date)
	if err != nil {
		return nil, err
	}

	ticket := &entities.QueueTicket{
		ID:        uuid.NewString(),
		ClinicID:  clinicID,
		PatientID: patientID,
		QueueDate: date,
		Number:    number,
		Status:    entities.TicketStatusWaiting,
		Priority:  meta.Priority,
		ExamType:  meta.ExamType,
		Gender:    meta.Gender,
		Notes:     strings.TrimSpace(meta.Notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repos.Tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}

	position, err := s.position(ctx, repos, ticket)
	if err != nil {
		return nil, err
	}
	observability.RecordTransition(ctx, s.metrics, clinicID, string(entities.TicketStatusWaiting), 1)
	return &EnqueueResult{Ticket: ticket, Position: position}, nil
}

func (s *QueueService) position(ctx context.Context, repos repositories.Repositories, ticket *entities.QueueTicket) (int, error) {
	if ticket.Status != entities.TicketStatusWaiting {
		return 0, nil
	}
	ahead, err := repos.Tickets.CountAhead(ctx, ticket)
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// CallNext admits the next waiting patient of a clinic. It holds the clinic's
// call-next lease for the whole read-decide-write, so concurrent callers get
// reason "busy" instead of advancing the queue twice.
func (s *QueueService) CallNext(ctx context.Context, clinicID string) (*CallResult, error) {
	ctx, span := observability.StartSpan(ctx, "QueueService.CallNext", attribute.String("clinic.id", clinicID))
	defer span.End()

	var result *CallResult
	err := s.locks.WithLease(ctx, CallNextLeaseKey(clinicID), s.leaseTTL, func(ctx context.Context) error {
		return runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
			var err error
			result, err = s.callNextTx(ctx, repos, ob, clinicID)
			return err
		})
	})
	if err != nil {
		if reason := apperrors.ReasonOf(err); isExpectedRejection(reason) {
			observability.RecordRejection(ctx, s.metrics, "call_next", reason)
		} else {
			observability.RecordError(span, err)
		}
		return nil, err
	}
	return result, nil
}

func (s *QueueService) callNextTx(ctx context.Context, repos repositories.Repositories, ob *outbox, clinicID string) (*CallResult, error) {
	cfg := s.config.Current()
	now := s.now()
	date := cfg.DateKey(now)

	clinic, err := repos.Clinics.GetByID(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	if !clinic.IsOpen() {
		return nil, apperrors.NewConflictError(fmt.Sprintf("clinic %s is closed", clinicID)).WithReason(apperrors.ReasonClinicClosed)
	}

	load, err := repos.Loads.Get(ctx, clinicID, date)
	if err != nil {
		return nil, err
	}
	capacity := clinic.EffectiveCapacity(cfg.MaxCapacity)
	if load.Occupied() >= capacity {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("clinic %s is at capacity (%d/%d)", clinicID, load.Occupied(), capacity),
		).WithReason(apperrors.ReasonCapacityFull)
	}

	ticket, err := repos.Tickets.NextWaiting(ctx, clinicID, date)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no waiting patients at clinic %s", clinicID)).WithReason(apperrors.ReasonNoWaiting)
	}
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(cfg.Grace())
	change := entities.TicketChange{To: entities.TicketStatusCalled, CalledAt: &now, ExpiresAt: &expiresAt}
	if err := s.transition(ctx, repos, ticket, change, now); err != nil {
		if apperrors.HasReason(err, apperrors.ReasonNotActive) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("no waiting patients at clinic %s", clinicID)).WithReason(apperrors.ReasonNoWaiting)
		}
		return nil, err
	}

	load, err = repos.Loads.Apply(ctx, clinicID, date, entities.LoadDelta{Called: 1, LastCalledAt: &now})
	if err != nil {
		return nil, err
	}

	ob.add(entities.NewQueueEvent(entities.QueueEventApproachingTurn, ticket.PatientID, clinicID, map[string]interface{}{
		"ticket_id":     ticket.ID,
		"number":        ticket.Number,
		"grace_minutes": cfg.GraceMinutes,
		"expires_at":    expiresAt,
	}, now))

	observability.LoggerFromContext(ctx).Info().
		Str("clinic_id", clinicID).
		Str("patient_id", ticket.PatientID).
		Int("number", ticket.Number).
		Msg("called next patient")
	return &CallResult{Ticket: ticket, Load: load}, nil
}

// transition applies a guarded status change to ticket. It fails with reason
// not_active when the stored status no longer allows the change.
func (s *QueueService) transition(ctx context.Context, repos repositories.Repositories, ticket *entities.QueueTicket, change entities.TicketChange, now time.Time) error {
	if !entities.CanTransition(ticket.Status, change.To) {
		return apperrors.NewConflictError(
			fmt.Sprintf("ticket %s cannot move from %s to %s", ticket.ID, ticket.Status, change.To),
		).WithReason(apperrors.ReasonNotActive)
	}
	ok, err := repos.Tickets.UpdateStatus(ctx, ticket.ID, []entities.TicketStatus{ticket.Status}, change)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewConflictError(fmt.Sprintf("ticket %s changed concurrently", ticket.ID)).WithReason(apperrors.ReasonNotActive)
	}
	change.Apply(ticket, now)
	observability.RecordTransition(ctx, s.metrics, ticket.ClinicID, string(change.To), 1)
	return nil
}

// CheckIn moves the patient's own called ticket at the clinic inside
func (s *QueueService) CheckIn(ctx context.Context, clinicID, patientID string) (*entities.QueueTicket, error) {
	ctx, span := observability.StartSpan(ctx, "QueueService.CheckIn",
		attribute.String("clinic.id", clinicID), attribute.String("patient.id", patientID))
	defer span.End()

	var ticket *entities.QueueTicket
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		found, err := s.findActiveTx(ctx, repos, clinicID, patientID, apperrors.ReasonNotCalled)
		if err != nil {
			return err
		}
		ticket = found
		return s.checkInTx(ctx, repos, ob, ticket)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return ticket, nil
}

func (s *QueueService) findActiveTx(ctx context.Context, repos repositories.Repositories, clinicID, patientID, reason string) (*entities.QueueTicket, error) {
	date := s.config.Current().DateKey(s.now())
	ticket, err := repos.Tickets.FindActive(ctx, clinicID, patientID, date)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("patient %s has no active ticket at clinic %s", patientID, clinicID),
		).WithReason(reason)
	}
	return ticket, err
}

func (s *QueueService) checkInTx(ctx context.Context, repos repositories.Repositories, ob *outbox, ticket *entities.QueueTicket) error {
	if ticket.Status != entities.TicketStatusCalled {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("patient %s has not been called at clinic %s", ticket.PatientID, ticket.ClinicID),
		).WithReason(apperrors.ReasonNotCalled)
	}

	now := s.now()
	change := entities.TicketChange{To: entities.TicketStatusIn, StartedAt: &now}
	if err := s.transition(ctx, repos, ticket, change, now); err != nil {
		if apperrors.HasReason(err, apperrors.ReasonNotActive) {
			return apperrors.NewNotFoundError(fmt.Sprintf("ticket %s is no longer called", ticket.ID)).WithReason(apperrors.ReasonNotCalled)
		}
		return err
	}

	if _, err := repos.Loads.Apply(ctx, ticket.ClinicID, ticket.QueueDate, entities.LoadDelta{Called: -1, In: 1}); err != nil {
		return err
	}

	ob.add(entities.NewQueueEvent(entities.QueueEventYourTurnNow, ticket.PatientID, ticket.ClinicID, map[string]interface{}{
		"ticket_id": ticket.ID,
		"number":    ticket.Number,
	}, now))
	return nil
}

// Complete finishes the patient's called or in ticket at the clinic
func (s *QueueService) Complete(ctx context.Context, clinicID, patientID string) (*entities.QueueTicket, error) {
	ctx, span := observability.StartSpan(ctx, "QueueService.Complete",
		attribute.String("clinic.id", clinicID), attribute.String("patient.id", patientID))
	defer span.End()

	var ticket *entities.QueueTicket
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		var err error
		ticket, err = s.completeTx(ctx, repos, ob, clinicID, patientID)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return ticket, nil
}

func (s *QueueService) completeTx(ctx context.Context, repos repositories.Repositories, ob *outbox, clinicID, patientID string) (*entities.QueueTicket, error) {
	ticket, err := s.findActiveTx(ctx, repos, clinicID, patientID, apperrors.ReasonNotActive)
	if err != nil {
		return nil, err
	}
	if ticket.Status != entities.TicketStatusCalled && ticket.Status != entities.TicketStatusIn {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("patient %s is still waiting at clinic %s", patientID, clinicID),
		).WithReason(apperrors.ReasonNotActive)
	}

	prior := ticket.Status
	now := s.now()
	if err := s.transition(ctx, repos, ticket, entities.TicketChange{To: entities.TicketStatusDone, FinishedAt: &now}, now); err != nil {
		if apperrors.HasReason(err, apperrors.ReasonNotActive) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("ticket %s is no longer active", ticket.ID)).WithReason(apperrors.ReasonNotActive)
		}
		return nil, err
	}

	delta := entities.LoadDelta{Served: 1, LastCompletedAt: &now}
	if prior == entities.TicketStatusIn {
		delta.In = -1
	} else {
		delta.Called = -1
	}
	if _, err := repos.Loads.Apply(ctx, clinicID, ticket.QueueDate, delta); err != nil {
		return nil, err
	}

	ob.add(entities.NewQueueEvent(entities.QueueEventCompleteCheckup, patientID, clinicID, map[string]interface{}{
		"ticket_id": ticket.ID,
		"number":    ticket.Number,
	}, now))
	return ticket, nil
}

// ExpireNoShows marks every called ticket of the clinic whose grace period
// has passed as no_show and returns how many were expired
func (s *QueueService) ExpireNoShows(ctx context.Context, clinicID string) (int, error) {
	ctx, span := observability.StartSpan(ctx, "QueueService.ExpireNoShows", attribute.String("clinic.id", clinicID))
	defer span.End()

	var count int
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		var err error
		count, err = s.expireTx(ctx, repos, ob, clinicID)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return 0, err
	}
	return count, nil
}

func (s *QueueService) expireTx(ctx context.Context, repos repositories.Repositories, ob *outbox, clinicID string) (int, error) {
	now := s.now()
	expired, err := repos.Tickets.ExpireCalled(ctx, clinicID, now)
	if err != nil || len(expired) == 0 {
		return 0, err
	}

	perDay := make(map[string]int)
	for _, t := range expired {
		perDay[t.QueueDate]++
		ob.add(entities.NewQueueEvent(entities.QueueEventNoShowWarning, t.PatientID, clinicID, map[string]interface{}{
			"ticket_id": t.ID,
			"number":    t.Number,
		}, now))
	}
	// stale tickets from earlier days only touch their own day's counters
	for date, n := range perDay {
		if _, err := repos.Loads.Apply(ctx, clinicID, date, entities.LoadDelta{Called: -n, NoShow: n}); err != nil {
			return 0, err
		}
	}

	observability.RecordTransition(ctx, s.metrics, clinicID, string(entities.TicketStatusNoShow), len(expired))
	observability.LoggerFromContext(ctx).Info().Str("clinic_id", clinicID).Int("count", len(expired)).Msg("expired no-show tickets")
	return len(expired), nil
}

// Snapshot returns today's queue of a clinic in service order
func (s *QueueService) Snapshot(ctx context.Context, clinicID string) (*QueueSnapshot, error) {
	cfg := s.config.Current()
	date := cfg.DateKey(s.now())

	snap := &QueueSnapshot{ClinicID: clinicID, Date: date, Counts: make(map[entities.TicketStatus]int)}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		clinic, err := repos.Clinics.GetByID(ctx, clinicID)
		if err != nil {
			return err
		}
		snap.Capacity = clinic.EffectiveCapacity(cfg.MaxCapacity)
		if snap.Load, err = repos.Loads.Get(ctx, clinicID, date); err != nil {
			return err
		}
		snap.Tickets, err = repos.Tickets.ListByClinic(ctx, clinicID, date)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, t := range snap.Tickets {
		snap.Counts[t.Status]++
	}
	return snap, nil
}

// RaisePriority sets the priority of the patient's waiting and called tickets
// today and returns how many changed
func (s *QueueService) RaisePriority(ctx context.Context, patientID string, priority int) (int, error) {
	if err := entities.ValidatePatientID(patientID); err != nil {
		return 0, apperrors.NewValidationError(err.Error())
	}
	if err := entities.ValidatePriority(priority); err != nil {
		return 0, apperrors.NewValidationError(err.Error())
	}

	var raised int
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		raised, err = s.raisePriorityTx(ctx, repos, patientID, priority)
		return err
	})
	return raised, err
}

func (s *QueueService) raisePriorityTx(ctx context.Context, repos repositories.Repositories, patientID string, priority int) (int, error) {
	date := s.config.Current().DateKey(s.now())
	return repos.Tickets.RaisePriority(ctx, patientID, date, priority)
}

func isExpectedRejection(reason string) bool {
	switch reason {
	case apperrors.ReasonBusy, apperrors.ReasonCapacityFull, apperrors.ReasonNoWaiting, apperrors.ReasonClinicClosed:
		return true
	}
	return false
}

// ListClinics returns every clinic ordered by id
func (s *QueueService) ListClinics(ctx context.Context, status entities.ClinicStatus) ([]*entities.Clinic, error) {
	var clinics []*entities.Clinic
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		clinics, err = repos.Clinics.List(ctx, repositories.ClinicFilter{Status: status})
		return err
	})
	return clinics, err
}

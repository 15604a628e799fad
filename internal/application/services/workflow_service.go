package services

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// CodeAction is what a scanned clinic code did for the patient
type CodeAction string

const (
	CodeActionCheckedIn      CodeAction = "checked_in"
	CodeActionRoutedToNext   CodeAction = "routed_to_next"
	CodeActionRouteCompleted CodeAction = "route_completed"
)

// EnqueuePatientResult is the outcome of registering a patient for the day
type EnqueuePatientResult struct {
	Route    *entities.PatientRoute `json:"route"`
	ClinicID string                 `json:"clinic_id"`
	Ticket   *entities.QueueTicket  `json:"ticket"`
	Position int                    `json:"position"`
}

// RouteResult is the outcome of leaving a clinic
type RouteResult struct {
	Completed  bool                  `json:"completed"`
	NextClinic string                `json:"next_clinic,omitempty"`
	Ticket     *entities.QueueTicket `json:"ticket,omitempty"`
	Position   int                   `json:"position,omitempty"`
}

// CodeResult is the outcome of a scanned clinic code
type CodeResult struct {
	Action CodeAction            `json:"action"`
	Ticket *entities.QueueTicket `json:"ticket,omitempty"`
	Route  *RouteResult          `json:"route,omitempty"`
}

// EmergencyResult is the outcome of an emergency escalation
type EmergencyResult struct {
	PatientID string `json:"patient_id"`
	Raised    int    `json:"raised"`
	ClinicID  string `json:"clinic_id,omitempty"`
}

// PatientStatus is everything a patient screen shows
type PatientStatus struct {
	PatientID string                `json:"patient_id"`
	Route     *entities.RouteStatus `json:"route,omitempty"`
	Ticket    *entities.QueueTicket `json:"ticket,omitempty"`
	Position  int                   `json:"position"`
}

// WorkflowService composes queue, routing and PIN operations into the
// patient-facing flows. Each flow runs in one transaction.
type WorkflowService struct {
	store    repositories.Store
	config   ConfigProvider
	queue    *QueueService
	routing  *RoutingService
	pins     *PinService
	notifier *Notifier
	now      func() time.Time
	metrics  *observability.Metrics
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(
	store repositories.Store,
	config ConfigProvider,
	queue *QueueService,
	routing *RoutingService,
	pins *PinService,
	notifier *Notifier,
) *WorkflowService {
	return &WorkflowService{
		store:    store,
		config:   config,
		queue:    queue,
		routing:  routing,
		pins:     pins,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the time source of the workflow and its engines
func (s *WorkflowService) SetClock(now func() time.Time) {
	s.now = now
	s.queue.SetClock(now)
	s.routing.SetClock(now)
	s.pins.SetClock(now)
}

// SetMetrics enables workflow metrics
func (s *WorkflowService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// EnqueuePatient registers a patient for the day: it builds the route,
// picks the least loaded clinic of the first step and queues the patient there
func (s *WorkflowService) EnqueuePatient(ctx context.Context, patientID, examType string, gender entities.Gender, priority int) (*EnqueuePatientResult, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.EnqueuePatient",
		attribute.String("patient.id", patientID), attribute.String("exam.type", examType))
	defer span.End()

	if err := entities.ValidatePatientID(patientID); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	if err := entities.ValidatePriority(priority); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}

	var result *EnqueuePatientResult
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		date := s.config.Current().DateKey(s.now())
		exists, err := repos.Tickets.ExistsForPatient(ctx, patientID, date)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.NewConflictError(
				fmt.Sprintf("patient %s is already registered for %s", patientID, date),
			).WithReason(apperrors.ReasonAlreadyExists)
		}

		route, err := s.routing.createRouteTx(ctx, repos, patientID, examType, gender, priority)
		if err != nil {
			return err
		}
		step := route.ActiveStep()

		enq, err := s.queueForStepTx(ctx, repos, ob, route, step, priority)
		if err != nil {
			return err
		}
		result = &EnqueuePatientResult{
			Route:    route,
			ClinicID: step.ClinicID,
			Ticket:   enq.Ticket,
			Position: enq.Position,
		}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("patient_id", patientID).
		Str("exam_type", examType).
		Str("clinic_id", result.ClinicID).
		Int("number", result.Ticket.Number).
		Msg("patient enqueued")
	return result, nil
}

// queueForStepTx assigns a clinic to step and queues the patient there. When
// no clinic of the step is open the patient is parked at the step's
// template clinic until it reopens.
func (s *WorkflowService) queueForStepTx(ctx context.Context, repos repositories.Repositories, ob *outbox, route *entities.PatientRoute, step *entities.RouteStep, priority int) (*EnqueueResult, error) {
	fallback := false
	clinicID, err := s.routing.pickClinicTx(ctx, repos, route.ExamType, route.Gender, step.StepOrder)
	if apperrors.HasReason(err, apperrors.ReasonNoClinicAvailable) {
		clinicID, fallback = step.ClinicID, true
		observability.LoggerFromContext(ctx).Warn().
			Str("patient_id", route.PatientID).
			Str("clinic_id", clinicID).
			Int("step_order", step.StepOrder).
			Msg("no open clinic for step, using template clinic")
	} else if err != nil {
		return nil, err
	}

	if clinicID != step.ClinicID {
		if _, err := s.routing.assignStepClinicTx(ctx, repos, route.PatientID, step.StepOrder, clinicID); err != nil {
			return nil, err
		}
		step.ClinicID = clinicID
	}

	enq, err := s.queue.enqueueTx(ctx, repos, ob, clinicID, route.PatientID, EnqueueMeta{
		ExamType:    route.ExamType,
		Gender:      route.Gender,
		Priority:    priority,
		allowClosed: fallback,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.routing.markDistributedTx(ctx, repos, clinicID); err != nil {
		return nil, err
	}
	observability.RecordRouted(ctx, s.metrics, clinicID, step.StepOrder)
	return enq, nil
}

// RouteToNextClinic completes the patient's visit at currentClinic and
// queues them at the next step of their route
func (s *WorkflowService) RouteToNextClinic(ctx context.Context, patientID, currentClinic string) (*RouteResult, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.RouteToNextClinic",
		attribute.String("patient.id", patientID), attribute.String("clinic.id", currentClinic))
	defer span.End()

	var result *RouteResult
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		var err error
		result, err = s.routeToNextTx(ctx, repos, ob, patientID, currentClinic)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

func (s *WorkflowService) routeToNextTx(ctx context.Context, repos repositories.Repositories, ob *outbox, patientID, currentClinic string) (*RouteResult, error) {
	route, err := repos.Routes.Get(ctx, patientID)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %s has no route", patientID)).WithReason(apperrors.ReasonNoActiveStep)
	}
	if err != nil {
		return nil, err
	}
	step := route.ActiveStep()
	if step == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %s has no active step", patientID)).WithReason(apperrors.ReasonNoActiveStep)
	}
	// the route only advances from the clinic of its active step
	if step.ClinicID != currentClinic {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("clinic %s is not the active step of patient %s (expected %s)", currentClinic, patientID, step.ClinicID),
		).WithReason(apperrors.ReasonNotOnRoute)
	}

	finished, err := s.queue.completeTx(ctx, repos, ob, currentClinic, patientID)
	if err != nil {
		return nil, err
	}

	advance, err := s.routing.moveToNextStepTx(ctx, repos, ob, patientID)
	if err != nil {
		return nil, err
	}
	if advance.Completed {
		return &RouteResult{Completed: true}, nil
	}

	// an escalated ticket keeps its priority at the next clinic
	priority := advance.Route.Priority
	if finished.Priority > priority {
		priority = finished.Priority
	}

	enq, err := s.queueForStepTx(ctx, repos, ob, advance.Route, advance.Next, priority)
	if err != nil {
		return nil, err
	}
	return &RouteResult{
		NextClinic: advance.Next.ClinicID,
		Ticket:     enq.Ticket,
		Position:   enq.Position,
	}, nil
}

// ProcessClinicCode handles a scanned clinic code. The code is the clinic id.
// A called patient is checked in; a patient inside is routed onward.
func (s *WorkflowService) ProcessClinicCode(ctx context.Context, code, patientID string) (*CodeResult, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.ProcessClinicCode", attribute.String("patient.id", patientID))
	defer span.End()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.NewValidationError("clinic code is required").WithReason(apperrors.ReasonInvalidCode)
	}

	var result *CodeResult
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		clinic, err := repos.Clinics.GetByID(ctx, code)
		if apperrors.IsNotFound(err) {
			return apperrors.NewValidationError(fmt.Sprintf("unknown clinic code %s", code)).WithReason(apperrors.ReasonInvalidCode)
		}
		if err != nil {
			return err
		}
		// a closed clinic's code is not accepted
		if !clinic.IsOpen() {
			return apperrors.NewValidationError(fmt.Sprintf("clinic %s is closed", code)).WithReason(apperrors.ReasonInvalidCode)
		}

		ticket, err := s.queue.findActiveTx(ctx, repos, clinic.ID, patientID, apperrors.ReasonNotInQueue)
		if err != nil {
			return err
		}

		switch ticket.Status {
		case entities.TicketStatusCalled:
			if err := s.queue.checkInTx(ctx, repos, ob, ticket); err != nil {
				return err
			}
			result = &CodeResult{Action: CodeActionCheckedIn, Ticket: ticket}
		case entities.TicketStatusIn:
			route, err := s.routeToNextTx(ctx, repos, ob, patientID, clinic.ID)
			if err != nil {
				return err
			}
			result = &CodeResult{Action: CodeActionRoutedToNext, Ticket: route.Ticket, Route: route}
			if route.Completed {
				result.Action = CodeActionRouteCompleted
			}
		default:
			return apperrors.NewConflictError(
				fmt.Sprintf("patient %s has not been called at clinic %s", patientID, clinic.ID),
			).WithReason(apperrors.ReasonNotCalled)
		}
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// ArriveAtClinic checks the patient in on their called ticket. Clinics that
// require a PIN must be given today's PIN.
func (s *WorkflowService) ArriveAtClinic(ctx context.Context, ticketID, patientID, pin string) (*entities.QueueTicket, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.ArriveAtClinic",
		attribute.String("ticket.id", ticketID), attribute.String("patient.id", patientID))
	defer span.End()

	var ticket *entities.QueueTicket
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		var err error
		ticket, err = s.ownTicketTx(ctx, repos, ticketID, patientID)
		if err != nil {
			return err
		}
		clinic, err := repos.Clinics.GetByID(ctx, ticket.ClinicID)
		if err != nil {
			return err
		}
		if clinic.RequiresPin {
			if err := s.pins.verifyTx(ctx, repos, clinic.ID, pin, ""); err != nil {
				return err
			}
		}
		return s.queue.checkInTx(ctx, repos, ob, ticket)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return ticket, nil
}

// DepartClinic authorizes the patient's exit with the clinic PIN, completes
// the ticket and routes the patient to the next clinic
func (s *WorkflowService) DepartClinic(ctx context.Context, ticketID, patientID, pin string) (*RouteResult, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.DepartClinic",
		attribute.String("ticket.id", ticketID), attribute.String("patient.id", patientID))
	defer span.End()

	var result *RouteResult
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		ticket, err := s.ownTicketTx(ctx, repos, ticketID, patientID)
		if err != nil {
			return err
		}
		if ticket.Status != entities.TicketStatusCalled && ticket.Status != entities.TicketStatusIn {
			return apperrors.NewConflictError(fmt.Sprintf("ticket %s is not active", ticket.ID)).WithReason(apperrors.ReasonNotActive)
		}
		if err := s.pins.verifyTx(ctx, repos, ticket.ClinicID, pin, ""); err != nil {
			return err
		}
		result, err = s.routeToNextTx(ctx, repos, ob, patientID, ticket.ClinicID)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// ownTicketTx loads a ticket and hides it from anyone but its patient
func (s *WorkflowService) ownTicketTx(ctx context.Context, repos repositories.Repositories, ticketID, patientID string) (*entities.QueueTicket, error) {
	ticket, err := repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.PatientID != patientID {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("ticket with id %s not found", ticketID))
	}
	return ticket, nil
}

// HandleEmergency raises every waiting or called ticket of the patient today
// to emergency priority when code matches the facility emergency code. The
// alert is emitted for any patient holding an active ticket, even when no
// ticket was left to raise.
func (s *WorkflowService) HandleEmergency(ctx context.Context, patientID, code string) (*EmergencyResult, error) {
	ctx, span := observability.StartSpan(ctx, "WorkflowService.HandleEmergency", attribute.String("patient.id", patientID))
	defer span.End()

	expected := s.config.Current().EmergencyPin
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(expected)) != 1 {
		observability.RecordRejection(ctx, s.metrics, "emergency", apperrors.ReasonInvalidEmergencyCode)
		return nil, apperrors.NewUnauthorizedError("invalid emergency code").WithReason(apperrors.ReasonInvalidEmergencyCode)
	}

	result := &EmergencyResult{PatientID: patientID}
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		n, err := s.queue.raisePriorityTx(ctx, repos, patientID, entities.PriorityEmergency)
		if err != nil {
			return err
		}
		result.Raised = n

		// a patient already inside a clinic still raises the alert
		date := s.config.Current().DateKey(s.now())
		current, err := repos.Tickets.FindCurrentForPatient(ctx, patientID, date)
		switch {
		case err == nil:
			result.ClinicID = current.ClinicID
		case apperrors.IsNotFound(err):
			if n == 0 {
				return apperrors.NewNotFoundError(
					fmt.Sprintf("patient %s has no active ticket today", patientID),
				).WithReason(apperrors.ReasonNotInQueue)
			}
		default:
			return err
		}
		ob.add(entities.NewQueueEvent(entities.QueueEventEmergencyAlert, patientID, result.ClinicID, map[string]interface{}{
			"priority": entities.PriorityEmergency,
			"tickets":  n,
		}, s.now()))
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Warn().
		Str("patient_id", patientID).
		Str("clinic_id", result.ClinicID).
		Int("tickets", result.Raised).
		Msg("emergency priority raised")
	return result, nil
}

// PatientStatus returns the patient's route progress and current ticket
func (s *WorkflowService) PatientStatus(ctx context.Context, patientID string) (*PatientStatus, error) {
	status := &PatientStatus{PatientID: patientID}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		route, err := repos.Routes.Get(ctx, patientID)
		switch {
		case err == nil:
			status.Route = route.Status()
		case !apperrors.IsNotFound(err):
			return err
		}

		date := s.config.Current().DateKey(s.now())
		ticket, err := repos.Tickets.FindCurrentForPatient(ctx, patientID, date)
		switch {
		case err == nil:
			status.Ticket = ticket
			status.Position, err = s.queue.position(ctx, repos, ticket)
			if err != nil {
				return err
			}
		case !apperrors.IsNotFound(err):
			return err
		}

		if status.Route == nil && status.Ticket == nil {
			return apperrors.NewNotFoundError(fmt.Sprintf("patient %s is not registered", patientID)).WithReason(apperrors.ReasonNotInQueue)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

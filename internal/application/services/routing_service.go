package services

import (
	"context"
	"fmt"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// StepAdvance is the outcome of moving a patient route forward
type StepAdvance struct {
	// Completed is true when the finished step was the last one
	Completed bool                   `json:"completed"`
	Previous  *entities.RouteStep    `json:"previous,omitempty"`
	Next      *entities.RouteStep    `json:"next,omitempty"`
	Route     *entities.PatientRoute `json:"route"`
}

// RoutingService maps exam types to clinic routes and balances patients
// across the clinics that share a step
type RoutingService struct {
	store    repositories.Store
	config   ConfigProvider
	notifier *Notifier
	now      func() time.Time
	metrics  *observability.Metrics
}

// NewRoutingService creates a new routing service
func NewRoutingService(store repositories.Store, config ConfigProvider, notifier *Notifier) *RoutingService {
	return &RoutingService{
		store:    store,
		config:   config,
		notifier: notifier,
		now:      time.Now,
	}
}

// SetClock overrides the time source
func (s *RoutingService) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics enables routing metrics
func (s *RoutingService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// GetExamRoute returns the route template of an exam type and gender
func (s *RoutingService) GetExamRoute(ctx context.Context, examType string, gender entities.Gender) ([]*entities.RouteTemplateEntry, error) {
	var entries []*entities.RouteTemplateEntry
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		entries, err = s.getExamRouteTx(ctx, repos, examType, gender)
		return err
	})
	return entries, err
}

func (s *RoutingService) getExamRouteTx(ctx context.Context, repos repositories.Repositories, examType string, gender entities.Gender) ([]*entities.RouteTemplateEntry, error) {
	entries, err := repos.Templates.ListByExam(ctx, examType, gender)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("no route template for exam %s and gender %s", examType, gender),
		).WithReason(apperrors.ReasonNoRouteTemplate)
	}
	return entries, nil
}

// PickClinicForNextStep returns the least loaded open clinic serving a step
func (s *RoutingService) PickClinicForNextStep(ctx context.Context, examType string, gender entities.Gender, stepOrder int) (string, error) {
	ctx, span := observability.StartSpan(ctx, "RoutingService.PickClinicForNextStep",
		attribute.String("exam.type", examType), attribute.Int("step.order", stepOrder))
	defer span.End()

	var clinicID string
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		clinicID, err = s.pickClinicTx(ctx, repos, examType, gender, stepOrder)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return "", err
	}
	return clinicID, nil
}

func (s *RoutingService) pickClinicTx(ctx context.Context, repos repositories.Repositories, examType string, gender entities.Gender, stepOrder int) (string, error) {
	ranked, err := s.rankStepTx(ctx, repos, examType, gender, stepOrder)
	if err != nil {
		return "", err
	}
	if len(ranked) == 0 {
		return "", apperrors.NewNotFoundError(
			fmt.Sprintf("no open clinic for step %d of exam %s", stepOrder, examType),
		).WithReason(apperrors.ReasonNoClinicAvailable)
	}
	best := ranked[0]
	observability.LoggerFromContext(ctx).Debug().
		Str("clinic_id", best.ClinicID).
		Int("step_order", stepOrder).
		Float64("score", best.Score).
		Bool("at_capacity", best.AtCapacity).
		Msg("picked clinic for step")
	return best.ClinicID, nil
}

func (s *RoutingService) rankStepTx(ctx context.Context, repos repositories.Repositories, examType string, gender entities.Gender, stepOrder int) ([]ScoredClinic, error) {
	clinics, err := repos.Templates.OpenClinicsForStep(ctx, examType, gender, stepOrder)
	if err != nil || len(clinics) == 0 {
		return nil, err
	}

	cfg := s.config.Current()
	ids := make([]string, 0, len(clinics))
	for _, c := range clinics {
		ids = append(ids, c.ID)
	}
	loads, err := repos.Loads.ListForDate(ctx, cfg.DateKey(s.now()), ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]ClinicCandidate, 0, len(clinics))
	for _, c := range clinics {
		candidates = append(candidates, NewClinicCandidate(c, loads[c.ID], cfg.MaxCapacity))
	}
	return RankClinics(candidates, cfg.MaxCapacity), nil
}

// CreatePatientRoute replaces the patient's route with a fresh one built
// from the exam template. The first step is active.
func (s *RoutingService) CreatePatientRoute(ctx context.Context, patientID, examType string, gender entities.Gender, priority int) (*entities.PatientRoute, error) {
	ctx, span := observability.StartSpan(ctx, "RoutingService.CreatePatientRoute", attribute.String("patient.id", patientID))
	defer span.End()

	var route *entities.PatientRoute
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		route, err = s.createRouteTx(ctx, repos, patientID, examType, gender, priority)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return route, nil
}

func (s *RoutingService) createRouteTx(ctx context.Context, repos repositories.Repositories, patientID, examType string, gender entities.Gender, priority int) (*entities.PatientRoute, error) {
	if err := entities.ValidatePatientID(patientID); err != nil {
		return nil, apperrors.NewValidationError(err.Error())
	}
	template, err := s.getExamRouteTx(ctx, repos, examType, gender)
	if err != nil {
		return nil, err
	}
	route := entities.NewPatientRoute(patientID, examType, gender, priority, template, s.now())
	if err := repos.Routes.Replace(ctx, route); err != nil {
		return nil, err
	}
	return route, nil
}

// MoveToNextStep marks the active step done and activates the next pending
// one. When none is left the route is complete and route_complete is emitted.
func (s *RoutingService) MoveToNextStep(ctx context.Context, patientID string) (*StepAdvance, error) {
	ctx, span := observability.StartSpan(ctx, "RoutingService.MoveToNextStep", attribute.String("patient.id", patientID))
	defer span.End()

	var advance *StepAdvance
	err := runTx(ctx, s.store, s.notifier, func(ctx context.Context, repos repositories.Repositories, ob *outbox) error {
		var err error
		advance, err = s.moveToNextStepTx(ctx, repos, ob, patientID)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return advance, nil
}

func (s *RoutingService) moveToNextStepTx(ctx context.Context, repos repositories.Repositories, ob *outbox, patientID string) (*StepAdvance, error) {
	route, err := repos.Routes.Get(ctx, patientID)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %s has no route", patientID)).WithReason(apperrors.ReasonNoActiveStep)
	}
	if err != nil {
		return nil, err
	}

	current := route.ActiveStep()
	if current == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("patient %s has no active step", patientID)).WithReason(apperrors.ReasonNoActiveStep)
	}

	now := s.now()
	done := now
	current.Status = entities.RouteStepDone
	current.CompletedAt = &done
	if err := repos.Routes.UpdateStep(ctx, patientID, current); err != nil {
		return nil, err
	}

	advance := &StepAdvance{Previous: current, Route: route}
	next := route.NextPending(current.StepOrder)
	if next == nil {
		advance.Completed = true
		ob.add(entities.NewQueueEvent(entities.QueueEventRouteComplete, patientID, current.ClinicID, map[string]interface{}{
			"exam_type": route.ExamType,
			"steps":     len(route.Steps),
		}, now))
		observability.LoggerFromContext(ctx).Info().Str("patient_id", patientID).Msg("patient route completed")
		return advance, nil
	}

	started := now
	next.Status = entities.RouteStepActive
	next.StartedAt = &started
	if err := repos.Routes.UpdateStep(ctx, patientID, next); err != nil {
		return nil, err
	}
	advance.Next = next
	return advance, nil
}

// AssignStepClinic records the clinic chosen for one step of the patient's route
func (s *RoutingService) AssignStepClinic(ctx context.Context, patientID string, stepOrder int, clinicID string) error {
	return s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		_, err := s.assignStepClinicTx(ctx, repos, patientID, stepOrder, clinicID)
		return err
	})
}

func (s *RoutingService) assignStepClinicTx(ctx context.Context, repos repositories.Repositories, patientID string, stepOrder int, clinicID string) (*entities.RouteStep, error) {
	route, err := repos.Routes.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	step := route.Step(stepOrder)
	if step == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("route step %d not found for patient %s", stepOrder, patientID))
	}
	if step.ClinicID == clinicID {
		return step, nil
	}
	step.ClinicID = clinicID
	if err := repos.Routes.UpdateStep(ctx, patientID, step); err != nil {
		return nil, err
	}
	return step, nil
}

// RouteStatus returns the progress of the patient's route
func (s *RoutingService) RouteStatus(ctx context.Context, patientID string) (*entities.RouteStatus, error) {
	var status *entities.RouteStatus
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		route, err := repos.Routes.Get(ctx, patientID)
		if err != nil {
			return err
		}
		status = route.Status()
		return nil
	})
	return status, err
}

// MarkDistributed counts one more patient sent to the clinic today
func (s *RoutingService) MarkDistributed(ctx context.Context, clinicID string) (*entities.ClinicLoad, error) {
	var load *entities.ClinicLoad
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		load, err = s.markDistributedTx(ctx, repos, clinicID)
		return err
	})
	return load, err
}

func (s *RoutingService) markDistributedTx(ctx context.Context, repos repositories.Repositories, clinicID string) (*entities.ClinicLoad, error) {
	date := s.config.Current().DateKey(s.now())
	load, err := repos.Loads.Apply(ctx, clinicID, date, entities.LoadDelta{Distributed: 1})
	if err != nil {
		return nil, err
	}
	return load, nil
}

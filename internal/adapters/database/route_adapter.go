package database

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// routeRow is one patient_routes row; a route is stored as one row per step
type routeRow struct {
	PatientID   string                   `db:"patient_id"`
	StepOrder   int                      `db:"step_order"`
	ClinicID    string                   `db:"clinic_id"`
	Status      entities.RouteStepStatus `db:"status"`
	ExamType    string                   `db:"exam_type"`
	Gender      entities.Gender          `db:"gender"`
	Priority    int                      `db:"priority"`
	StartedAt   *time.Time               `db:"started_at"`
	CompletedAt *time.Time               `db:"completed_at"`
	CreatedAt   time.Time                `db:"created_at"`
}

// PatientRouteAdapter implements the PatientRouteRepository interface
type PatientRouteAdapter struct {
	q sqlx.ExtContext
}

// NewPatientRouteAdapter creates a new patient route adapter outside any transaction
func NewPatientRouteAdapter(q sqlx.ExtContext) repositories.PatientRouteRepository {
	return &PatientRouteAdapter{q: q}
}

// Replace deletes any prior route of the patient and stores route
func (a *PatientRouteAdapter) Replace(ctx context.Context, route *entities.PatientRoute) error {
	del := dialect.Delete("patient_routes").Where(goqu.Ex{"patient_id": route.PatientID}).Prepared(true)
	if _, err := exec(ctx, a.q, del); err != nil {
		return mapError(err, "failed to clear patient route")
	}
	if len(route.Steps) == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(route.Steps))
	for _, s := range route.Steps {
		rows = append(rows, goqu.Record{
			"patient_id":   route.PatientID,
			"step_order":   s.StepOrder,
			"clinic_id":    s.ClinicID,
			"status":       s.Status,
			"exam_type":    route.ExamType,
			"gender":       route.Gender,
			"priority":     route.Priority,
			"started_at":   s.StartedAt,
			"completed_at": s.CompletedAt,
			"created_at":   route.CreatedAt,
		})
	}
	ins := dialect.Insert("patient_routes").Rows(rows...).Prepared(true)
	if _, err := exec(ctx, a.q, ins); err != nil {
		return mapError(err, "failed to store patient route")
	}
	return nil
}

// Get returns the patient's route
func (a *PatientRouteAdapter) Get(ctx context.Context, patientID string) (*entities.PatientRoute, error) {
	ds := dialect.From("patient_routes").
		Select("patient_id", "step_order", "clinic_id", "status", "exam_type", "gender",
			"priority", "started_at", "completed_at", "created_at").
		Where(goqu.Ex{"patient_id": patientID}).
		Order(goqu.I("step_order").Asc())

	var rows []routeRow
	if err := selectAll(ctx, a.q, &rows, ds); err != nil {
		return nil, mapError(err, "failed to load patient route")
	}
	if len(rows) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no route for patient %s", patientID))
	}

	route := &entities.PatientRoute{
		PatientID: patientID,
		ExamType:  rows[0].ExamType,
		Gender:    rows[0].Gender,
		Priority:  rows[0].Priority,
		CreatedAt: rows[0].CreatedAt,
	}
	for _, r := range rows {
		route.Steps = append(route.Steps, &entities.RouteStep{
			StepOrder:   r.StepOrder,
			ClinicID:    r.ClinicID,
			Status:      r.Status,
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
		})
	}
	return route, nil
}

// UpdateStep persists the status, clinic and timestamps of one step
func (a *PatientRouteAdapter) UpdateStep(ctx context.Context, patientID string, step *entities.RouteStep) error {
	ds := dialect.Update("patient_routes").Set(goqu.Record{
		"clinic_id":    step.ClinicID,
		"status":       step.Status,
		"started_at":   step.StartedAt,
		"completed_at": step.CompletedAt,
	}).Where(goqu.Ex{"patient_id": patientID, "step_order": step.StepOrder}).Prepared(true)

	n, err := exec(ctx, a.q, ds)
	if err != nil {
		return mapError(err, "failed to update route step")
	}
	if n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("route step %d not found for patient %s", step.StepOrder, patientID))
	}
	return nil
}

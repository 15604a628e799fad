package database

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
)

var clinicColumns = []interface{}{
	"id", "name", "floor", "capacity", "status", "requires_pin", "created_at", "updated_at",
}

// ClinicAdapter implements the ClinicRepository interface
type ClinicAdapter struct {
	q sqlx.ExtContext
}

// NewClinicAdapter creates a new clinic adapter outside any transaction
func NewClinicAdapter(q sqlx.ExtContext) repositories.ClinicRepository {
	return &ClinicAdapter{q: q}
}

// GetByID retrieves a clinic by ID
func (a *ClinicAdapter) GetByID(ctx context.Context, id string) (*entities.Clinic, error) {
	ds := dialect.From("clinics").Select(clinicColumns...).Where(goqu.Ex{"id": id})

	clinic := &entities.Clinic{}
	if err := get(ctx, a.q, clinic, ds); err != nil {
		return nil, mapError(err, fmt.Sprintf("clinic with id %s not found", id))
	}
	return clinic, nil
}

// List retrieves clinics ordered by ID
func (a *ClinicAdapter) List(ctx context.Context, filter repositories.ClinicFilter) ([]*entities.Clinic, error) {
	ds := dialect.From("clinics").Select(clinicColumns...)
	if filter.Status != "" {
		ds = ds.Where(goqu.Ex{"status": filter.Status})
	}
	ds = ds.Order(goqu.I("id").Asc())

	var clinics []*entities.Clinic
	if err := selectAll(ctx, a.q, &clinics, ds); err != nil {
		return nil, mapError(err, "failed to list clinics")
	}
	return clinics, nil
}

// Upsert creates or replaces a clinic
func (a *ClinicAdapter) Upsert(ctx context.Context, clinic *entities.Clinic) error {
	now := time.Now()
	if clinic.CreatedAt.IsZero() {
		clinic.CreatedAt = now
	}
	clinic.UpdatedAt = now

	ds := dialect.Insert("clinics").Rows(goqu.Record{
		"id":           clinic.ID,
		"name":         clinic.Name,
		"floor":        clinic.Floor,
		"capacity":     clinic.Capacity,
		"status":       clinic.Status,
		"requires_pin": clinic.RequiresPin,
		"created_at":   clinic.CreatedAt,
		"updated_at":   clinic.UpdatedAt,
	}).OnConflict(goqu.DoUpdate("id", goqu.Record{
		"name":         goqu.I("excluded.name"),
		"floor":        goqu.I("excluded.floor"),
		"capacity":     goqu.I("excluded.capacity"),
		"status":       goqu.I("excluded.status"),
		"requires_pin": goqu.I("excluded.requires_pin"),
		"updated_at":   goqu.I("excluded.updated_at"),
	})).Prepared(true)

	if _, err := exec(ctx, a.q, ds); err != nil {
		return mapError(err, "failed to upsert clinic")
	}
	return nil
}

// RouteTemplateAdapter implements the RouteTemplateRepository interface
type RouteTemplateAdapter struct {
	q sqlx.ExtContext
}

// NewRouteTemplateAdapter creates a new route template adapter outside any transaction
func NewRouteTemplateAdapter(q sqlx.ExtContext) repositories.RouteTemplateRepository {
	return &RouteTemplateAdapter{q: q}
}

// ListByExam returns the template for an exam type and gender ordered by step
func (a *RouteTemplateAdapter) ListByExam(ctx context.Context, examType string, gender entities.Gender) ([]*entities.RouteTemplateEntry, error) {
	ds := dialect.From(goqu.T("exam_route_templates").As("t")).
		Join(goqu.T("clinics").As("c"), goqu.On(goqu.Ex{"c.id": goqu.I("t.clinic_id")})).
		Select(
			goqu.I("t.exam_type"), goqu.I("t.gender"), goqu.I("t.step_order"), goqu.I("t.clinic_id"),
			goqu.I("c.name").As("clinic_name"), goqu.I("c.floor"),
			goqu.I("t.is_required"), goqu.I("t.estimated_duration_minutes"),
		).
		Where(goqu.Ex{"t.exam_type": examType, "t.gender": gender}).
		Order(goqu.I("t.step_order").Asc(), goqu.I("t.clinic_id").Asc())

	var entries []*entities.RouteTemplateEntry
	if err := selectAll(ctx, a.q, &entries, ds); err != nil {
		return nil, mapError(err, "failed to list route template")
	}
	return entries, nil
}

// OpenClinicsForStep returns the open clinics assigned to one template step
func (a *RouteTemplateAdapter) OpenClinicsForStep(ctx context.Context, examType string, gender entities.Gender, stepOrder int) ([]*entities.Clinic, error) {
	cols := make([]interface{}, len(clinicColumns))
	for i, c := range clinicColumns {
		cols[i] = goqu.I("c." + c.(string))
	}

	ds := dialect.From(goqu.T("exam_route_templates").As("t")).
		Join(goqu.T("clinics").As("c"), goqu.On(goqu.Ex{"c.id": goqu.I("t.clinic_id")})).
		Select(cols...).
		Where(goqu.Ex{
			"t.exam_type":  examType,
			"t.gender":     gender,
			"t.step_order": stepOrder,
			"c.status":     entities.ClinicStatusOpen,
		}).
		Order(goqu.I("c.id").Asc())

	var clinics []*entities.Clinic
	if err := selectAll(ctx, a.q, &clinics, ds); err != nil {
		return nil, mapError(err, "failed to list clinics for route step")
	}
	return clinics, nil
}

// Replace swaps the whole template of an exam type and gender
func (a *RouteTemplateAdapter) Replace(ctx context.Context, examType string, gender entities.Gender, entries []*entities.RouteTemplateEntry) error {
	del := dialect.Delete("exam_route_templates").
		Where(goqu.Ex{"exam_type": examType, "gender": gender}).
		Prepared(true)
	if _, err := exec(ctx, a.q, del); err != nil {
		return mapError(err, "failed to clear route template")
	}
	if len(entries) == 0 {
		return nil
	}

	rows := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, goqu.Record{
			"exam_type":                  examType,
			"gender":                     gender,
			"step_order":                 e.StepOrder,
			"clinic_id":                  e.ClinicID,
			"is_required":                e.IsRequired,
			"estimated_duration_minutes": e.EstimatedDuration,
		})
	}
	ins := dialect.Insert("exam_route_templates").Rows(rows...).Prepared(true)
	if _, err := exec(ctx, a.q, ins); err != nil {
		return mapError(err, "failed to store route template")
	}
	return nil
}

// compile-time interface checks
var (
	_ repositories.ClinicRepository        = (*ClinicAdapter)(nil)
	_ repositories.RouteTemplateRepository = (*RouteTemplateAdapter)(nil)
)

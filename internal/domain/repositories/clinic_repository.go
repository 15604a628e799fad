package repositories

import (
	"context"

	"github.com/zatekoja/patientflow/internal/domain/entities"
)

// ClinicRepository defines the interface for clinic data operations
type ClinicRepository interface {
	// GetByID retrieves a clinic by ID
	GetByID(ctx context.Context, id string) (*entities.Clinic, error)

	// List retrieves clinics ordered by ID
	List(ctx context.Context, filter ClinicFilter) ([]*entities.Clinic, error)

	// Upsert creates or replaces a clinic
	Upsert(ctx context.Context, clinic *entities.Clinic) error
}

// ClinicFilter defines filters for listing clinics
type ClinicFilter struct {
	Status entities.ClinicStatus
}

// RouteTemplateRepository defines the interface for exam route templates
type RouteTemplateRepository interface {
	// ListByExam returns the template for an exam type and gender ordered by step
	ListByExam(ctx context.Context, examType string, gender entities.Gender) ([]*entities.RouteTemplateEntry, error)

	// OpenClinicsForStep returns the open clinics assigned to one template step
	OpenClinicsForStep(ctx context.Context, examType string, gender entities.Gender, stepOrder int) ([]*entities.Clinic, error)

	// Replace swaps the whole template of an exam type and gender
	Replace(ctx context.Context, examType string, gender entities.Gender, entries []*entities.RouteTemplateEntry) error
}

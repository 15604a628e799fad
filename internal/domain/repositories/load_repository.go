package repositories

import (
	"context"

	"github.com/zatekoja/patientflow/internal/domain/entities"
)

// ClinicLoadRepository defines the interface for clinic load counters
type ClinicLoadRepository interface {
	// Get returns the load of a clinic day, or an empty load when none exists yet
	Get(ctx context.Context, clinicID, date string) (*entities.ClinicLoad, error)

	// ListForDate returns the loads of the given clinics keyed by clinic ID.
	// Clinics without a row are absent from the map.
	ListForDate(ctx context.Context, date string, clinicIDs []string) (map[string]*entities.ClinicLoad, error)

	// Apply adds delta to the load of a clinic day, creating the row if needed,
	// and returns the updated load
	Apply(ctx context.Context, clinicID, date string, delta entities.LoadDelta) (*entities.ClinicLoad, error)
}

// PatientRouteRepository defines the interface for patient routes
type PatientRouteRepository interface {
	// Replace deletes any prior route of the patient and stores route
	Replace(ctx context.Context, route *entities.PatientRoute) error

	// Get returns the patient's route
	Get(ctx context.Context, patientID string) (*entities.PatientRoute, error)

	// UpdateStep persists the status, clinic and timestamps of one step
	UpdateStep(ctx context.Context, patientID string, step *entities.RouteStep) error
}

// DailyPinRepository defines the interface for clinic PINs
type DailyPinRepository interface {
	// Upsert stores the PIN of a clinic day, overwriting any prior value
	Upsert(ctx context.Context, pin *entities.DailyPin) error

	// Get returns the PIN of a clinic day
	Get(ctx context.Context, clinicID, date string) (*entities.DailyPin, error)
}

// SettingsRepository defines the interface for the string-backed settings table
type SettingsRepository interface {
	// All returns every stored setting
	All(ctx context.Context) (map[string]string, error)

	// Set stores one setting
	Set(ctx context.Context, key, value string) error
}

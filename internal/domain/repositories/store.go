package repositories

import (
	"context"
)

// Repositories groups the repositories bound to one store session.
// Inside RunInTx every repository shares the same transaction.
type Repositories struct {
	Clinics   ClinicRepository
	Templates RouteTemplateRepository
	Tickets   TicketRepository
	Loads     ClinicLoadRepository
	Routes    PatientRouteRepository
	Pins      DailyPinRepository
	Settings  SettingsRepository
}

// TxFunc is a unit of work executed inside a transaction
type TxFunc func(ctx context.Context, repos Repositories) error

// Store is a transactional patient flow store
type Store interface {
	// RunInTx runs fn in a transaction. A non-nil error from fn rolls back
	// every write made through repos. Calls nested in fn's context join the
	// running transaction.
	RunInTx(ctx context.Context, fn TxFunc) error

	// Close releases the store resources
	Close() error
}

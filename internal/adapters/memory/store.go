// Package memory provides an in-process transactional store used by tests,
// local development and the flowctl dry-run commands. A transaction works on a
// private copy of the state which replaces the shared state only on commit.
package memory

import (
	"context"
	"sync"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
)

type state struct {
	clinics   map[string]entities.Clinic
	templates []entities.RouteTemplateEntry
	tickets   map[string]entities.QueueTicket
	counters  map[string]int
	loads     map[string]entities.ClinicLoad
	routes    map[string]entities.PatientRoute
	pins      map[string]entities.DailyPin
	settings  map[string]string
}

func newState() state {
	return state{
		clinics:  map[string]entities.Clinic{},
		tickets:  map[string]entities.QueueTicket{},
		counters: map[string]int{},
		loads:    map[string]entities.ClinicLoad{},
		routes:   map[string]entities.PatientRoute{},
		pins:     map[string]entities.DailyPin{},
		settings: map[string]string{},
	}
}

func (s state) clone() state {
	c := state{
		clinics:   make(map[string]entities.Clinic, len(s.clinics)),
		templates: append([]entities.RouteTemplateEntry(nil), s.templates...),
		tickets:   make(map[string]entities.QueueTicket, len(s.tickets)),
		counters:  make(map[string]int, len(s.counters)),
		loads:     make(map[string]entities.ClinicLoad, len(s.loads)),
		routes:    make(map[string]entities.PatientRoute, len(s.routes)),
		pins:      make(map[string]entities.DailyPin, len(s.pins)),
		settings:  make(map[string]string, len(s.settings)),
	}
	for k, v := range s.clinics {
		c.clinics[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	for k, v := range s.loads {
		c.loads[k] = v
	}
	for k, v := range s.routes {
		c.routes[k] = cloneRoute(v)
	}
	for k, v := range s.pins {
		c.pins[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	return c
}

func cloneRoute(r entities.PatientRoute) entities.PatientRoute {
	steps := make([]*entities.RouteStep, len(r.Steps))
	for i, s := range r.Steps {
		cp := *s
		steps[i] = &cp
	}
	r.Steps = steps
	return r
}

// Store is an in-memory implementation of repositories.Store
type Store struct {
	mu    sync.Mutex
	state state
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{state: newState()}
}

type txKey struct{}

type tx struct {
	store *Store
	state state
}

// RunInTx runs fn against a private copy of the state and commits it when fn
// returns nil. Transactions are serialized.
func (s *Store) RunInTx(ctx context.Context, fn repositories.TxFunc) error {
	if t, ok := ctx.Value(txKey{}).(*tx); ok && t.store == s {
		return fn(ctx, t.repositories())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, state: s.state.clone()}
	if err := fn(context.WithValue(ctx, txKey{}, t), t.repositories()); err != nil {
		return err
	}
	s.state = t.state
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

func (t *tx) repositories() repositories.Repositories {
	return repositories.Repositories{
		Clinics:   &clinicRepo{t},
		Templates: &templateRepo{t},
		Tickets:   &ticketRepo{t},
		Loads:     &loadRepo{t},
		Routes:    &routeRepo{t},
		Pins:      &pinRepo{t},
		Settings:  &settingsRepo{t},
	}
}

func dayKey(clinicID, date string) string {
	return clinicID + "|" + date
}

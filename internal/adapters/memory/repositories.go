package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

type clinicRepo struct{ tx *tx }

func (r *clinicRepo) GetByID(_ context.Context, id string) (*entities.Clinic, error) {
	c, ok := r.tx.state.clinics[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("clinic with id %s not found", id))
	}
	return &c, nil
}

func (r *clinicRepo) List(_ context.Context, filter repositories.ClinicFilter) ([]*entities.Clinic, error) {
	out := make([]*entities.Clinic, 0, len(r.tx.state.clinics))
	for _, c := range r.tx.state.clinics {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *clinicRepo) Upsert(_ context.Context, clinic *entities.Clinic) error {
	r.tx.state.clinics[clinic.ID] = *clinic
	return nil
}

type templateRepo struct{ tx *tx }

func (r *templateRepo) ListByExam(_ context.Context, examType string, gender entities.Gender) ([]*entities.RouteTemplateEntry, error) {
	var out []*entities.RouteTemplateEntry
	for _, e := range r.tx.state.templates {
		if e.ExamType != examType || e.Gender != gender {
			continue
		}
		e := e
		if c, ok := r.tx.state.clinics[e.ClinicID]; ok {
			e.ClinicName = c.Name
			e.Floor = c.Floor
		}
		out = append(out, &e)
	}
	entities.SortTemplate(out)
	return out, nil
}

func (r *templateRepo) OpenClinicsForStep(_ context.Context, examType string, gender entities.Gender, stepOrder int) ([]*entities.Clinic, error) {
	var out []*entities.Clinic
	for _, e := range r.tx.state.templates {
		if e.ExamType != examType || e.Gender != gender || e.StepOrder != stepOrder {
			continue
		}
		c, ok := r.tx.state.clinics[e.ClinicID]
		if !ok || !c.IsOpen() {
			continue
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *templateRepo) Replace(_ context.Context, examType string, gender entities.Gender, entries []*entities.RouteTemplateEntry) error {
	kept := r.tx.state.templates[:0:0]
	for _, e := range r.tx.state.templates {
		if e.ExamType == examType && e.Gender == gender {
			continue
		}
		kept = append(kept, e)
	}
	for _, e := range entries {
		cp := *e
		cp.ExamType = examType
		cp.Gender = gender
		cp.ClinicName = ""
		cp.Floor = 0
		kept = append(kept, cp)
	}
	r.tx.state.templates = kept
	return nil
}

type ticketRepo struct{ tx *tx }

func (r *ticketRepo) NextNumber(_ context.Context, clinicID, date string) (int, error) {
	key := dayKey(clinicID, date)
	r.tx.state.counters[key]++
	return r.tx.state.counters[key], nil
}

func (r *ticketRepo) Create(_ context.Context, ticket *entities.QueueTicket) error {
	if _, exists := r.tx.state.tickets[ticket.ID]; exists {
		return apperrors.NewConflictError(fmt.Sprintf("ticket %s already exists", ticket.ID))
	}
	for _, t := range r.tx.state.tickets {
		if t.ClinicID == ticket.ClinicID && t.QueueDate == ticket.QueueDate && t.Number == ticket.Number {
			return apperrors.NewConflictError(fmt.Sprintf("ticket number %d already taken", ticket.Number))
		}
	}
	r.tx.state.tickets[ticket.ID] = *ticket
	return nil
}

func (r *ticketRepo) GetByID(_ context.Context, id string) (*entities.QueueTicket, error) {
	t, ok := r.tx.state.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("ticket with id %s not found", id))
	}
	return &t, nil
}

func (r *ticketRepo) filter(keep func(t *entities.QueueTicket) bool) []*entities.QueueTicket {
	var out []*entities.QueueTicket
	for _, t := range r.tx.state.tickets {
		t := t
		if keep(&t) {
			out = append(out, &t)
		}
	}
	return out
}

func (r *ticketRepo) FindActive(_ context.Context, clinicID, patientID, date string) (*entities.QueueTicket, error) {
	matches := r.filter(func(t *entities.QueueTicket) bool {
		return t.ClinicID == clinicID && t.PatientID == patientID && t.QueueDate == date && t.Status.IsActive()
	})
	if len(matches) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no active ticket for patient %s at clinic %s", patientID, clinicID))
	}
	latestFirst(matches)
	return matches[0], nil
}

func (r *ticketRepo) FindCurrentForPatient(_ context.Context, patientID, date string) (*entities.QueueTicket, error) {
	matches := r.filter(func(t *entities.QueueTicket) bool {
		return t.PatientID == patientID && t.QueueDate == date && t.Status.IsActive()
	})
	if len(matches) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no active ticket for patient %s", patientID))
	}
	latestFirst(matches)
	return matches[0], nil
}

func (r *ticketRepo) ExistsForPatient(_ context.Context, patientID, date string) (bool, error) {
	for _, t := range r.tx.state.tickets {
		if t.PatientID == patientID && t.QueueDate == date {
			return true, nil
		}
	}
	return false, nil
}

func (r *ticketRepo) NextWaiting(_ context.Context, clinicID, date string) (*entities.QueueTicket, error) {
	waiting := r.filter(func(t *entities.QueueTicket) bool {
		return t.ClinicID == clinicID && t.QueueDate == date && t.Status == entities.TicketStatusWaiting
	})
	if len(waiting) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no waiting ticket at clinic %s", clinicID))
	}
	serviceOrder(waiting)
	return waiting[0], nil
}

func (r *ticketRepo) CountAhead(_ context.Context, ticket *entities.QueueTicket) (int, error) {
	n := 0
	for _, t := range r.tx.state.tickets {
		if t.ClinicID == ticket.ClinicID && t.QueueDate == ticket.QueueDate &&
			t.Status == entities.TicketStatusWaiting && t.ID != ticket.ID && t.Ahead(ticket) {
			n++
		}
	}
	return n, nil
}

func (r *ticketRepo) ListByClinic(_ context.Context, clinicID, date string) ([]*entities.QueueTicket, error) {
	out := r.filter(func(t *entities.QueueTicket) bool {
		return t.ClinicID == clinicID && t.QueueDate == date
	})
	serviceOrder(out)
	return out, nil
}

func (r *ticketRepo) UpdateStatus(_ context.Context, id string, from []entities.TicketStatus, change entities.TicketChange) (bool, error) {
	t, ok := r.tx.state.tickets[id]
	if !ok || !statusIn(t.Status, from) {
		return false, nil
	}
	change.Apply(&t, time.Now())
	r.tx.state.tickets[id] = t
	return true, nil
}

func (r *ticketRepo) ExpireCalled(_ context.Context, clinicID string, now time.Time) ([]*entities.QueueTicket, error) {
	var expired []*entities.QueueTicket
	for id, t := range r.tx.state.tickets {
		if t.ClinicID != clinicID || !t.IsExpired(now) {
			continue
		}
		t.Status = entities.TicketStatusNoShow
		t.UpdatedAt = now
		r.tx.state.tickets[id] = t
		cp := t
		expired = append(expired, &cp)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Number < expired[j].Number })
	return expired, nil
}

func (r *ticketRepo) RaisePriority(_ context.Context, patientID, date string, priority int) (int, error) {
	n := 0
	for id, t := range r.tx.state.tickets {
		if t.PatientID != patientID || t.QueueDate != date {
			continue
		}
		if t.Status != entities.TicketStatusWaiting && t.Status != entities.TicketStatusCalled {
			continue
		}
		t.Priority = priority
		t.UpdatedAt = time.Now()
		r.tx.state.tickets[id] = t
		n++
	}
	return n, nil
}

type loadRepo struct{ tx *tx }

func (r *loadRepo) Get(_ context.Context, clinicID, date string) (*entities.ClinicLoad, error) {
	if l, ok := r.tx.state.loads[dayKey(clinicID, date)]; ok {
		return &l, nil
	}
	return entities.NewClinicLoad(clinicID, date), nil
}

func (r *loadRepo) ListForDate(_ context.Context, date string, clinicIDs []string) (map[string]*entities.ClinicLoad, error) {
	out := make(map[string]*entities.ClinicLoad, len(clinicIDs))
	for _, id := range clinicIDs {
		if l, ok := r.tx.state.loads[dayKey(id, date)]; ok {
			l := l
			out[id] = &l
		}
	}
	return out, nil
}

func (r *loadRepo) Apply(ctx context.Context, clinicID, date string, delta entities.LoadDelta) (*entities.ClinicLoad, error) {
	load, _ := r.Get(ctx, clinicID, date)
	load.Apply(delta, time.Now())
	r.tx.state.loads[dayKey(clinicID, date)] = *load
	return load, nil
}

type routeRepo struct{ tx *tx }

func (r *routeRepo) Replace(_ context.Context, route *entities.PatientRoute) error {
	r.tx.state.routes[route.PatientID] = cloneRoute(*route)
	return nil
}

func (r *routeRepo) Get(_ context.Context, patientID string) (*entities.PatientRoute, error) {
	route, ok := r.tx.state.routes[patientID]
	if !ok || len(route.Steps) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no route for patient %s", patientID))
	}
	cp := cloneRoute(route)
	return &cp, nil
}

func (r *routeRepo) UpdateStep(_ context.Context, patientID string, step *entities.RouteStep) error {
	route, ok := r.tx.state.routes[patientID]
	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("no route for patient %s", patientID))
	}
	for i, s := range route.Steps {
		if s.StepOrder == step.StepOrder {
			cp := *step
			route.Steps[i] = &cp
			r.tx.state.routes[patientID] = route
			return nil
		}
	}
	return apperrors.NewNotFoundError(fmt.Sprintf("route step %d not found for patient %s", step.StepOrder, patientID))
}

type pinRepo struct{ tx *tx }

func (r *pinRepo) Upsert(_ context.Context, pin *entities.DailyPin) error {
	r.tx.state.pins[dayKey(pin.ClinicID, pin.PinDate)] = *pin
	return nil
}

func (r *pinRepo) Get(_ context.Context, clinicID, date string) (*entities.DailyPin, error) {
	p, ok := r.tx.state.pins[dayKey(clinicID, date)]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no PIN issued for clinic %s on %s", clinicID, date))
	}
	return &p, nil
}

type settingsRepo struct{ tx *tx }

func (r *settingsRepo) All(_ context.Context) (map[string]string, error) {
	out := make(map[string]string, len(r.tx.state.settings))
	for k, v := range r.tx.state.settings {
		out[k] = v
	}
	return out, nil
}

func (r *settingsRepo) Set(_ context.Context, key, value string) error {
	r.tx.state.settings[key] = value
	return nil
}

func statusIn(s entities.TicketStatus, set []entities.TicketStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func serviceOrder(ts []*entities.QueueTicket) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Ahead(ts[j]) })
}

func latestFirst(ts []*entities.QueueTicket) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].Number > ts[j].Number
	})
}

package entities

import (
	"sort"
	"time"
)

// RouteTemplateEntry assigns a clinic to one step of an exam route.
// Several clinics may share a step order; they compete for patients at that step.
type RouteTemplateEntry struct {
	ExamType          string `json:"exam_type" db:"exam_type" yaml:"exam_type"`
	Gender            Gender `json:"gender" db:"gender" yaml:"gender"`
	StepOrder         int    `json:"step_order" db:"step_order" yaml:"step_order"`
	ClinicID          string `json:"clinic_id" db:"clinic_id" yaml:"clinic_id"`
	ClinicName        string `json:"clinic_name,omitempty" db:"clinic_name" yaml:"-"`
	Floor             int    `json:"floor" db:"floor" yaml:"-"`
	IsRequired        bool   `json:"is_required" db:"is_required" yaml:"is_required"`
	EstimatedDuration int    `json:"estimated_duration_minutes" db:"estimated_duration_minutes" yaml:"estimated_duration_minutes"`
}

// SortTemplate orders entries by step, then clinic
func SortTemplate(entries []*RouteTemplateEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].StepOrder != entries[j].StepOrder {
			return entries[i].StepOrder < entries[j].StepOrder
		}
		return entries[i].ClinicID < entries[j].ClinicID
	})
}

// RouteStepStatus represents the state of one step of a patient route
type RouteStepStatus string

const (
	RouteStepPending RouteStepStatus = "pending"
	RouteStepActive  RouteStepStatus = "active"
	RouteStepDone    RouteStepStatus = "done"
)

// RouteStep is one clinic visit of a patient route
type RouteStep struct {
	StepOrder   int             `json:"step_order" db:"step_order"`
	ClinicID    string          `json:"clinic_id" db:"clinic_id"`
	Status      RouteStepStatus `json:"status" db:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// PatientRoute is the ordered list of clinics a patient visits today
type PatientRoute struct {
	PatientID string       `json:"patient_id"`
	ExamType  string       `json:"exam_type"`
	Gender    Gender       `json:"gender"`
	Priority  int          `json:"priority"`
	Steps     []*RouteStep `json:"steps"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewPatientRoute materializes one step per distinct step order of the template.
// The first step is active, the rest pending.
func NewPatientRoute(patientID, examType string, gender Gender, priority int, template []*RouteTemplateEntry, now time.Time) *PatientRoute {
	entries := make([]*RouteTemplateEntry, len(template))
	copy(entries, template)
	SortTemplate(entries)

	route := &PatientRoute{
		PatientID: patientID,
		ExamType:  examType,
		Gender:    gender,
		Priority:  priority,
		CreatedAt: now,
	}

	seen := make(map[int]bool)
	for _, e := range entries {
		if seen[e.StepOrder] {
			continue
		}
		seen[e.StepOrder] = true
		route.Steps = append(route.Steps, &RouteStep{
			StepOrder: e.StepOrder,
			ClinicID:  e.ClinicID,
			Status:    RouteStepPending,
		})
	}

	if len(route.Steps) > 0 {
		started := now
		route.Steps[0].Status = RouteStepActive
		route.Steps[0].StartedAt = &started
	}
	return route
}

// ActiveStep returns the active step, or nil
func (r *PatientRoute) ActiveStep() *RouteStep {
	for _, s := range r.Steps {
		if s.Status == RouteStepActive {
			return s
		}
	}
	return nil
}

// NextPending returns the first pending step after the given order, or nil
func (r *PatientRoute) NextPending(after int) *RouteStep {
	var next *RouteStep
	for _, s := range r.Steps {
		if s.Status != RouteStepPending || s.StepOrder <= after {
			continue
		}
		if next == nil || s.StepOrder < next.StepOrder {
			next = s
		}
	}
	return next
}

// Step returns the step with the given order, or nil
func (r *PatientRoute) Step(order int) *RouteStep {
	for _, s := range r.Steps {
		if s.StepOrder == order {
			return s
		}
	}
	return nil
}

// RouteStatus summarizes the progress of a patient route
type RouteStatus struct {
	PatientID      string       `json:"patient_id"`
	ExamType       string       `json:"exam_type"`
	Gender         Gender       `json:"gender"`
	Steps          []*RouteStep `json:"steps"`
	ActiveStep     *RouteStep   `json:"active_step,omitempty"`
	CompletedSteps int          `json:"completed_steps"`
	TotalSteps     int          `json:"total_steps"`
	Progress       int          `json:"progress"`
	IsComplete     bool         `json:"is_complete"`
}

// Status computes the progress summary of the route
func (r *PatientRoute) Status() *RouteStatus {
	st := &RouteStatus{
		PatientID:  r.PatientID,
		ExamType:   r.ExamType,
		Gender:     r.Gender,
		Steps:      r.Steps,
		ActiveStep: r.ActiveStep(),
		TotalSteps: len(r.Steps),
	}
	for _, s := range r.Steps {
		if s.Status == RouteStepDone {
			st.CompletedSteps++
		}
	}
	if st.TotalSteps > 0 {
		st.Progress = st.CompletedSteps * 100 / st.TotalSteps
	}
	st.IsComplete = st.TotalSteps > 0 && st.CompletedSteps == st.TotalSteps
	return st
}

package entities

import (
	"time"
)

// ClinicLoad holds the per-day counters of one clinic
type ClinicLoad struct {
	ClinicID         string     `json:"clinic_id" db:"clinic_id"`
	LoadDate         string     `json:"load_date" db:"load_date"`
	CurrentCalled    int        `json:"current_called" db:"current_called"`
	CurrentIn        int        `json:"current_in" db:"current_in"`
	DistributedToday int        `json:"distributed_today" db:"distributed_today"`
	TotalServedToday int        `json:"total_served_today" db:"total_served_today"`
	NoShowToday      int        `json:"no_show_today" db:"no_show_today"`
	EfficiencyScore  float64    `json:"efficiency_score" db:"efficiency_score"`
	LastCalledAt     *time.Time `json:"last_called_at,omitempty" db:"last_called_at"`
	LastCompletedAt  *time.Time `json:"last_completed_at,omitempty" db:"last_completed_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// NewClinicLoad returns an empty load row for the given day
func NewClinicLoad(clinicID, date string) *ClinicLoad {
	return &ClinicLoad{
		ClinicID:        clinicID,
		LoadDate:        date,
		EfficiencyScore: 1.0,
	}
}

// Occupied is the number of patients called or inside the clinic
func (l *ClinicLoad) Occupied() int {
	return l.CurrentCalled + l.CurrentIn
}

// LoadDelta is an increment applied to a ClinicLoad
type LoadDelta struct {
	Called          int
	In              int
	Distributed     int
	Served          int
	NoShow          int
	LastCalledAt    *time.Time
	LastCompletedAt *time.Time
}

// Apply adds the delta to the load. Live counters never drop below zero.
func (l *ClinicLoad) Apply(d LoadDelta, now time.Time) {
	l.CurrentCalled = floorZero(l.CurrentCalled + d.Called)
	l.CurrentIn = floorZero(l.CurrentIn + d.In)
	l.DistributedToday = floorZero(l.DistributedToday + d.Distributed)
	l.TotalServedToday = floorZero(l.TotalServedToday + d.Served)
	l.NoShowToday = floorZero(l.NoShowToday + d.NoShow)
	if d.LastCalledAt != nil {
		l.LastCalledAt = d.LastCalledAt
	}
	if d.LastCompletedAt != nil {
		l.LastCompletedAt = d.LastCompletedAt
	}
	l.EfficiencyScore = Efficiency(l.TotalServedToday, l.NoShowToday)
	l.UpdatedAt = now
}

// Efficiency is the share of called patients that were served. 1.0 with no history.
func Efficiency(served, noShow int) float64 {
	if served+noShow == 0 {
		return 1.0
	}
	return float64(served) / float64(served+noShow)
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

package entities

import (
	"time"
)

// ClinicStatus represents whether a clinic accepts patients
type ClinicStatus string

const (
	ClinicStatusOpen   ClinicStatus = "open"
	ClinicStatusClosed ClinicStatus = "closed"
)

// Clinic represents an examination station
type Clinic struct {
	ID          string       `json:"id" db:"id" yaml:"id"`
	Name        string       `json:"name" db:"name" yaml:"name"`
	Floor       int          `json:"floor" db:"floor" yaml:"floor"`
	Capacity    int          `json:"capacity" db:"capacity" yaml:"capacity"`
	Status      ClinicStatus `json:"status" db:"status" yaml:"status"`
	RequiresPin bool         `json:"requires_pin" db:"requires_pin" yaml:"requires_pin"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at" yaml:"-"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at" yaml:"-"`
}

// IsOpen reports whether the clinic accepts patients
func (c *Clinic) IsOpen() bool {
	return c.Status == ClinicStatusOpen
}

// EffectiveCapacity returns the clinic capacity, or fallback when unset
func (c *Clinic) EffectiveCapacity(fallback int) int {
	if c.Capacity > 0 {
		return c.Capacity
	}
	return fallback
}

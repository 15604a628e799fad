package entities

import (
	"time"
)

// DailyPin is the staff PIN of a clinic for one calendar day
type DailyPin struct {
	ClinicID  string    `json:"clinic_id" db:"clinic_id"`
	PinDate   string    `json:"date" db:"pin_date"`
	Pin       string    `json:"pin" db:"pin"`
	IssuedAt  time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the PIN is past its validity
func (p *DailyPin) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

package entities

import (
	"time"
)

// Lease is a short-lived, self-expiring claim on a resource key
type Lease struct {
	Key       string    `json:"key" db:"key"`
	Token     string    `json:"token" db:"token"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Held reports whether the lease is still in force at now
func (l *Lease) Held(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// TTL returns the configured lifetime of the lease
func (l *Lease) TTL() time.Duration {
	return l.ExpiresAt.Sub(l.CreatedAt)
}

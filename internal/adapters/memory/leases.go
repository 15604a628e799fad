package memory

import (
	"context"
	"sync"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
)

// LeaseTable is an in-process lease provider
type LeaseTable struct {
	mu     sync.Mutex
	leases map[string]entities.Lease
}

// NewLeaseTable creates an empty lease table
func NewLeaseTable() providers.LeaseProvider {
	return &LeaseTable{leases: make(map[string]entities.Lease)}
}

// TryAcquire claims key when it is free or its lease has expired
func (l *LeaseTable) TryAcquire(_ context.Context, key, token string, ttl time.Duration, now time.Time) (*entities.Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.leases[key]; ok && current.Held(now) {
		return nil, false, nil
	}
	lease := entities.Lease{Key: key, Token: token, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	l.leases[key] = lease
	return &lease, true, nil
}

// Release deletes the lease if token still owns it
func (l *LeaseTable) Release(_ context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.leases[key]; ok && current.Token == token {
		delete(l.leases, key)
		return true, nil
	}
	return false, nil
}

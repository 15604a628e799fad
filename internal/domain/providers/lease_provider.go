package providers

import (
	"context"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
)

// LeaseProvider stores leases. Acquisition is a single atomic compare-and-swap:
// it succeeds only when no lease for the key exists or the stored one has expired.
type LeaseProvider interface {
	// TryAcquire claims key for token until now+ttl. It returns false without
	// error when another holder's lease is still in force.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration, now time.Time) (*entities.Lease, bool, error)

	// Release removes the lease only if it is still owned by token
	Release(ctx context.Context, key, token string) (bool, error)
}

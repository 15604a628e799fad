package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// DefaultLeaseTTL bounds how long a crashed holder can block a key
const DefaultLeaseTTL = 10 * time.Second

// CallNextLeaseKey is the lease key serializing call-next for one clinic
func CallNextLeaseKey(clinicID string) string {
	return "queue:call-next:" + clinicID
}

// LockManager hands out short-lived, self-expiring leases. Acquisition never
// blocks: a held key fails immediately with reason "busy".
type LockManager struct {
	leases  providers.LeaseProvider
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// NewLockManager creates a lock manager; ttl <= 0 selects DefaultLeaseTTL
func NewLockManager(leases providers.LeaseProvider, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &LockManager{
		leases: leases,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock overrides the time source
func (m *LockManager) SetClock(now func() time.Time) {
	m.now = now
}

// SetMetrics enables lease contention metrics
func (m *LockManager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// Acquire claims key for ttl with a fresh owner token
func (m *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (*entities.Lease, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}

	lease, ok, err := m.leases.TryAcquire(ctx, key, uuid.NewString(), ttl, m.now())
	if err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).Str("lease_key", key).Msg("lease acquisition failed")
		return nil, apperrors.NewInternalError("failed to acquire lease", err)
	}
	if !ok {
		observability.RecordRejection(ctx, m.metrics, "lease", apperrors.ReasonBusy)
		return nil, apperrors.Busy(key)
	}
	return lease, nil
}

// Release gives the lease up if it is still owned by its token
func (m *LockManager) Release(ctx context.Context, lease *entities.Lease) error {
	if lease == nil {
		return nil
	}
	released, err := m.leases.Release(ctx, lease.Key, lease.Token)
	if err != nil {
		return apperrors.NewInternalError("failed to release lease", err)
	}
	if !released {
		observability.LoggerFromContext(ctx).Warn().Str("lease_key", lease.Key).Msg("lease expired before release")
	}
	return nil
}

// WithLease runs fn while holding key. Release errors are logged, not returned.
func (m *LockManager) WithLease(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lease, err := m.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		// release must run even when the caller's context is already cancelled
		if err := m.Release(context.WithoutCancel(ctx), lease); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).Str("lease_key", key).Msg("failed to release lease")
		}
	}()
	return fn(ctx)
}

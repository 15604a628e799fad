package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/providers"
	"github.com/zatekoja/patientflow/internal/infrastructure/clients/postgres"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// LeaseAdapter implements providers.LeaseProvider on the leases table. Each
// call autocommits so a lease is visible to other callers immediately.
type LeaseAdapter struct {
	client *postgres.Client
}

// NewLeaseAdapter creates a new PostgreSQL lease provider
func NewLeaseAdapter(client *postgres.Client) providers.LeaseProvider {
	return &LeaseAdapter{client: client}
}

// TryAcquire inserts the lease, or takes over a row whose lease already expired.
// No returned row means another holder is still in force.
func (a *LeaseAdapter) TryAcquire(ctx context.Context, key, token string, ttl time.Duration, now time.Time) (*entities.Lease, bool, error) {
	lease := &entities.Lease{Key: key, Token: token, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	query, args, err := dialect.Insert("leases").Rows(goqu.Record{
		"key":        lease.Key,
		"token":      lease.Token,
		"created_at": lease.CreatedAt,
		"expires_at": lease.ExpiresAt,
	}).OnConflict(goqu.DoUpdate("key", goqu.Record{
		"token":      goqu.I("excluded.token"),
		"created_at": goqu.I("excluded.created_at"),
		"expires_at": goqu.I("excluded.expires_at"),
	}).Where(goqu.I("leases.expires_at").Lte(now))).
		Returning("token").
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, false, apperrors.NewInternalError("failed to build query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, mapError(err, "failed to acquire lease")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, mapError(err, "failed to acquire lease")
		}
		return nil, false, nil
	}
	var got string
	if err := rows.Scan(&got); err != nil {
		return nil, false, mapError(err, "failed to read lease")
	}
	return lease, got == token, nil
}

// Release removes the lease only if it is still owned by token
func (a *LeaseAdapter) Release(ctx context.Context, key, token string) (bool, error) {
	ds := dialect.Delete("leases").Where(goqu.Ex{"key": key, "token": token}).Prepared(true)

	n, err := exec(ctx, a.client.DB(), ds)
	if err != nil {
		return false, mapError(err, "failed to release lease")
	}
	return n == 1, nil
}

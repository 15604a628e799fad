package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// dialect builds prepared PostgreSQL statements
var dialect = goqu.Dialect("postgres")

// PostgreSQL error codes mapped to application errors
const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
	pqForeignKey      = "23503"
)

// Store implements repositories.Store on PostgreSQL
type Store struct {
	client  *postgres.Client
	metrics *observability.Metrics
}

// NewStore creates a new PostgreSQL store
func NewStore(client *postgres.Client) *Store {
	return &Store{client: client}
}

// SetMetrics records transaction durations
func (s *Store) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

type txKey struct{}

type session struct {
	store *Store
	tx    *sqlx.Tx
}

// RunInTx runs fn inside a database transaction. A nested call whose context
// already carries a transaction of this store joins it.
func (s *Store) RunInTx(ctx context.Context, fn repositories.TxFunc) (err error) {
	if sess, ok := ctx.Value(txKey{}).(*session); ok && sess.store == s {
		return fn(ctx, newRepositories(sess.tx))
	}

	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewInternalError("failed to begin transaction", err)
	}
	start := time.Now()
	defer func() {
		observability.RecordDBMetric(ctx, s.metrics, "tx", time.Since(start))
	}()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, &session{store: s, tx: tx})
	if err := fn(txCtx, newRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			observability.LoggerFromContext(ctx).Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapError(err, "failed to commit transaction")
	}
	return nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.client.Close()
}

func newRepositories(q sqlx.ExtContext) repositories.Repositories {
	return repositories.Repositories{
		Clinics:   &ClinicAdapter{q: q},
		Templates: &RouteTemplateAdapter{q: q},
		Tickets:   &TicketAdapter{q: q},
		Loads:     &ClinicLoadAdapter{q: q},
		Routes:    &PatientRouteAdapter{q: q},
		Pins:      &DailyPinAdapter{q: q},
		Settings:  &SettingsAdapter{q: q},
	}
}

// mapError converts driver errors into application errors
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(message)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return apperrors.NewConflictError(fmt.Sprintf("%s: %s", message, pqErr.Constraint)).WithReason(apperrors.ReasonAlreadyExists)
		case pqCheckViolation, pqForeignKey:
			return apperrors.NewValidationError(fmt.Sprintf("%s: %s", message, pqErr.Message))
		}
	}
	return apperrors.NewInternalError(message, err)
}

// get runs a goqu select and scans the single row into dest
func get(ctx context.Context, q sqlx.QueryerContext, dest interface{}, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}
	return sqlx.GetContext(ctx, q, dest, query, args...)
}

// selectAll runs a goqu select and scans every row into dest
func selectAll(ctx context.Context, q sqlx.QueryerContext, dest interface{}, ds *goqu.SelectDataset) error {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build query", err)
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

// exec runs an insert, update or delete and returns the affected row count
func exec(ctx context.Context, q sqlx.ExecerContext, ds sqlBuilder) (int64, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build query", err)
	}
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

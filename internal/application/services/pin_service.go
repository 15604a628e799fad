package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

// pinSpace yields 4-digit PINs
var pinSpace = big.NewInt(10000)

// PinService issues and verifies the daily staff PIN of each clinic
type PinService struct {
	store   repositories.Store
	config  ConfigProvider
	now     func() time.Time
	metrics *observability.Metrics
}

// NewPinService creates a new PIN service
func NewPinService(store repositories.Store, config ConfigProvider) *PinService {
	return &PinService{
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// SetClock overrides the time source
func (s *PinService) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics enables PIN check metrics
func (s *PinService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// IssuePin generates today's PIN for a clinic, overwriting any prior one
func (s *PinService) IssuePin(ctx context.Context, clinicID string) (*entities.DailyPin, error) {
	ctx, span := observability.StartSpan(ctx, "PinService.IssuePin", attribute.String("clinic.id", clinicID))
	defer span.End()

	if strings.TrimSpace(clinicID) == "" {
		return nil, apperrors.NewValidationError("clinic id is required")
	}

	value, err := generatePin()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to generate PIN", err)
	}

	cfg := s.config.Current()
	now := s.now()
	pin := &entities.DailyPin{
		ClinicID:  clinicID,
		PinDate:   cfg.DateKey(now),
		Pin:       value,
		IssuedAt:  now,
		ExpiresAt: cfg.EndOfDay(now),
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		if _, err := repos.Clinics.GetByID(ctx, clinicID); err != nil {
			return err
		}
		return repos.Pins.Upsert(ctx, pin)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().Str("clinic_id", clinicID).Str("date", pin.PinDate).Msg("issued clinic PIN")
	return pin, nil
}

// VerifyPin checks pin against the clinic's PIN for dateKey, or today when dateKey is empty
func (s *PinService) VerifyPin(ctx context.Context, clinicID, pin, dateKey string) error {
	ctx, span := observability.StartSpan(ctx, "PinService.VerifyPin", attribute.String("clinic.id", clinicID))
	defer span.End()

	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		return s.verifyTx(ctx, repos, clinicID, pin, dateKey)
	})
	if err != nil {
		observability.RecordError(span, err)
	}
	return err
}

// CurrentPin returns today's PIN of a clinic for the staff display
func (s *PinService) CurrentPin(ctx context.Context, clinicID string) (*entities.DailyPin, error) {
	date := s.config.Current().DateKey(s.now())

	var pin *entities.DailyPin
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		pin, err = repos.Pins.Get(ctx, clinicID, date)
		return err
	})
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("no PIN issued for clinic %s today", clinicID)).
			WithReason(apperrors.ReasonPinNotIssued)
	}
	return pin, err
}

func (s *PinService) verifyTx(ctx context.Context, repos repositories.Repositories, clinicID, pin, dateKey string) error {
	pin = strings.TrimSpace(pin)
	if strings.TrimSpace(clinicID) == "" || pin == "" {
		return apperrors.NewValidationError("clinic id and PIN are required")
	}

	now := s.now()
	if dateKey == "" {
		dateKey = s.config.Current().DateKey(now)
	}

	stored, err := repos.Pins.Get(ctx, clinicID, dateKey)
	if apperrors.IsNotFound(err) {
		observability.RecordPinCheck(ctx, s.metrics, clinicID, false)
		return apperrors.NewNotFoundError(fmt.Sprintf("no PIN issued for clinic %s on %s", clinicID, dateKey)).
			WithReason(apperrors.ReasonPinNotIssued)
	}
	if err != nil {
		return err
	}

	if stored.Expired(now) {
		observability.RecordPinCheck(ctx, s.metrics, clinicID, false)
		return apperrors.NewConflictError("PIN has expired").WithReason(apperrors.ReasonPinExpired)
	}
	if subtle.ConstantTimeCompare([]byte(stored.Pin), []byte(pin)) != 1 {
		observability.RecordPinCheck(ctx, s.metrics, clinicID, false)
		return apperrors.NewConflictError("PIN does not match").WithReason(apperrors.ReasonInvalidPin)
	}

	observability.RecordPinCheck(ctx, s.metrics, clinicID, true)
	return nil
}

func generatePin() (string, error) {
	n, err := rand.Int(rand.Reader, pinSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

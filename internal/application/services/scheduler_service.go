package services

import (
	"context"
	"time"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// ConfigRefresher reloads the configuration snapshot
type ConfigRefresher interface {
	Refresh(ctx context.Context) error
}

// TickReport summarizes one scheduler pass
type TickReport struct {
	Skipped      bool `json:"skipped"`
	Clinics      int  `json:"clinics"`
	Called       int  `json:"called"`
	Expired      int  `json:"expired"`
	Busy         int  `json:"busy"`
	CapacityFull int  `json:"capacity_full"`
	NoWaiting    int  `json:"no_waiting"`
	Errors       int  `json:"errors"`
}

// SchedulerService admits patients on a fixed cadence during working hours
type SchedulerService struct {
	store     repositories.Store
	config    ConfigProvider
	queue     *QueueService
	refresher ConfigRefresher
	now       func() time.Time
	metrics   *observability.Metrics
}

// NewSchedulerService creates a scheduler. refresher may be nil.
func NewSchedulerService(store repositories.Store, config ConfigProvider, queue *QueueService, refresher ConfigRefresher) *SchedulerService {
	return &SchedulerService{
		store:     store,
		config:    config,
		queue:     queue,
		refresher: refresher,
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (s *SchedulerService) SetClock(now func() time.Time) {
	s.now = now
}

// SetMetrics enables tick metrics
func (s *SchedulerService) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// Tick expires overdue called tickets and calls the next patient at every
// open clinic. Outside working hours it does nothing.
func (s *SchedulerService) Tick(ctx context.Context) (*TickReport, error) {
	ctx, span := observability.StartSpan(ctx, "SchedulerService.Tick")
	defer span.End()

	start := time.Now()
	defer func() {
		observability.RecordTick(ctx, s.metrics, time.Since(start))
	}()

	cfg := s.config.Current()
	report := &TickReport{}
	if !cfg.WorkingHours.Contains(s.now(), cfg.Location) {
		report.Skipped = true
		return report, nil
	}

	var clinics []*entities.Clinic
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		clinics, err = repos.Clinics.List(ctx, repositories.ClinicFilter{Status: entities.ClinicStatusOpen})
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	logger := observability.ComponentLogger(ctx, "scheduler")
	for _, clinic := range clinics {
		report.Clinics++

		expired, err := s.queue.ExpireNoShows(ctx, clinic.ID)
		if err != nil {
			report.Errors++
			logger.Error().Err(err).Str("clinic_id", clinic.ID).Msg("failed to expire no-shows")
		}
		report.Expired += expired

		if _, err := s.queue.CallNext(ctx, clinic.ID); err != nil {
			switch apperrors.ReasonOf(err) {
			case apperrors.ReasonBusy:
				report.Busy++
			case apperrors.ReasonCapacityFull:
				report.CapacityFull++
			case apperrors.ReasonNoWaiting:
				report.NoWaiting++
			case apperrors.ReasonClinicClosed:
				// closed between listing and calling
			default:
				report.Errors++
				logger.Error().Err(err).Str("clinic_id", clinic.ID).Msg("failed to call next patient")
			}
			continue
		}
		report.Called++
	}

	logger.Debug().
		Int("clinics", report.Clinics).
		Int("called", report.Called).
		Int("expired", report.Expired).
		Int("errors", report.Errors).
		Msg("scheduler tick finished")
	return report, nil
}

// Run ticks at the configured admission cadence until ctx is done. The
// settings snapshot is refreshed before every tick, and a changed cadence
// takes effect on the next interval.
func (s *SchedulerService) Run(ctx context.Context) {
	logger := observability.ComponentLogger(ctx, "scheduler")

	interval := s.config.Current().Cadence()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info().Dur("interval", interval).Msg("started admission scheduler")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("stopping admission scheduler")
			return
		case <-ticker.C:
			if s.refresher != nil {
				if err := s.refresher.Refresh(ctx); err != nil {
					logger.Warn().Err(err).Msg("keeping previous settings")
				}
			}
			if _, err := s.Tick(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler tick failed")
			}
			if next := s.config.Current().Cadence(); next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				logger.Info().Dur("interval", interval).Msg("admission cadence changed")
			}
		}
	}
}

package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
)

// ConfigProvider supplies the current system configuration to the engines.
// Implementations return a value; callers never mutate shared state.
type ConfigProvider interface {
	Current() entities.SystemConfig
}

// StaticConfig is a fixed ConfigProvider
type StaticConfig entities.SystemConfig

// Current returns the fixed configuration
func (c StaticConfig) Current() entities.SystemConfig {
	return entities.SystemConfig(c)
}

// SettingsService keeps a typed snapshot of system_settings. The snapshot is
// replaced only by Refresh or Update, on the caller's schedule.
type SettingsService struct {
	store    repositories.Store
	defaults entities.SystemConfig
	current  atomic.Value
}

// NewSettingsService creates a settings service that starts from defaults
func NewSettingsService(store repositories.Store, defaults entities.SystemConfig) *SettingsService {
	s := &SettingsService{
		store:    store,
		defaults: defaults,
	}
	s.current.Store(defaults)
	return s
}

// Current returns the last loaded configuration
func (s *SettingsService) Current() entities.SystemConfig {
	return s.current.Load().(entities.SystemConfig)
}

// Refresh reloads the snapshot from the store
func (s *SettingsService) Refresh(ctx context.Context) error {
	var raw map[string]string
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		var err error
		raw, err = repos.Settings.All(ctx)
		return err
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Error().Err(err).Msg("failed to load system settings")
		return err
	}
	s.current.Store(entities.ParseSystemConfig(raw, s.defaults))
	return nil
}

// Raw returns the stored settings merged over the effective values, keyed by setting name
func (s *SettingsService) Raw(ctx context.Context) (map[string]string, error) {
	cfg := s.Current()
	out := map[string]string{
		entities.SettingGraceMinutes:   fmt.Sprint(cfg.GraceMinutes),
		entities.SettingCadenceMinutes: fmt.Sprint(cfg.CadenceMinutes),
		entities.SettingMaxCapacity:    fmt.Sprint(cfg.MaxCapacity),
		entities.SettingAutoRouting:    fmt.Sprint(cfg.AutoRouting),
		entities.SettingNotifications:  fmt.Sprint(cfg.Notifications),
		entities.SettingWorkStart:      cfg.WorkingHours.Start.String(),
		entities.SettingWorkEnd:        cfg.WorkingHours.End.String(),
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		stored, err := repos.Settings.All(ctx)
		if err != nil {
			return err
		}
		for k, v := range stored {
			if k == entities.SettingEmergencyPin {
				continue
			}
			out[k] = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update validates and stores one setting, then refreshes the snapshot
func (s *SettingsService) Update(ctx context.Context, key, value string) (entities.SystemConfig, error) {
	if err := entities.ValidateSetting(key, value); err != nil {
		return s.Current(), apperrors.NewValidationError(err.Error())
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		return repos.Settings.Set(ctx, key, value)
	})
	if err != nil {
		return s.Current(), err
	}
	if err := s.Refresh(ctx); err != nil {
		return s.Current(), err
	}
	return s.Current(), nil
}

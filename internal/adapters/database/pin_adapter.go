package database

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
)

// DailyPinAdapter implements the DailyPinRepository interface
type DailyPinAdapter struct {
	q sqlx.ExtContext
}

// NewDailyPinAdapter creates a new PIN adapter outside any transaction
func NewDailyPinAdapter(q sqlx.ExtContext) repositories.DailyPinRepository {
	return &DailyPinAdapter{q: q}
}

// Upsert stores the PIN of a clinic day, overwriting any prior value
func (a *DailyPinAdapter) Upsert(ctx context.Context, pin *entities.DailyPin) error {
	ds := dialect.Insert("daily_pins").Rows(goqu.Record{
		"clinic_id":  pin.ClinicID,
		"pin_date":   pin.PinDate,
		"pin":        pin.Pin,
		"issued_at":  pin.IssuedAt,
		"expires_at": pin.ExpiresAt,
	}).OnConflict(goqu.DoUpdate("clinic_id, pin_date", goqu.Record{
		"pin":        goqu.I("excluded.pin"),
		"issued_at":  goqu.I("excluded.issued_at"),
		"expires_at": goqu.I("excluded.expires_at"),
	})).Prepared(true)

	if _, err := exec(ctx, a.q, ds); err != nil {
		return mapError(err, "failed to store PIN")
	}
	return nil
}

// Get returns the PIN of a clinic day
func (a *DailyPinAdapter) Get(ctx context.Context, clinicID, date string) (*entities.DailyPin, error) {
	ds := dialect.From("daily_pins").
		Select("clinic_id", "pin_date", "pin", "issued_at", "expires_at").
		Where(goqu.Ex{"clinic_id": clinicID, "pin_date": date})

	pin := &entities.DailyPin{}
	if err := get(ctx, a.q, pin, ds); err != nil {
		return nil, mapError(err, fmt.Sprintf("no PIN issued for clinic %s on %s", clinicID, date))
	}
	return pin, nil
}

// SettingsAdapter implements the SettingsRepository interface
type SettingsAdapter struct {
	q sqlx.ExtContext
}

// NewSettingsAdapter creates a new settings adapter outside any transaction
func NewSettingsAdapter(q sqlx.ExtContext) repositories.SettingsRepository {
	return &SettingsAdapter{q: q}
}

type settingRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// All returns every stored setting
func (a *SettingsAdapter) All(ctx context.Context) (map[string]string, error) {
	ds := dialect.From("system_settings").Select("key", "value")

	var rows []settingRow
	if err := selectAll(ctx, a.q, &rows, ds); err != nil {
		return nil, mapError(err, "failed to load settings")
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Set stores one setting
func (a *SettingsAdapter) Set(ctx context.Context, key, value string) error {
	ds := dialect.Insert("system_settings").
		Rows(goqu.Record{"key": key, "value": value, "updated_at": time.Now()}).
		OnConflict(goqu.DoUpdate("key", goqu.Record{
			"value":      goqu.I("excluded.value"),
			"updated_at": goqu.I("excluded.updated_at"),
		})).Prepared(true)

	if _, err := exec(ctx, a.q, ds); err != nil {
		return mapError(err, "failed to store setting")
	}
	return nil
}

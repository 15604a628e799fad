package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSystemConfig_Fallbacks(t *testing.T) {
	defaults := DefaultSystemConfig(time.UTC, "")

	cfg := ParseSystemConfig(map[string]string{
		SettingGraceMinutes: "abc",
		SettingMaxCapacity:  "-3",
		SettingWorkStart:    "25:00",
	}, defaults)

	assert.Equal(t, 5, cfg.GraceMinutes)
	assert.Equal(t, 1, cfg.CadenceMinutes)
	assert.Equal(t, 6, cfg.MaxCapacity)
	assert.True(t, cfg.AutoRouting)
	assert.True(t, cfg.Notifications)
	assert.Equal(t, "07:00", cfg.WorkingHours.Start.String())
	assert.Equal(t, "15:00", cfg.WorkingHours.End.String())
	assert.Equal(t, "999", cfg.EmergencyPin)
}

func TestParseSystemConfig_Overrides(t *testing.T) {
	cfg := ParseSystemConfig(map[string]string{
		SettingGraceMinutes:   "8",
		SettingCadenceMinutes: "2",
		SettingMaxCapacity:    "4",
		SettingAutoRouting:    "false",
		SettingNotifications:  "false",
		SettingWorkStart:      "06:30",
		SettingWorkEnd:        "14:00",
		SettingEmergencyPin:   "4242",
	}, DefaultSystemConfig(time.UTC, ""))

	assert.Equal(t, 8*time.Minute, cfg.Grace())
	assert.Equal(t, 2*time.Minute, cfg.Cadence())
	assert.Equal(t, 4, cfg.MaxCapacity)
	assert.False(t, cfg.AutoRouting)
	assert.False(t, cfg.Notifications)
	assert.Equal(t, "06:30", cfg.WorkingHours.Start.String())
	assert.Equal(t, "4242", cfg.EmergencyPin)
}

func TestWorkingHours_Contains(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Qatar")
	require.NoError(t, err)
	wh := WorkingHours{Start: 7 * 60, End: 15 * 60}

	assert.True(t, wh.Contains(time.Date(2026, 3, 1, 7, 0, 0, 0, loc), loc))
	assert.True(t, wh.Contains(time.Date(2026, 3, 1, 14, 59, 0, 0, loc), loc))
	assert.False(t, wh.Contains(time.Date(2026, 3, 1, 15, 0, 0, 0, loc), loc))
	// 03:30 UTC is 06:30 in Doha
	assert.False(t, wh.Contains(time.Date(2026, 3, 1, 3, 30, 0, 0, time.UTC), loc))

	overnight := WorkingHours{Start: 22 * 60, End: 2 * 60}
	assert.True(t, overnight.Contains(time.Date(2026, 3, 1, 23, 0, 0, 0, loc), loc))
	assert.True(t, overnight.Contains(time.Date(2026, 3, 1, 1, 0, 0, 0, loc), loc))
	assert.False(t, overnight.Contains(time.Date(2026, 3, 1, 12, 0, 0, 0, loc), loc))
}

func TestDateKeyAndEndOfDay(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Qatar")
	require.NoError(t, err)
	cfg := DefaultSystemConfig(loc, "")

	// 22:30 UTC on the 1st is already the 2nd in Doha (UTC+3)
	ts := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", cfg.DateKey(ts))

	eod := cfg.EndOfDay(ts)
	assert.Equal(t, "2026-03-02", cfg.DateKey(eod))
	assert.Equal(t, "2026-03-03", cfg.DateKey(eod.Add(time.Nanosecond)))
}

func TestValidateSetting(t *testing.T) {
	assert.NoError(t, ValidateSetting(SettingGraceMinutes, "5"))
	assert.Error(t, ValidateSetting(SettingGraceMinutes, "0"))
	assert.NoError(t, ValidateSetting(SettingAutoRouting, "true"))
	assert.Error(t, ValidateSetting(SettingAutoRouting, "maybe"))
	assert.NoError(t, ValidateSetting(SettingWorkEnd, "15:00"))
	assert.Error(t, ValidateSetting(SettingWorkEnd, "3pm"))
	assert.Error(t, ValidateSetting("theme", "dark"))
}

func TestClinicLoad_ApplyFloorsAndEfficiency(t *testing.T) {
	load := NewClinicLoad("lab", "2026-03-01")
	now := time.Now()

	load.Apply(LoadDelta{Called: 1}, now)
	load.Apply(LoadDelta{Called: -1, In: 1}, now)
	load.Apply(LoadDelta{In: -1, Served: 1}, now)
	load.Apply(LoadDelta{Called: -5, NoShow: 1}, now)

	assert.Equal(t, 0, load.CurrentCalled)
	assert.Equal(t, 0, load.CurrentIn)
	assert.Equal(t, 1, load.TotalServedToday)
	assert.InDelta(t, 0.5, load.EfficiencyScore, 1e-9)
	assert.InDelta(t, 1.0, Efficiency(0, 0), 1e-9)
}

func TestValidatePatientAndGender(t *testing.T) {
	assert.NoError(t, ValidatePatientID("12"))
	assert.NoError(t, ValidatePatientID("123456789012"))
	assert.Error(t, ValidatePatientID("1"))
	assert.Error(t, ValidatePatientID("1234567890123"))
	assert.Error(t, ValidatePatientID("12a4"))

	g, err := ParseGender(" Female ")
	assert.NoError(t, err)
	assert.Equal(t, GenderFemale, g)
	_, err = ParseGender("other")
	assert.Error(t, err)
}

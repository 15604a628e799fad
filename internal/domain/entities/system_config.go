package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys of the system_settings table
const (
	SettingGraceMinutes   = "grace_minutes"
	SettingCadenceMinutes = "admission_cadence_minutes"
	SettingMaxCapacity    = "max_capacity_per_clinic"
	SettingAutoRouting    = "enable_auto_routing"
	SettingNotifications  = "enable_notifications"
	SettingWorkStart      = "working_hours_start"
	SettingWorkEnd        = "working_hours_end"
	SettingEmergencyPin   = "emergency_pin"
)

// SettingKeys lists every recognised setting
var SettingKeys = []string{
	SettingGraceMinutes,
	SettingCadenceMinutes,
	SettingMaxCapacity,
	SettingAutoRouting,
	SettingNotifications,
	SettingWorkStart,
	SettingWorkEnd,
	SettingEmergencyPin,
}

// ClockTime is a wall-clock time of day in minutes after midnight
type ClockTime int

// ParseClockTime parses "HH:MM"
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// String formats the time as "HH:MM"
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// WorkingHours is the daily window during which automatic admission runs
type WorkingHours struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Contains reports whether t, in loc, falls within [Start, End)
func (w WorkingHours) Contains(t time.Time, loc *time.Location) bool {
	local := t.In(loc)
	minute := ClockTime(local.Hour()*60 + local.Minute())
	if w.Start <= w.End {
		return minute >= w.Start && minute < w.End
	}
	// window crosses midnight
	return minute >= w.Start || minute < w.End
}

// SystemConfig is the typed view of system_settings
type SystemConfig struct {
	GraceMinutes   int            `json:"grace_minutes"`
	CadenceMinutes int            `json:"cadence_minutes"`
	MaxCapacity    int            `json:"max_capacity"`
	AutoRouting    bool           `json:"auto_routing"`
	Notifications  bool           `json:"notifications"`
	WorkingHours   WorkingHours   `json:"working_hours"`
	EmergencyPin   string         `json:"-"`
	Location       *time.Location `json:"-"`
}

// DefaultSystemConfig returns the fallbacks used when a setting is absent or malformed
func DefaultSystemConfig(loc *time.Location, emergencyPin string) SystemConfig {
	if loc == nil {
		loc = time.UTC
	}
	if emergencyPin == "" {
		emergencyPin = "999"
	}
	return SystemConfig{
		GraceMinutes:   5,
		CadenceMinutes: 1,
		MaxCapacity:    6,
		AutoRouting:    true,
		Notifications:  true,
		WorkingHours:   WorkingHours{Start: 7 * 60, End: 15 * 60},
		EmergencyPin:   emergencyPin,
		Location:       loc,
	}
}

// ParseSystemConfig overlays raw string settings on defaults. Values that do
// not parse keep their default.
func ParseSystemConfig(raw map[string]string, defaults SystemConfig) SystemConfig {
	cfg := defaults
	if v, ok := positiveInt(raw[SettingGraceMinutes]); ok {
		cfg.GraceMinutes = v
	}
	if v, ok := positiveInt(raw[SettingCadenceMinutes]); ok {
		cfg.CadenceMinutes = v
	}
	if v, ok := positiveInt(raw[SettingMaxCapacity]); ok {
		cfg.MaxCapacity = v
	}
	if v, err := strconv.ParseBool(raw[SettingAutoRouting]); err == nil {
		cfg.AutoRouting = v
	}
	if v, err := strconv.ParseBool(raw[SettingNotifications]); err == nil {
		cfg.Notifications = v
	}
	if v, err := ParseClockTime(raw[SettingWorkStart]); err == nil {
		cfg.WorkingHours.Start = v
	}
	if v, err := ParseClockTime(raw[SettingWorkEnd]); err == nil {
		cfg.WorkingHours.End = v
	}
	if v := strings.TrimSpace(raw[SettingEmergencyPin]); v != "" {
		cfg.EmergencyPin = v
	}
	return cfg
}

// ValidateSetting checks a raw value before it is stored
func ValidateSetting(key, value string) error {
	switch key {
	case SettingGraceMinutes, SettingCadenceMinutes, SettingMaxCapacity:
		if _, ok := positiveInt(value); !ok {
			return fmt.Errorf("%s must be a positive integer", key)
		}
	case SettingAutoRouting, SettingNotifications:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s must be a boolean", key)
		}
	case SettingWorkStart, SettingWorkEnd:
		if _, err := ParseClockTime(value); err != nil {
			return err
		}
	case SettingEmergencyPin:
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// Grace returns the grace period as a duration
func (c SystemConfig) Grace() time.Duration {
	return time.Duration(c.GraceMinutes) * time.Minute
}

// Cadence returns the admission cadence as a duration
func (c SystemConfig) Cadence() time.Duration {
	return time.Duration(c.CadenceMinutes) * time.Minute
}

// DateKey returns the facility calendar day of t as YYYY-MM-DD
func (c SystemConfig) DateKey(t time.Time) string {
	return DateKey(t, c.Location)
}

// EndOfDay returns the last instant of the facility calendar day containing t
func (c SystemConfig) EndOfDay(t time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, loc)
}

// DateKey returns the calendar day of t in loc as YYYY-MM-DD
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

func positiveInt(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

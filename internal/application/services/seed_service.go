package services

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/zatekoja/patientflow/internal/domain/entities"
	"github.com/zatekoja/patientflow/internal/domain/repositories"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/patientflow/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SeedData is the YAML layout of a facility: its clinics, exam routes and
// optional setting overrides.
type SeedData struct {
	Clinics   []*entities.Clinic `yaml:"clinics"`
	Templates []SeedTemplate     `yaml:"templates"`
	Settings  map[string]string  `yaml:"settings"`
}

// SeedTemplate lists the clinics of every step of one exam route.
// Clinics sharing a step are alternatives.
type SeedTemplate struct {
	ExamType string     `yaml:"exam_type"`
	Gender   string     `yaml:"gender"`
	Steps    []SeedStep `yaml:"steps"`
}

// SeedStep is one ordered step of a SeedTemplate
type SeedStep struct {
	Clinics           []string `yaml:"clinics"`
	Optional          bool     `yaml:"optional"`
	EstimatedDuration int      `yaml:"estimated_duration_minutes"`
}

// SeedReport counts what ApplySeed wrote
type SeedReport struct {
	Clinics   int `json:"clinics"`
	Templates int `json:"templates"`
	Settings  int `json:"settings"`
}

// LoadSeedFile reads and parses a seed file
func LoadSeedFile(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

// ParseSeed parses and validates seed YAML
func ParseSeed(raw []byte) (*SeedData, error) {
	var seed SeedData
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid seed file: %v", err))
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks ids, references and setting values
func (d *SeedData) Validate() error {
	known := make(map[string]bool, len(d.Clinics))
	for _, c := range d.Clinics {
		if c.ID == "" {
			return apperrors.NewValidationError("clinic id is required")
		}
		if known[c.ID] {
			return apperrors.NewValidationError(fmt.Sprintf("duplicate clinic %q", c.ID))
		}
		known[c.ID] = true
		if c.Status == "" {
			c.Status = entities.ClinicStatusOpen
		}
		if c.Status != entities.ClinicStatusOpen && c.Status != entities.ClinicStatusClosed {
			return apperrors.NewValidationError(fmt.Sprintf("clinic %q has invalid status %q", c.ID, c.Status))
		}
	}
	for _, tpl := range d.Templates {
		if tpl.ExamType == "" {
			return apperrors.NewValidationError("template exam_type is required")
		}
		if _, err := entities.ParseGender(tpl.Gender); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("template %s: %v", tpl.ExamType, err))
		}
		for i, step := range tpl.Steps {
			if len(step.Clinics) == 0 {
				return apperrors.NewValidationError(fmt.Sprintf("template %s step %d has no clinics", tpl.ExamType, i+1))
			}
			for _, id := range step.Clinics {
				if !known[id] {
					return apperrors.NewValidationError(fmt.Sprintf("template %s references unknown clinic %q", tpl.ExamType, id))
				}
			}
		}
	}
	for key, value := range d.Settings {
		if err := entities.ValidateSetting(key, value); err != nil {
			return apperrors.NewValidationError(err.Error())
		}
	}
	return nil
}

// entries expands a template into ordered template rows
func (t SeedTemplate) entries() []*entities.RouteTemplateEntry {
	gender, _ := entities.ParseGender(t.Gender)
	var out []*entities.RouteTemplateEntry
	for i, step := range t.Steps {
		for _, id := range step.Clinics {
			out = append(out, &entities.RouteTemplateEntry{
				ExamType:          t.ExamType,
				Gender:            gender,
				StepOrder:         i + 1,
				ClinicID:          id,
				IsRequired:        !step.Optional,
				EstimatedDuration: step.EstimatedDuration,
			})
		}
	}
	entities.SortTemplate(out)
	return out
}

// ApplySeed upserts clinics, replaces the listed templates and writes
// settings in one transaction.
func ApplySeed(ctx context.Context, store repositories.Store, seed *SeedData) (*SeedReport, error) {
	logger := observability.ComponentLogger(ctx, "seed")
	report := &SeedReport{}

	err := store.RunInTx(ctx, func(ctx context.Context, repos repositories.Repositories) error {
		for _, c := range seed.Clinics {
			if err := repos.Clinics.Upsert(ctx, c); err != nil {
				return err
			}
			report.Clinics++
		}
		for _, tpl := range seed.Templates {
			gender, _ := entities.ParseGender(tpl.Gender)
			if err := repos.Templates.Replace(ctx, tpl.ExamType, gender, tpl.entries()); err != nil {
				return err
			}
			report.Templates++
		}
		keys := make([]string, 0, len(seed.Settings))
		for key := range seed.Settings {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := repos.Settings.Set(ctx, key, seed.Settings[key]); err != nil {
				return err
			}
			report.Settings++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("clinics", report.Clinics).
		Int("templates", report.Templates).
		Int("settings", report.Settings).
		Msg("seed applied")
	return report, nil
}

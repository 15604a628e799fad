package services

import (
	"sort"

	"github.com/zatekoja/patientflow/internal/domain/entities"
)

// Load score weights
const (
	occupancyWeight    = 0.7
	distributionWeight = 0.2
	efficiencyWeight   = 0.1
)

// ClinicCandidate is the load snapshot of one clinic competing for a patient
type ClinicCandidate struct {
	ClinicID    string  `json:"clinic_id"`
	Capacity    int     `json:"capacity"`
	Occupied    int     `json:"occupied"`
	Distributed int     `json:"distributed"`
	Efficiency  float64 `json:"efficiency"`
}

// ScoredClinic is a candidate with its load score. Lower scores are preferred.
type ScoredClinic struct {
	ClinicCandidate
	Score      float64 `json:"score"`
	AtCapacity bool    `json:"at_capacity"`
}

// NewClinicCandidate builds a candidate from a clinic and its load for the day.
// A nil load counts as empty.
func NewClinicCandidate(clinic *entities.Clinic, load *entities.ClinicLoad, defaultCapacity int) ClinicCandidate {
	c := ClinicCandidate{
		ClinicID:   clinic.ID,
		Capacity:   clinic.EffectiveCapacity(defaultCapacity),
		Efficiency: 1.0,
	}
	if load != nil {
		c.Occupied = load.Occupied()
		c.Distributed = load.DistributedToday
		c.Efficiency = load.EfficiencyScore
	}
	return c
}

// RankClinics scores candidates and orders them best first. Clinics at
// capacity sort after every clinic with room; ties break on clinic ID.
// The result depends only on the input.
func RankClinics(candidates []ClinicCandidate, defaultCapacity int) []ScoredClinic {
	if defaultCapacity < 1 {
		defaultCapacity = 1
	}

	maxDistributed := 1
	for _, c := range candidates {
		if c.Distributed > maxDistributed {
			maxDistributed = c.Distributed
		}
	}

	scored := make([]ScoredClinic, 0, len(candidates))
	for _, c := range candidates {
		capacity := c.Capacity
		if capacity <= 0 {
			capacity = defaultCapacity
		}
		score := occupancyWeight*float64(c.Occupied)/float64(capacity) +
			distributionWeight*float64(c.Distributed)/float64(maxDistributed) +
			efficiencyWeight*(1-clamp01(c.Efficiency))
		scored = append(scored, ScoredClinic{
			ClinicCandidate: c,
			Score:           score,
			AtCapacity:      c.Occupied >= capacity,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.AtCapacity != b.AtCapacity {
			return !a.AtCapacity
		}
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		return a.ClinicID < b.ClinicID
	})
	return scored
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package entities

import (
	"fmt"
	"regexp"
	"strings"
)

// Gender selects the route template variant
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

var patientIDPattern = regexp.MustCompile(`^\d{2,12}$`)

// ValidatePatientID checks the national/military id format
func ValidatePatientID(id string) error {
	if !patientIDPattern.MatchString(id) {
		return fmt.Errorf("patient id must be 2 to 12 digits")
	}
	return nil
}

// ParseGender normalizes and validates a gender value
func ParseGender(s string) (Gender, error) {
	g := Gender(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case GenderMale, GenderFemale:
		return g, nil
	}
	return "", fmt.Errorf("gender must be male or female")
}

// ValidatePriority checks the ticket priority range
func ValidatePriority(p int) error {
	if p < PriorityNormal || p > PriorityEmergency {
		return fmt.Errorf("priority must be between %d and %d", PriorityNormal, PriorityEmergency)
	}
	return nil
}

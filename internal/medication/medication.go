// Package medication defines the medication record model, the free-text
// dosage parser, the validation rules and the in-memory record store.
package medication

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Frequency descriptors accepted by the validator. Raw time-of-day strings
// ("08:00" or "08:00,20:00") are accepted alongside these.
const (
	FreqOnceDaily       = "once daily"
	FreqTwiceDaily      = "twice daily"
	FreqThreeTimesDaily = "three times daily"
	FreqFourTimesDaily  = "four times daily"
	FreqAsNeeded        = "as needed"
	FreqWeekly          = "weekly"
	FreqBiWeekly        = "bi-weekly"
	FreqMonthly         = "monthly"
)

var (
	everyNHoursRE = regexp.MustCompile(`(?i)^every\s+(\d+)\s+hours?$`)
	timesOfDayRE  = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d(\s*,\s*([01]?\d|2[0-3]):[0-5]\d)*$`)
)

// Medication is a tracked prescription or OTC item. Records are never hard
// deleted; Remove flips Active and stamps DiscontinuedAt.
type Medication struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Dosage            string      `json:"dosage,omitempty"`
	Unit              string      `json:"unit,omitempty"`
	Quantity          float64     `json:"quantity,omitempty"`
	Frequency         string      `json:"frequency,omitempty"`
	Notes             string      `json:"notes,omitempty"`
	Active            bool        `json:"active"`
	Refill            *RefillInfo `json:"refill,omitempty"`
	Warnings          []string    `json:"warnings,omitempty"`
	PregnancyCategory string      `json:"pregnancy_category,omitempty"`
	NDCCode           string      `json:"ndc_code,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	DiscontinuedAt    *time.Time  `json:"discontinued_at,omitempty"`
	DiscontinueReason string      `json:"discontinue_reason,omitempty"`
}

// RefillInfo holds the optional refill-tracking state. A nil *RefillInfo on
// a Medication means refill tracking was never enabled, which is distinct
// from a tracked medication that has run out.
type RefillInfo struct {
	PillCount     int        `json:"pill_count"`
	PillsPerDose  int        `json:"pills_per_dose"`
	ThresholdDays int        `json:"threshold_days"`
	LastRefillAt  *time.Time `json:"last_refill_at,omitempty"`
}

// DoseRecord is one instance of a medication being taken. Records are
// append-only and survive deactivation of their medication.
type DoseRecord struct {
	ID           string    `json:"id"`
	MedicationID string    `json:"medication_id"`
	TakenAt      time.Time `json:"taken_at"`
	Notes        string    `json:"notes,omitempty"`
}

// clone returns a deep copy so callers never alias store-owned state.
func (m Medication) clone() Medication {
	out := m
	if m.Refill != nil {
		r := *m.Refill
		out.Refill = &r
	}
	if m.Warnings != nil {
		out.Warnings = append([]string(nil), m.Warnings...)
	}
	if m.DiscontinuedAt != nil {
		t := *m.DiscontinuedAt
		out.DiscontinuedAt = &t
	}
	return out
}

// DosesPerDay maps a frequency descriptor to its expected daily dose count.
// Sub-daily schedules (weekly, monthly) yield fractional rates; "as needed"
// and unrecognized descriptors yield 0.
func DosesPerDay(frequency string) float64 {
	f := strings.ToLower(strings.TrimSpace(frequency))
	switch f {
	case FreqOnceDaily, "daily":
		return 1
	case FreqTwiceDaily, "twice-daily":
		return 2
	case FreqThreeTimesDaily, "three-times-daily":
		return 3
	case FreqFourTimesDaily, "four-times-daily":
		return 4
	case FreqAsNeeded, "as-needed", "":
		return 0
	case FreqWeekly:
		return 1.0 / 7
	case FreqBiWeekly:
		return 1.0 / 14
	case FreqMonthly:
		return 1.0 / 30
	}
	if m := everyNHoursRE.FindStringSubmatch(f); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return 0
		}
		return 24.0 / float64(n)
	}
	if timesOfDayRE.MatchString(strings.TrimSpace(frequency)) {
		return float64(strings.Count(frequency, ",") + 1)
	}
	return 0
}

// ValidFrequency reports whether the descriptor is one of the enumerated
// schedules, an "every N hours" form, or a comma-separated time-of-day list.
func ValidFrequency(frequency string) bool {
	f := strings.ToLower(strings.TrimSpace(frequency))
	switch f {
	case FreqOnceDaily, "daily", FreqTwiceDaily, "twice-daily",
		FreqThreeTimesDaily, "three-times-daily",
		FreqFourTimesDaily, "four-times-daily",
		FreqAsNeeded, "as-needed", FreqWeekly, FreqBiWeekly, FreqMonthly:
		return true
	}
	if everyNHoursRE.MatchString(f) {
		return true
	}
	return timesOfDayRE.MatchString(strings.TrimSpace(frequency))
}

// Package refill implements per-medication pill-count tracking: supply
// projection from the consumption rate, low/out-of-stock classification and
// pill-count adjustments on dose taken or refill.
package refill

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/medication"
)

// Status classifies the remaining supply of a refill-tracked medication.
type Status string

const (
	StatusOK  Status = "OK"
	StatusLow Status = "LOW"
	StatusOut Status = "OUT"
)

// unboundedDays stands in for "no projected depletion" on schedules with no
// daily consumption rate (as-needed). OUT still fires at zero pills.
const unboundedDays = math.MaxInt32

// Alert is the user-facing notification raised when supply runs low or out.
type Alert struct {
	MedicationID  string `json:"medication_id"`
	Name          string `json:"name"`
	Status        Status `json:"status"`
	PillCount     int    `json:"pill_count"`
	DaysRemaining int    `json:"days_remaining"`
	Message       string `json:"message"`
}

// Tracker mutates refill state through the medication store so pill counts
// and record fields stay consistent under one lock.
type Tracker struct {
	store  *medication.Store
	logger *zap.Logger
}

// NewTracker creates a refill tracker over the given store.
func NewTracker(store *medication.Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger}
}

// SetInfo enables refill tracking for a medication. pillsPerDose defaults to
// 1 and thresholdDays to 7 when non-positive.
func (t *Tracker) SetInfo(id string, pillCount, pillsPerDose, thresholdDays int, at time.Time) error {
	if pillCount < 0 {
		return fmt.Errorf("%w: pill count must not be negative", medication.ErrInvalidInput)
	}
	if pillsPerDose <= 0 {
		pillsPerDose = 1
	}
	if thresholdDays <= 0 {
		thresholdDays = 7
	}
	return t.store.Mutate(id, func(m *medication.Medication) error {
		refillAt := at
		m.Refill = &medication.RefillInfo{
			PillCount:     pillCount,
			PillsPerDose:  pillsPerDose,
			ThresholdDays: thresholdDays,
			LastRefillAt:  &refillAt,
		}
		m.UpdatedAt = at
		return nil
	})
}

// AdjustPillCount shifts the pill count by delta, clamping at zero. A
// positive delta is a refill and stamps LastRefillAt with at. Returns the
// resulting count and false when the medication does not exist or refill
// tracking was never enabled.
func (t *Tracker) AdjustPillCount(id string, delta int, at time.Time) (int, bool) {
	var count int
	enabled := false
	err := t.store.Mutate(id, func(m *medication.Medication) error {
		if m.Refill == nil {
			return nil
		}
		enabled = true
		m.Refill.PillCount += delta
		if m.Refill.PillCount < 0 {
			m.Refill.PillCount = 0
		}
		if delta > 0 {
			refillAt := at
			m.Refill.LastRefillAt = &refillAt
		}
		count = m.Refill.PillCount
		return nil
	})
	if err != nil || !enabled {
		return 0, false
	}
	return count, true
}

// DaysRemaining projects how many days of supply are left from the pill
// count and the consumption rate. ok is false only when refill tracking was
// never enabled, which is distinct from zero days remaining.
func DaysRemaining(m medication.Medication) (days int, ok bool) {
	if m.Refill == nil {
		return 0, false
	}
	rate := float64(m.Refill.PillsPerDose) * medication.DosesPerDay(m.Frequency)
	if rate <= 0 {
		return unboundedDays, true
	}
	return int(math.Floor(float64(m.Refill.PillCount) / rate)), true
}

// Classify returns the supply status. ok is false when refill tracking was
// never enabled for this medication.
func Classify(m medication.Medication) (Status, bool) {
	if m.Refill == nil {
		return "", false
	}
	if m.Refill.PillCount == 0 {
		return StatusOut, true
	}
	days, _ := DaysRemaining(m)
	if days <= m.Refill.ThresholdDays {
		return StatusLow, true
	}
	return StatusOK, true
}

// CheckAlert evaluates the supply and returns an alert when it is low or
// out. The second return reports whether an alert fired.
func (t *Tracker) CheckAlert(m medication.Medication) (*Alert, bool) {
	status, enabled := Classify(m)
	if !enabled || status == StatusOK {
		return nil, false
	}

	days, _ := DaysRemaining(m)
	alert := &Alert{
		MedicationID:  m.ID,
		Name:          m.Name,
		Status:        status,
		PillCount:     m.Refill.PillCount,
		DaysRemaining: days,
	}
	switch status {
	case StatusOut:
		alert.Message = fmt.Sprintf("OUT OF PILLS: %s has no pills remaining", m.Name)
	case StatusLow:
		alert.Message = fmt.Sprintf("LOW SUPPLY: %s has %d day(s) remaining", m.Name, days)
	}

	t.logger.Warn("refill alert",
		zap.String("medication_id", m.ID),
		zap.String("status", string(status)),
		zap.Int("pill_count", alert.PillCount),
		zap.Int("days_remaining", days),
	)
	return alert, true
}

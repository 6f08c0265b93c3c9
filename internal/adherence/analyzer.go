// Package adherence derives adherence rates, streaks and weekly trends from
// a medication's dose history.
package adherence

import (
	"math"
	"time"

	"github.com/wellmind/medtrack/internal/medication"
)

// DayClass classifies a single calendar day's adherence.
type DayClass string

const (
	DayFullyAdherent     DayClass = "full"
	DayPartiallyAdherent DayClass = "partial"
	DayNotAdherent       DayClass = "none"
	DayNoDosesExpected   DayClass = "no-doses-expected"
)

// streakHorizonDays bounds the backward walk so an unbroken history cannot
// loop forever.
const streakHorizonDays = 365

// Summary is the adherence rate over a window. NoMedications and NoHistory
// flag the degenerate cases explicitly instead of dividing by zero.
type Summary struct {
	WindowDays    int     `json:"window_days"`
	ExpectedDoses int     `json:"expected_doses"`
	TakenDoses    int     `json:"taken_doses"`
	Rate          float64 `json:"rate"`
	NoMedications bool    `json:"no_medications,omitempty"`
	NoHistory     bool    `json:"no_history,omitempty"`
}

// WeekBucket is one 7-day slice of the trend, most recent first.
type WeekBucket struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ExpectedDoses int       `json:"expected_doses"`
	TakenDoses    int       `json:"taken_doses"`
	Rate          float64   `json:"rate"`
}

// Analyzer computes adherence analytics over the store's active medications
// and their dose histories.
type Analyzer struct {
	store *medication.Store
	now   func() time.Time
}

// NewAnalyzer creates an analyzer. The clock is swappable for tests.
func NewAnalyzer(store *medication.Store) *Analyzer {
	return &Analyzer{store: store, now: time.Now}
}

// WithClock overrides the analyzer's clock.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// expectedForDay is the whole number of doses a medication is scheduled for
// on one calendar day. Sub-daily schedules (weekly, monthly) and as-needed
// medications expect zero on any given day; days before the medication
// existed expect zero too.
func expectedForDay(m medication.Medication, day time.Time) int {
	if day.Before(startOfDay(m.CreatedAt)) {
		return 0
	}
	dpd := medication.DosesPerDay(m.Frequency)
	if dpd < 1 {
		return 0
	}
	return int(dpd)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Percentages are reported to two decimal places.
func round2(x float64) float64 { return math.Round(x*100) / 100 }

// Summary computes the adherence rate over the last `days` calendar days,
// including today.
func (a *Analyzer) Summary(days int) Summary {
	if days <= 0 {
		days = 30
	}
	sum := Summary{WindowDays: days}

	meds := a.store.List(false)
	if len(meds) == 0 {
		sum.NoMedications = true
		return sum
	}

	today := startOfDay(a.now())
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -i)
		for _, m := range meds {
			expected := expectedForDay(m, day)
			if expected == 0 {
				continue
			}
			sum.ExpectedDoses += expected
			taken := a.dosesOn(m.ID, day)
			if taken > expected {
				taken = expected
			}
			sum.TakenDoses += taken
		}
	}

	if sum.ExpectedDoses == 0 {
		return sum
	}
	if sum.TakenDoses == 0 {
		sum.NoHistory = true
	}
	sum.Rate = round2(float64(sum.TakenDoses) / float64(sum.ExpectedDoses) * 100)
	return sum
}

// Streak counts consecutive fully adherent calendar days, walking backward
// from today and stopping at the first day with any missed expected dose.
func (a *Analyzer) Streak() int {
	meds := a.store.List(false)
	if len(meds) == 0 {
		return 0
	}

	today := startOfDay(a.now())
	streak := 0
	for i := 0; i < streakHorizonDays; i++ {
		day := today.AddDate(0, 0, -i)
		switch a.ClassifyDay(day) {
		case DayFullyAdherent:
			streak++
		case DayNoDosesExpected:
			// Days predating every medication end the walk without
			// breaking what was counted so far.
			return streak
		default:
			return streak
		}
	}
	return streak
}

// ClassifyDay reports whether all, some or none of the expected doses were
// recorded on the given calendar day.
func (a *Analyzer) ClassifyDay(day time.Time) DayClass {
	day = startOfDay(day)
	expectedTotal, takenTotal := 0, 0
	allMet := true

	for _, m := range a.store.List(false) {
		expected := expectedForDay(m, day)
		if expected == 0 {
			continue
		}
		expectedTotal += expected
		taken := a.dosesOn(m.ID, day)
		takenTotal += taken
		if taken < expected {
			allMet = false
		}
	}

	switch {
	case expectedTotal == 0:
		return DayNoDosesExpected
	case allMet:
		return DayFullyAdherent
	case takenTotal > 0:
		return DayPartiallyAdherent
	default:
		return DayNotAdherent
	}
}

// WeeklyTrend partitions the window into 7-day buckets, most recent first,
// and reports a rate per bucket.
func (a *Analyzer) WeeklyTrend(days int) []WeekBucket {
	if days <= 0 {
		days = 28
	}
	meds := a.store.List(false)
	today := startOfDay(a.now())

	weeks := (days + 6) / 7
	buckets := make([]WeekBucket, 0, weeks)
	for w := 0; w < weeks; w++ {
		end := today.AddDate(0, 0, -7*w)
		start := end.AddDate(0, 0, -6)
		b := WeekBucket{Start: start, End: end}

		for i := 0; i < 7; i++ {
			day := end.AddDate(0, 0, -i)
			for _, m := range meds {
				expected := expectedForDay(m, day)
				if expected == 0 {
					continue
				}
				b.ExpectedDoses += expected
				taken := a.dosesOn(m.ID, day)
				if taken > expected {
					taken = expected
				}
				b.TakenDoses += taken
			}
		}
		if b.ExpectedDoses > 0 {
			b.Rate = round2(float64(b.TakenDoses) / float64(b.ExpectedDoses) * 100)
		}
		buckets = append(buckets, b)
	}
	return buckets
}

// dosesOn counts recorded doses for one medication on one calendar day.
func (a *Analyzer) dosesOn(medicationID string, day time.Time) int {
	next := day.AddDate(0, 0, 1)
	count := 0
	for _, d := range a.store.Doses(medicationID) {
		t := d.TakenAt.UTC()
		if !t.Before(day) && t.Before(next) {
			count++
		}
	}
	return count
}

package refill

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/wellmind/medtrack/internal/medication"
)

func newStoreWith(t *testing.T, id, name, frequency string) *medication.Store {
	t.Helper()
	s := medication.NewStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	err := s.Add(&medication.Medication{
		ID:        id,
		Name:      name,
		Dosage:    "10mg",
		Frequency: frequency,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return s
}

func TestSetInfo(t *testing.T) {
	s := newStoreWith(t, "m1", "Lisinopril", "once daily")
	tr := NewTracker(s, nil)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Defaults fill non-positive values
	if err := tr.SetInfo("m1", 30, 0, 0, at); err != nil {
		t.Fatalf("SetInfo failed: %v", err)
	}
	med, _ := s.Get("m1")
	if med.Refill == nil {
		t.Fatal("refill info not set")
	}
	if med.Refill.PillsPerDose != 1 || med.Refill.ThresholdDays != 7 {
		t.Errorf("defaults = %d/%d, want 1/7", med.Refill.PillsPerDose, med.Refill.ThresholdDays)
	}
	if med.Refill.LastRefillAt == nil || !med.Refill.LastRefillAt.Equal(at) {
		t.Errorf("LastRefillAt = %v, want %v", med.Refill.LastRefillAt, at)
	}

	if err := tr.SetInfo("m1", -1, 1, 7, at); !errors.Is(err, medication.ErrInvalidInput) {
		t.Errorf("negative pill count error = %v, want ErrInvalidInput", err)
	}
	if err := tr.SetInfo("missing", 10, 1, 7, at); !errors.Is(err, medication.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestDaysRemaining(t *testing.T) {
	med := medication.Medication{Frequency: "twice daily"}

	// Never enabled is distinct from zero days left
	if _, ok := DaysRemaining(med); ok {
		t.Error("DaysRemaining ok = true for nil refill, want false")
	}

	med.Refill = &medication.RefillInfo{PillCount: 28, PillsPerDose: 1}
	days, ok := DaysRemaining(med)
	if !ok || days != 14 {
		t.Errorf("DaysRemaining = (%d, %v), want (14, true)", days, ok)
	}

	// 2 pills per dose halves the projection
	med.Refill.PillsPerDose = 2
	if days, _ := DaysRemaining(med); days != 7 {
		t.Errorf("DaysRemaining = %d, want 7", days)
	}

	// As-needed has no consumption rate, so no projected depletion
	med.Frequency = "as needed"
	if days, ok := DaysRemaining(med); !ok || days != math.MaxInt32 {
		t.Errorf("as-needed DaysRemaining = (%d, %v), want (MaxInt32, true)", days, ok)
	}
}

func TestClassify(t *testing.T) {
	med := medication.Medication{Frequency: "once daily"}

	if _, ok := Classify(med); ok {
		t.Error("Classify ok = true for nil refill, want false")
	}

	med.Refill = &medication.RefillInfo{PillCount: 30, PillsPerDose: 1, ThresholdDays: 7}
	if st, _ := Classify(med); st != StatusOK {
		t.Errorf("status = %s, want OK", st)
	}

	med.Refill.PillCount = 7
	if st, _ := Classify(med); st != StatusLow {
		t.Errorf("status = %s, want LOW", st)
	}

	med.Refill.PillCount = 0
	if st, _ := Classify(med); st != StatusOut {
		t.Errorf("status = %s, want OUT", st)
	}

	// Zero pills is OUT even without a consumption rate
	med.Frequency = "as needed"
	if st, _ := Classify(med); st != StatusOut {
		t.Errorf("as-needed empty status = %s, want OUT", st)
	}
}

func TestAdjustPillCount(t *testing.T) {
	s := newStoreWith(t, "m1", "Lisinopril", "once daily")
	tr := NewTracker(s, nil)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Not enabled yet
	if _, ok := tr.AdjustPillCount("m1", -1, at); ok {
		t.Error("AdjustPillCount ok = true before SetInfo, want false")
	}

	if err := tr.SetInfo("m1", 3, 1, 7, at); err != nil {
		t.Fatalf("SetInfo failed: %v", err)
	}

	if count, ok := tr.AdjustPillCount("m1", -1, at); !ok || count != 2 {
		t.Errorf("AdjustPillCount = (%d, %v), want (2, true)", count, ok)
	}

	// Clamps at zero; taking doses leaves LastRefillAt alone
	if count, ok := tr.AdjustPillCount("m1", -10, at.Add(24*time.Hour)); !ok || count != 0 {
		t.Errorf("AdjustPillCount = (%d, %v), want (0, true)", count, ok)
	}
	med, _ := s.Get("m1")
	if med.Refill.LastRefillAt == nil || !med.Refill.LastRefillAt.Equal(at) {
		t.Errorf("LastRefillAt = %v, want %v", med.Refill.LastRefillAt, at)
	}

	// Positive delta is a refill and stamps LastRefillAt with the given time
	refillAt := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if count, ok := tr.AdjustPillCount("m1", 30, refillAt); !ok || count != 30 {
		t.Errorf("AdjustPillCount = (%d, %v), want (30, true)", count, ok)
	}
	med, _ = s.Get("m1")
	if med.Refill.LastRefillAt == nil || !med.Refill.LastRefillAt.Equal(refillAt) {
		t.Errorf("LastRefillAt = %v, want %v", med.Refill.LastRefillAt, refillAt)
	}

	if _, ok := tr.AdjustPillCount("missing", 1, at); ok {
		t.Error("AdjustPillCount ok = true for unknown id, want false")
	}
}

func TestCheckAlert(t *testing.T) {
	s := newStoreWith(t, "m1", "Lisinopril", "once daily")
	tr := NewTracker(s, nil)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// 10 pills, 1 per dose, once daily, alert at 7 days
	if err := tr.SetInfo("m1", 10, 1, 7, at); err != nil {
		t.Fatalf("SetInfo failed: %v", err)
	}

	med, _ := s.Get("m1")
	if alert, fired := tr.CheckAlert(med); fired {
		t.Errorf("alert fired at 10 days of supply: %+v", alert)
	}

	// Three doses in: 7 days remaining, at the threshold
	tr.AdjustPillCount("m1", -3, at)
	med, _ = s.Get("m1")
	alert, fired := tr.CheckAlert(med)
	if !fired || alert.Status != StatusLow {
		t.Fatalf("alert = (%+v, %v), want LOW", alert, fired)
	}
	if !strings.Contains(alert.Message, "LOW SUPPLY") || !strings.Contains(alert.Message, "7 day(s)") {
		t.Errorf("message = %q", alert.Message)
	}

	// Out of pills
	tr.AdjustPillCount("m1", -7, at)
	med, _ = s.Get("m1")
	alert, fired = tr.CheckAlert(med)
	if !fired || alert.Status != StatusOut {
		t.Fatalf("alert = (%+v, %v), want OUT", alert, fired)
	}
	if !strings.Contains(alert.Message, "OUT OF PILLS") {
		t.Errorf("message = %q", alert.Message)
	}

	// Never-enabled medications never alert
	if alert, fired := tr.CheckAlert(medication.Medication{ID: "x", Name: "Bare"}); fired {
		t.Errorf("alert fired without refill info: %+v", alert)
	}
}

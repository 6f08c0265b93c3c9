package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/wellmind/medtrack/internal/audit"
	"github.com/wellmind/medtrack/internal/fda"
	"github.com/wellmind/medtrack/internal/medication"
	"github.com/wellmind/medtrack/internal/refill"
)

// rejectingValidator refuses every medication.
type rejectingValidator struct{ reason string }

func (v *rejectingValidator) ValidateMedication(ctx context.Context, name string) (*fda.Result, error) {
	return &fda.Result{Valid: false, Reason: v.reason}, nil
}

func (v *rejectingValidator) CheckDrugInteractions(ctx context.Context, name string, others []string) ([]fda.Interaction, error) {
	return nil, nil
}

func (v *rejectingValidator) NDCCode(ctx context.Context, name, dosage string) (string, error) {
	return "", errors.New("unknown")
}

// failingAuditLog errors on every write but still answers reads.
type failingAuditLog struct{}

func (failingAuditLog) Log(ctx context.Context, e audit.Entry) error { return errors.New("sink down") }
func (failingAuditLog) Entries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return nil, nil
}
func (failingAuditLog) Clear(ctx context.Context) error { return nil }

func auditCount(t *testing.T, tr *Tracker, action audit.Action) int {
	t.Helper()
	entries, err := tr.AuditEntries(context.Background(), audit.Filter{Action: action})
	if err != nil {
		t.Fatalf("AuditEntries failed: %v", err)
	}
	return len(entries)
}

func TestAddMedication(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{
		Name:      "  lisinopril  ",
		Dosage:    "10mg",
		Frequency: "once daily",
	})
	if err != nil {
		t.Fatalf("AddMedication failed: %v", err)
	}
	if med.ID == "" {
		t.Error("medication has no id")
	}
	if med.Name != "Lisinopril" {
		t.Errorf("name = %q, want sanitized+normalized Lisinopril", med.Name)
	}
	if med.Unit != "mg" || med.Quantity != 10 {
		t.Errorf("parsed dosage = %v%s, want 10mg", med.Quantity, med.Unit)
	}

	if got := auditCount(t, tr, audit.ActionMedicationAdded); got != 1 {
		t.Errorf("MEDICATION_ADDED entries = %d, want 1", got)
	}
}

func TestAddMedicationValidationFailureAuditedOnce(t *testing.T) {
	ctx := context.Background()
	tr := New()

	_, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "ten mg"})
	if !errors.Is(err, medication.ErrInvalidDosageFormat) {
		t.Fatalf("error = %v, want ErrInvalidDosageFormat", err)
	}

	if got := auditCount(t, tr, audit.ActionValidationFailed); got != 1 {
		t.Errorf("VALIDATION_FAILED entries = %d, want 1", got)
	}
	if got := len(tr.ListMedications(true)); got != 0 {
		t.Errorf("medications stored after rejection: %d", got)
	}
}

func TestAddMedicationDuplicateAudited(t *testing.T) {
	ctx := context.Background()
	tr := New()
	in := medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"}

	if _, err := tr.AddMedication(ctx, in); err != nil {
		t.Fatalf("first add failed: %v", err)
	}
	if _, err := tr.AddMedication(ctx, in); !errors.Is(err, medication.ErrDuplicateEntry) {
		t.Fatalf("second add error = %v, want ErrDuplicateEntry", err)
	}
	if got := auditCount(t, tr, audit.ActionValidationFailed); got != 1 {
		t.Errorf("VALIDATION_FAILED entries = %d, want 1", got)
	}

	// A soft-deleted record still reserves its identity
	meds := tr.ListMedications(false)
	if err := tr.RemoveMedication(ctx, meds[0].ID, "switched brands"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := tr.AddMedication(ctx, in); !errors.Is(err, medication.ErrDuplicateEntry) {
		t.Errorf("add after remove error = %v, want ErrDuplicateEntry", err)
	}
}

func TestAddMedicationWithFDAVerification(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedicationWithFDAVerification(ctx, medication.Input{
		Name:      "Lisinopril",
		Dosage:    "10mg",
		Frequency: "once daily",
	})
	if err != nil {
		t.Fatalf("verified add failed: %v", err)
	}
	if len(med.Warnings) == 0 {
		t.Error("expected canned warnings for lisinopril")
	}
	if med.PregnancyCategory != "D" {
		t.Errorf("pregnancy category = %q, want D", med.PregnancyCategory)
	}

	// The verified path audits the verification on top of the add
	if got := auditCount(t, tr, audit.ActionMedicationAdded); got != 1 {
		t.Errorf("MEDICATION_ADDED entries = %d, want 1", got)
	}
	if got := auditCount(t, tr, audit.ActionFDAVerificationCompleted); got != 1 {
		t.Errorf("FDA_VERIFICATION_COMPLETED entries = %d, want 1", got)
	}

	// Warnings survive in the store, not just the returned copy
	stored, err := tr.GetMedication(med.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(stored.Warnings) == 0 || stored.PregnancyCategory != "D" {
		t.Error("verification data not attached to stored record")
	}
}

func TestAddMedicationWithFDARejection(t *testing.T) {
	ctx := context.Background()
	tr := New(WithFDAValidator(&rejectingValidator{reason: "recalled lot"}))

	_, err := tr.AddMedicationWithFDAVerification(ctx, medication.Input{
		Name:      "BadMed",
		Dosage:    "10mg",
		Frequency: "once daily",
	})
	if !errors.Is(err, fda.ErrValidationFailed) {
		t.Fatalf("error = %v, want fda.ErrValidationFailed", err)
	}
	if !strings.Contains(err.Error(), "recalled lot") {
		t.Errorf("error %q does not carry the rejection reason", err)
	}

	// Rejection happens before any mutation
	if got := len(tr.ListMedications(true)); got != 0 {
		t.Errorf("medications stored after FDA rejection: %d", got)
	}
	if got := auditCount(t, tr, audit.ActionValidationFailed); got != 1 {
		t.Errorf("VALIDATION_FAILED entries = %d, want 1", got)
	}
}

func TestUpdateMedicationViewerDenied(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	tr.SetCurrentUser("carol", RoleViewer)
	dosage := "325mg"
	_, err = tr.UpdateMedication(ctx, med.ID, medication.Patch{Dosage: &dosage})
	if !errors.Is(err, medication.ErrInsufficientPermissions) {
		t.Fatalf("viewer update error = %v, want ErrInsufficientPermissions", err)
	}

	entries, _ := tr.AuditEntries(ctx, audit.Filter{Action: audit.ActionValidationFailed})
	if len(entries) != 1 {
		t.Fatalf("VALIDATION_FAILED entries = %d, want 1", len(entries))
	}
	if entries[0].UserID != "carol" {
		t.Errorf("denied update attributed to %q, want carol", entries[0].UserID)
	}
}

func TestUpdateMedication(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Metoprolol", Dosage: "25mg", Frequency: "twice daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	dosage := "50mg"
	after, err := tr.UpdateMedication(ctx, med.ID, medication.Patch{Dosage: &dosage})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if after.Dosage != "50mg" || after.Quantity != 50 {
		t.Errorf("after = %q/%v, want 50mg/50", after.Dosage, after.Quantity)
	}

	entries, _ := tr.AuditEntries(ctx, audit.Filter{Action: audit.ActionMedicationUpdated})
	if len(entries) != 1 {
		t.Fatalf("MEDICATION_UPDATED entries = %d, want 1", len(entries))
	}
	if entries[0].Details["before"] == nil || entries[0].Details["after"] == nil {
		t.Error("update audit missing before/after pair")
	}
}

func TestUpdateMedicationRejectsInvalidFields(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Lisinopril", Dosage: "10mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// A patch cannot push the dosage past the safety ceiling
	dosage := "99999mg"
	if _, err := tr.UpdateMedication(ctx, med.ID, medication.Patch{Dosage: &dosage}); !errors.Is(err, medication.ErrDosageTooHigh) {
		t.Fatalf("oversized dosage error = %v, want ErrDosageTooHigh", err)
	}

	garbled := "ten milligrams"
	if _, err := tr.UpdateMedication(ctx, med.ID, medication.Patch{Dosage: &garbled}); !errors.Is(err, medication.ErrInvalidDosageFormat) {
		t.Fatalf("garbled dosage error = %v, want ErrInvalidDosageFormat", err)
	}

	freq := "whenever"
	if _, err := tr.UpdateMedication(ctx, med.ID, medication.Patch{Frequency: &freq}); !errors.Is(err, medication.ErrInvalidFrequency) {
		t.Fatalf("frequency error = %v, want ErrInvalidFrequency", err)
	}

	// A name that sanitizes away entirely is a missing field
	empty := "<script></script>"
	if _, err := tr.UpdateMedication(ctx, med.ID, medication.Patch{Name: &empty}); !errors.Is(err, medication.ErrMissingField) {
		t.Fatalf("empty-after-sanitize error = %v, want ErrMissingField", err)
	}

	got, err := tr.GetMedication(med.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Dosage != "10mg" || got.Quantity != 10 || got.Frequency != "once daily" || got.Name != "Lisinopril" {
		t.Errorf("record changed by rejected patches: %+v", got)
	}

	if n := auditCount(t, tr, audit.ActionValidationFailed); n != 4 {
		t.Errorf("VALIDATION_FAILED entries = %d, want 4", n)
	}
	if n := auditCount(t, tr, audit.ActionMedicationUpdated); n != 0 {
		t.Errorf("MEDICATION_UPDATED entries = %d, want 0", n)
	}
}

func TestRemoveMedicationCriticalSeverity(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Warfarin", Dosage: "5mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := tr.RemoveMedication(ctx, med.ID, "critical adverse reaction"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	entries, _ := tr.AuditEntries(ctx, audit.Filter{Action: audit.ActionMedicationRemoved})
	if len(entries) != 1 {
		t.Fatalf("MEDICATION_REMOVED entries = %d, want 1", len(entries))
	}
	if entries[0].Severity != audit.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", entries[0].Severity)
	}

	// History stays queryable after deactivation
	if _, err := tr.GetMedication(med.ID); err != nil {
		t.Errorf("removed medication not retrievable: %v", err)
	}
}

func TestMarkAsTaken(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	dose, alert, err := tr.MarkAsTaken(ctx, med.ID, "with breakfast")
	if err != nil {
		t.Fatalf("MarkAsTaken failed: %v", err)
	}
	if dose == nil || dose.Notes != "with breakfast" {
		t.Errorf("dose = %+v", dose)
	}
	if alert != nil {
		t.Errorf("alert fired without refill tracking: %+v", alert)
	}
	if got := len(tr.DoseHistory(med.ID)); got != 1 {
		t.Errorf("dose history length = %d, want 1", got)
	}
	if got := auditCount(t, tr, audit.ActionDoseTaken); got != 1 {
		t.Errorf("DOSE_TAKEN entries = %d, want 1", got)
	}
}

func TestMarkAsTakenInactive(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := tr.RemoveMedication(ctx, med.ID, "done"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	if _, _, err := tr.MarkAsTaken(ctx, med.ID, ""); !errors.Is(err, medication.ErrNotFound) {
		t.Errorf("MarkAsTaken on inactive error = %v, want ErrNotFound", err)
	}
}

func TestMarkAsTakenDecrementsAndAlerts(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Lisinopril", Dosage: "10mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	// 8 pills, threshold 7 days: the first dose drops the projection to the
	// threshold and fires LOW.
	if err := tr.SetRefillInfo(ctx, med.ID, 8, 1, 7); err != nil {
		t.Fatalf("SetRefillInfo failed: %v", err)
	}

	_, alert, err := tr.MarkAsTaken(ctx, med.ID, "")
	if err != nil {
		t.Fatalf("MarkAsTaken failed: %v", err)
	}
	if alert == nil || alert.Status != refill.StatusLow {
		t.Fatalf("alert = %+v, want LOW", alert)
	}
	if alert.PillCount != 7 {
		t.Errorf("alert pill count = %d, want 7", alert.PillCount)
	}
	if got := auditCount(t, tr, audit.ActionRefillAlert); got != 1 {
		t.Errorf("REFILL_ALERT entries = %d, want 1", got)
	}

	// Drain the rest: the empty bottle is OUT
	var last *refill.Alert
	for i := 0; i < 7; i++ {
		_, last, err = tr.MarkAsTaken(ctx, med.ID, "")
		if err != nil {
			t.Fatalf("MarkAsTaken failed: %v", err)
		}
	}
	if last == nil || last.Status != refill.StatusOut {
		t.Errorf("final alert = %+v, want OUT", last)
	}
}

func TestUpdatePillCount(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if _, ok := tr.UpdatePillCount(ctx, med.ID, 10); ok {
		t.Error("UpdatePillCount ok = true before refill tracking enabled")
	}

	if err := tr.SetRefillInfo(ctx, med.ID, 5, 1, 7); err != nil {
		t.Fatalf("SetRefillInfo failed: %v", err)
	}
	count, ok := tr.UpdatePillCount(ctx, med.ID, 30)
	if !ok || count != 35 {
		t.Errorf("UpdatePillCount = (%d, %v), want (35, true)", count, ok)
	}
	if got := auditCount(t, tr, audit.ActionPillCountAdjusted); got != 1 {
		t.Errorf("PILL_COUNT_ADJUSTED entries = %d, want 1", got)
	}
}

func TestClearAuditLog(t *testing.T) {
	ctx := context.Background()
	tr := New()

	if _, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	tr.SetCurrentUser("dave", RoleUser)
	if err := tr.ClearAuditLog(ctx); !errors.Is(err, medication.ErrInsufficientPermissions) {
		t.Fatalf("non-admin clear error = %v, want ErrInsufficientPermissions", err)
	}

	tr.SetCurrentUser("root", RoleAdmin)
	if err := tr.ClearAuditLog(ctx); err != nil {
		t.Fatalf("admin clear failed: %v", err)
	}

	// The only entry left is the record of the clear itself
	entries, _ := tr.AuditEntries(ctx, audit.Filter{})
	if len(entries) != 1 || entries[0].Action != audit.ActionAuditLogCleared {
		t.Errorf("entries after clear = %+v, want single AUDIT_LOG_CLEARED", entries)
	}
}

func TestImportMedications(t *testing.T) {
	ctx := context.Background()
	tr := New()

	inputs := []medication.Input{
		{Name: "Lisinopril", Dosage: "10mg", Frequency: "once daily"},
		{Name: "Metoprolol", Dosage: "25mg", Frequency: "twice daily"},
		{Name: "Aspirin", Dosage: "ten mg", Frequency: "once daily"}, // malformed dosage
		{Name: "Atorvastatin", Dosage: "20mg", Frequency: "once daily"},
	}

	results := tr.ImportMedications(ctx, inputs, false, 2)
	if len(results) != len(inputs) {
		t.Fatalf("got %d results, want %d", len(results), len(inputs))
	}

	okCount, failCount := 0, 0
	seen := map[string]bool{}
	for _, r := range results {
		if r.Err != nil {
			failCount++
			continue
		}
		okCount++
		if r.Medication == nil || r.Medication.ID == "" {
			t.Errorf("successful import without a medication id: %+v", r)
			continue
		}
		if seen[r.Medication.ID] {
			t.Errorf("duplicate id across imports: %s", r.Medication.ID)
		}
		seen[r.Medication.ID] = true
	}
	if okCount != 3 || failCount != 1 {
		t.Errorf("ok/fail = %d/%d, want 3/1", okCount, failCount)
	}
	if got := len(tr.ListMedications(false)); got != 3 {
		t.Errorf("stored medications = %d, want 3", got)
	}
}

func TestExportImportState(t *testing.T) {
	ctx := context.Background()
	tr := New()

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Lisinopril", Dosage: "10mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, _, err := tr.MarkAsTaken(ctx, med.ID, ""); err != nil {
		t.Fatalf("MarkAsTaken failed: %v", err)
	}

	state, err := tr.ExportState(ctx)
	if err != nil {
		t.Fatalf("ExportState failed: %v", err)
	}

	restored := New()
	restored.ImportState(state)

	got, err := restored.GetMedication(med.ID)
	if err != nil || got.Name != "Lisinopril" {
		t.Fatalf("restored medication = (%+v, %v)", got, err)
	}
	if len(restored.DoseHistory(med.ID)) != 1 {
		t.Error("dose history lost across restore")
	}
	entries, _ := restored.AuditEntries(ctx, audit.Filter{})
	if len(entries) != 2 {
		t.Errorf("restored audit entries = %d, want 2", len(entries))
	}

	// The restored store keeps enforcing identity
	if _, err := restored.AddMedication(ctx, medication.Input{Name: "Lisinopril", Dosage: "10mg", Frequency: "once daily"}); !errors.Is(err, medication.ErrDuplicateEntry) {
		t.Errorf("restored duplicate add error = %v, want ErrDuplicateEntry", err)
	}
}

func TestFailingAuditSinkSwallowed(t *testing.T) {
	ctx := context.Background()
	tr := New(WithAuditLogger(failingAuditLog{}))

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed despite audit sink failure: %v", err)
	}
	if med == nil {
		t.Fatal("no medication returned")
	}
}

func TestAuditAttribution(t *testing.T) {
	ctx := context.Background()
	tr := New()
	tr.SetCurrentUser("alice", RoleUser)
	tr.SetAuditContext("203.0.113.7")

	if _, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	entries, _ := tr.AuditEntries(ctx, audit.Filter{Action: audit.ActionMedicationAdded})
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].UserID != "alice" || entries[0].IPAddress != "203.0.113.7" {
		t.Errorf("attribution = %q/%q, want alice/203.0.113.7", entries[0].UserID, entries[0].IPAddress)
	}
}

// recordingObserver captures domain events.
type recordingObserver struct {
	events []*medication.Event
}

func (o *recordingObserver) Notify(ctx context.Context, e *medication.Event) {
	o.events = append(o.events, e)
}

func TestObserverNotified(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	tr := New(WithObserver(obs))
	tr.SetCurrentUser("alice", RoleUser)

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Aspirin", Dosage: "81mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, _, err := tr.MarkAsTaken(ctx, med.ID, ""); err != nil {
		t.Fatalf("MarkAsTaken failed: %v", err)
	}

	if len(obs.events) != 2 {
		t.Fatalf("got %d events, want 2", len(obs.events))
	}
	if obs.events[0].Type != medication.EventMedicationAdded || obs.events[1].Type != medication.EventDoseTaken {
		t.Errorf("event types = %s, %s", obs.events[0].Type, obs.events[1].Type)
	}
	for _, e := range obs.events {
		if e.ID == "" || e.MedicationID != med.ID || e.UserID != "alice" {
			t.Errorf("event missing attribution: %+v", e)
		}
	}
}

func TestIsValidationError(t *testing.T) {
	valid := []error{
		medication.ErrMissingField,
		medication.ErrInvalidDosageFormat,
		medication.ErrDuplicateEntry,
		fmt.Errorf("wrapped: %w", medication.ErrInvalidFrequency),
	}
	for _, err := range valid {
		if !IsValidationError(err) {
			t.Errorf("IsValidationError(%v) = false, want true", err)
		}
	}

	invalid := []error{
		medication.ErrNotFound,
		medication.ErrInsufficientPermissions,
		errors.New("unrelated"),
	}
	for _, err := range invalid {
		if IsValidationError(err) {
			t.Errorf("IsValidationError(%v) = true, want false", err)
		}
	}
}

func TestAdherenceThroughFacade(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	tr := New(WithClock(func() time.Time { return fixed }))

	med, err := tr.AddMedication(ctx, medication.Input{Name: "Lisinopril", Dosage: "10mg", Frequency: "once daily"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, _, err := tr.MarkAsTaken(ctx, med.ID, ""); err != nil {
		t.Fatalf("MarkAsTaken failed: %v", err)
	}

	sum := tr.AdherenceSummary(1)
	if sum.ExpectedDoses != 1 || sum.TakenDoses != 1 {
		t.Errorf("summary = %+v, want 1/1", sum)
	}
	if tr.AdherenceStreak() != 1 {
		t.Errorf("streak = %d, want 1", tr.AdherenceStreak())
	}
	if got := len(tr.AdherenceTrend(7)); got != 1 {
		t.Errorf("trend buckets = %d, want 1", got)
	}
}

package medication

import (
	"errors"
	"testing"
	"time"
)

func newTestMed(id, name, dosage, frequency string) *Medication {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	return &Medication{
		ID:        id,
		Name:      name,
		Dosage:    dosage,
		Frequency: frequency,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStoreAddGet(t *testing.T) {
	s := NewStore()
	med := newTestMed("m1", "Lisinopril", "10mg", "once daily")

	if err := s.Add(med); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := s.Get("m1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Lisinopril" {
		t.Errorf("name = %q, want Lisinopril", got.Name)
	}

	// Returned record is a copy, not an alias
	got.Name = "Mutated"
	again, _ := s.Get("m1")
	if again.Name != "Lisinopril" {
		t.Errorf("store record changed through returned copy: %q", again.Name)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStoreDuplicateTriple(t *testing.T) {
	s := NewStore()
	if err := s.Add(newTestMed("m1", "Lisinopril", "10mg", "once daily")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Same triple, different case
	err := s.Add(newTestMed("m2", "LISINOPRIL", "10MG", "Once Daily"))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate add error = %v, want ErrDuplicateEntry", err)
	}

	// A different dosage is a different entry
	if err := s.Add(newTestMed("m3", "Lisinopril", "20mg", "once daily")); err != nil {
		t.Fatalf("distinct dosage rejected: %v", err)
	}
}

func TestStoreDuplicateSurvivesRemove(t *testing.T) {
	s := NewStore()
	if err := s.Add(newTestMed("m1", "Lisinopril", "10mg", "once daily")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := s.Remove("m1", "switched", time.Now().UTC()); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Soft delete keeps the identity reserved
	err := s.Add(newTestMed("m2", "Lisinopril", "10mg", "once daily"))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("add after remove error = %v, want ErrDuplicateEntry", err)
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	if err := s.Add(newTestMed("m1", "Aspirin", "81mg", "once daily")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	removed, err := s.Remove("m1", "no longer needed", at)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed.Active {
		t.Error("removed record still active")
	}
	if removed.DiscontinuedAt == nil || !removed.DiscontinuedAt.Equal(at) {
		t.Errorf("DiscontinuedAt = %v, want %v", removed.DiscontinuedAt, at)
	}
	if removed.DiscontinueReason != "no longer needed" {
		t.Errorf("DiscontinueReason = %q", removed.DiscontinueReason)
	}

	// Removing an inactive record is a lookup failure
	if _, err := s.Remove("m1", "", at); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove error = %v, want ErrNotFound", err)
	}

	if got := s.List(false); len(got) != 0 {
		t.Errorf("List(false) returned %d records, want 0", len(got))
	}
	if got := s.List(true); len(got) != 1 {
		t.Errorf("List(true) returned %d records, want 1", len(got))
	}
}

func TestStoreUpdate(t *testing.T) {
	s := NewStore()
	if err := s.Add(newTestMed("m1", "Ibuprofen", "200mg", "as needed")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.Add(newTestMed("m2", "Aspirin", "81mg", "once daily")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	at := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	dosage := "400mg"
	before, after, err := s.Update("m1", Patch{Dosage: &dosage}, at)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if before.Dosage != "200mg" || after.Dosage != "400mg" {
		t.Errorf("before/after dosage = %q/%q", before.Dosage, after.Dosage)
	}
	if after.Quantity != 400 || after.Unit != "mg" {
		t.Errorf("reparsed quantity/unit = %v/%q, want 400/mg", after.Quantity, after.Unit)
	}
	if !after.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", after.UpdatedAt, at)
	}

	// The old triple is released: a new record may take it
	if err := s.Add(newTestMed("m3", "Ibuprofen", "200mg", "as needed")); err != nil {
		t.Errorf("old triple still reserved after update: %v", err)
	}

	// Updating onto another record's triple is rejected
	name, dos, freq := "Aspirin", "81mg", "once daily"
	if _, _, err := s.Update("m1", Patch{Name: &name, Dosage: &dos, Frequency: &freq}, at); !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("update onto existing triple error = %v, want ErrDuplicateEntry", err)
	}
}

func TestStoreDoses(t *testing.T) {
	s := NewStore()
	if err := s.Add(newTestMed("m1", "Aspirin", "81mg", "once daily")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	err := s.AppendDose(DoseRecord{ID: "d0", MedicationID: "missing", TakenAt: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendDose(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.AppendDose(DoseRecord{ID: "d1", MedicationID: "m1", TakenAt: time.Now().UTC()}); err != nil {
		t.Fatalf("AppendDose failed: %v", err)
	}

	// History keeps accepting doses after deactivation
	if _, err := s.Remove("m1", "", time.Now().UTC()); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := s.AppendDose(DoseRecord{ID: "d2", MedicationID: "m1", TakenAt: time.Now().UTC()}); err != nil {
		t.Errorf("AppendDose after remove failed: %v", err)
	}

	if got := s.Doses("m1"); len(got) != 2 {
		t.Errorf("Doses returned %d records, want 2", len(got))
	}
}

func TestStoreSnapshotRestore(t *testing.T) {
	s := NewStore()
	if err := s.Add(newTestMed("m1", "Lisinopril", "10mg", "once daily")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := s.AppendDose(DoseRecord{ID: "d1", MedicationID: "m1", TakenAt: time.Now().UTC()}); err != nil {
		t.Fatalf("AppendDose failed: %v", err)
	}

	meds, doses := s.Snapshot()

	restored := NewStore()
	restored.Restore(meds, doses)

	if got, err := restored.Get("m1"); err != nil || got.Name != "Lisinopril" {
		t.Fatalf("restored Get = (%v, %v)", got, err)
	}
	if got := restored.Doses("m1"); len(got) != 1 {
		t.Errorf("restored doses = %d, want 1", len(got))
	}

	// Duplicate detection carries across the restore
	err := restored.Add(newTestMed("m2", "Lisinopril", "10mg", "once daily"))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("restored duplicate add error = %v, want ErrDuplicateEntry", err)
	}
}

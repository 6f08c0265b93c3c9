package medication

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store holds the medication arena and the append-only dose history. Records
// are soft-deleted only: Remove deactivates, it never erases, so history and
// duplicate detection keep seeing discontinued entries.
//
// The store is safe for concurrent use; the mutex exists for the HTTP
// surface, the core flow itself is single-operation-at-a-time.
type Store struct {
	mu      sync.RWMutex
	records []*Medication
	byID    map[string]int
	dupKeys map[string]string
	doses   map[string][]DoseRecord
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:    make(map[string]int),
		dupKeys: make(map[string]string),
		doses:   make(map[string][]DoseRecord),
	}
}

// dupKey builds the uniqueness key over (name, dosage, frequency). The name
// arrives sanitized and normalized, so case folding is all that is left.
func dupKey(name, dosage, frequency string) string {
	return strings.ToLower(name) + "|" + strings.ToLower(dosage) + "|" + strings.ToLower(frequency)
}

// Add inserts a new record. The (name, dosage, frequency) triple must be
// unique across active and inactive entries.
func (s *Store) Add(m *Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		return fmt.Errorf("%w: medication id", ErrMissingField)
	}
	if _, exists := s.byID[m.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDuplicateEntry, m.ID)
	}

	key := dupKey(m.Name, m.Dosage, m.Frequency)
	if _, exists := s.dupKeys[key]; exists {
		return fmt.Errorf("%w: %s %s %s", ErrDuplicateEntry, m.Name, m.Dosage, m.Frequency)
	}

	stored := m.clone()
	s.records = append(s.records, &stored)
	s.byID[m.ID] = len(s.records) - 1
	s.dupKeys[key] = m.ID
	return nil
}

// Get returns a copy of the record, active or not.
func (s *Store) Get(id string) (Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return Medication{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.records[idx].clone(), nil
}

// Patch is a shallow merge of updatable fields. Nil fields are left alone.
type Patch struct {
	Name      *string `json:"name,omitempty"`
	Dosage    *string `json:"dosage,omitempty"`
	Frequency *string `json:"frequency,omitempty"`
	Notes     *string `json:"notes,omitempty"`
}

// Update applies a patch and returns the pre-image and the updated record
// for the audit before/after pair. Re-keys the duplicate index when the
// identity triple changes.
func (s *Store) Update(id string, patch Patch, at time.Time) (before, after Medication, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return Medication{}, Medication{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := s.records[idx]
	before = rec.clone()

	name, dosage, frequency := rec.Name, rec.Dosage, rec.Frequency
	if patch.Name != nil {
		name = *patch.Name
	}
	if patch.Dosage != nil {
		dosage = *patch.Dosage
	}
	if patch.Frequency != nil {
		frequency = *patch.Frequency
	}

	oldKey := dupKey(rec.Name, rec.Dosage, rec.Frequency)
	newKey := dupKey(name, dosage, frequency)
	if newKey != oldKey {
		if owner, exists := s.dupKeys[newKey]; exists && owner != id {
			return Medication{}, Medication{}, fmt.Errorf("%w: %s %s %s", ErrDuplicateEntry, name, dosage, frequency)
		}
		delete(s.dupKeys, oldKey)
		s.dupKeys[newKey] = id
	}

	rec.Name, rec.Dosage, rec.Frequency = name, dosage, frequency
	if patch.Notes != nil {
		rec.Notes = *patch.Notes
	}
	if patch.Dosage != nil {
		if unit, qty, ok := ParseDosage(dosage); ok {
			rec.Unit, rec.Quantity = unit, qty
		}
	}
	rec.UpdatedAt = at

	return before, rec.clone(), nil
}

// Remove soft-deletes: flips Active, stamps the discontinuation. The dose
// history and the duplicate key stay.
func (s *Store) Remove(id, reason string, at time.Time) (Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return Medication{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := s.records[idx]
	if !rec.Active {
		return Medication{}, fmt.Errorf("%w: %s already discontinued", ErrNotFound, id)
	}
	rec.Active = false
	rec.DiscontinuedAt = &at
	rec.DiscontinueReason = reason
	rec.UpdatedAt = at
	return rec.clone(), nil
}

// List returns records in insertion order, filtered to active ones unless
// includeInactive is set.
func (s *Store) List(includeInactive bool) []Medication {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Medication, 0, len(s.records))
	for _, rec := range s.records {
		if !includeInactive && !rec.Active {
			continue
		}
		out = append(out, rec.clone())
	}
	return out
}

// Mutate runs fn against the live record under the write lock. Used by the
// refill tracker to adjust pill counts atomically.
func (s *Store) Mutate(id string, fn func(*Medication) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fn(s.records[idx])
}

// AppendDose records a taken dose. The medication must exist but may be
// inactive: history outlives deactivation.
func (s *Store) AppendDose(d DoseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[d.MedicationID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, d.MedicationID)
	}
	s.doses[d.MedicationID] = append(s.doses[d.MedicationID], d)
	return nil
}

// Doses returns a copy of the dose history for one medication, oldest first.
func (s *Store) Doses(medicationID string) []DoseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DoseRecord(nil), s.doses[medicationID]...)
}

// AllDoses returns every dose record across medications, oldest first.
func (s *Store) AllDoses() []DoseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DoseRecord
	for _, ds := range s.doses {
		out = append(out, ds...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out
}

// Snapshot exports the full store state for file-backed persistence.
func (s *Store) Snapshot() ([]Medication, map[string][]DoseRecord) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meds := make([]Medication, 0, len(s.records))
	for _, rec := range s.records {
		meds = append(meds, rec.clone())
	}
	doses := make(map[string][]DoseRecord, len(s.doses))
	for id, ds := range s.doses {
		doses[id] = append([]DoseRecord(nil), ds...)
	}
	return meds, doses
}

// Restore replaces the store contents with a previously exported snapshot.
func (s *Store) Restore(meds []Medication, doses map[string][]DoseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = s.records[:0]
	s.byID = make(map[string]int, len(meds))
	s.dupKeys = make(map[string]string, len(meds))
	s.doses = make(map[string][]DoseRecord, len(doses))

	for _, m := range meds {
		stored := m.clone()
		s.records = append(s.records, &stored)
		s.byID[m.ID] = len(s.records) - 1
		s.dupKeys[dupKey(m.Name, m.Dosage, m.Frequency)] = m.ID
	}
	for id, ds := range doses {
		s.doses[id] = append([]DoseRecord(nil), ds...)
	}
}

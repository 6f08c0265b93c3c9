package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	e := Normalize(Entry{Action: ActionMedicationAdded})

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, SeverityNormal, e.Severity)

	// Provided fields are left alone
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e = Normalize(Entry{ID: "fixed", Timestamp: at, Severity: SeverityCritical})
	assert.Equal(t, "fixed", e.ID)
	assert.True(t, e.Timestamp.Equal(at))
	assert.Equal(t, SeverityCritical, e.Severity)
}

func TestNormalizeSeverityFromReason(t *testing.T) {
	tests := []struct {
		reason string
		want   Severity
	}{
		{"no longer needed", SeverityNormal},
		{"critical adverse reaction", SeverityCritical},
		{"CRITICAL interaction", SeverityCritical},
		{"", SeverityNormal},
	}
	for _, tt := range tests {
		e := Normalize(Entry{Action: ActionMedicationRemoved, Reason: tt.reason})
		assert.Equal(t, tt.want, e.Severity, "reason %q", tt.reason)
	}
}

func TestMemoryLoggerLogAndEntries(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(nil)

	require.NoError(t, l.Log(ctx, Entry{Action: ActionMedicationAdded, MedicationID: "m1", UserID: "alice"}))
	require.NoError(t, l.Log(ctx, Entry{Action: ActionDoseTaken, MedicationID: "m1", UserID: "alice"}))
	require.NoError(t, l.Log(ctx, Entry{Action: ActionMedicationAdded, MedicationID: "m2", UserID: "bob"}))

	all, err := l.Entries(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	added, err := l.Entries(ctx, Filter{Action: ActionMedicationAdded})
	require.NoError(t, err)
	assert.Len(t, added, 2)

	alice, err := l.Entries(ctx, Filter{UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, alice, 2)
}

func TestMemoryLoggerTimeFilter(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(nil)

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)
	for _, ts := range []time.Time{t1, t2, t3} {
		require.NoError(t, l.Log(ctx, Entry{Action: ActionDoseTaken, Timestamp: ts}))
	}

	// From and To are inclusive
	got, err := l.Entries(ctx, Filter{From: &t2, To: &t2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(t2))

	got, err = l.Entries(ctx, Filter{From: &t2})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = l.Entries(ctx, Filter{To: &t2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryLoggerDefensiveCopy(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(nil)

	require.NoError(t, l.Log(ctx, Entry{
		Action:  ActionMedicationUpdated,
		Details: map[string]interface{}{"field": "dosage"},
	}))

	got, err := l.Entries(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got[0].Details["field"] = "tampered"

	again, err := l.Entries(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, "dosage", again[0].Details["field"])
}

func TestMemoryLoggerClear(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(nil)

	require.NoError(t, l.Log(ctx, Entry{Action: ActionMedicationAdded}))
	require.NoError(t, l.Clear(ctx))

	got, err := l.Entries(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryLoggerRestore(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger(nil)
	require.NoError(t, l.Log(ctx, Entry{Action: ActionMedicationAdded}))

	snapshot := []Entry{
		Normalize(Entry{Action: ActionDoseTaken, MedicationID: "m1"}),
		Normalize(Entry{Action: ActionRefillAlert, MedicationID: "m1"}),
	}
	l.Restore(snapshot)

	got, err := l.Entries(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ActionDoseTaken, got[0].Action)
	assert.Equal(t, ActionRefillAlert, got[1].Action)
}

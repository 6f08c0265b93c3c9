// Package audit provides the append-only audit trail for state-changing and
// validation-failing operations.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Action tags what an audit entry records.
type Action string

const (
	ActionMedicationAdded          Action = "MEDICATION_ADDED"
	ActionMedicationUpdated        Action = "MEDICATION_UPDATED"
	ActionMedicationRemoved        Action = "MEDICATION_REMOVED"
	ActionValidationFailed         Action = "VALIDATION_FAILED"
	ActionFDAVerificationCompleted Action = "FDA_VERIFICATION_COMPLETED"
	ActionAuditLogCleared          Action = "AUDIT_LOG_CLEARED"
	ActionDoseTaken                Action = "DOSE_TAKEN"
	ActionRefillSet                Action = "REFILL_SET"
	ActionPillCountAdjusted        Action = "PILL_COUNT_ADJUSTED"
	ActionRefillAlert              Action = "REFILL_ALERT"
)

// Severity marks how serious an entry is.
type Severity string

const (
	SeverityNormal   Severity = "NORMAL"
	SeverityCritical Severity = "CRITICAL"
)

// Entry is one immutable audit record. Entries are only ever appended;
// nothing edits them after the fact.
type Entry struct {
	ID           string                 `json:"id"`
	Action       Action                 `json:"action"`
	Timestamp    time.Time              `json:"timestamp"`
	UserID       string                 `json:"user_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Severity     Severity               `json:"severity"`
	MedicationID string                 `json:"medication_id,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// Filter narrows Entries queries. Zero fields match everything; From and To
// are inclusive.
type Filter struct {
	Action Action
	UserID string
	From   *time.Time
	To     *time.Time
}

// Matches reports whether the entry passes the filter.
func (f Filter) Matches(e Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// Logger is the audit sink. Implementations must be append-only; Clear is
// the single sanctioned reset and the caller is expected to audit it.
type Logger interface {
	Log(ctx context.Context, e Entry) error
	Entries(ctx context.Context, f Filter) ([]Entry, error)
	Clear(ctx context.Context) error
}

// Normalize fills the defaults every sink applies: identifier, log-time
// timestamp, and severity derived from the reason text.
func Normalize(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		if strings.Contains(strings.ToLower(e.Reason), "critical") {
			e.Severity = SeverityCritical
		} else {
			e.Severity = SeverityNormal
		}
	}
	return e
}

// MemoryLogger is the in-process audit sink.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
	logger  *zap.Logger
}

// NewMemoryLogger creates an empty in-memory audit log.
func NewMemoryLogger(logger *zap.Logger) *MemoryLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryLogger{logger: logger}
}

// Log appends one entry, filling defaults for omitted fields.
func (l *MemoryLogger) Log(ctx context.Context, e Entry) error {
	e = Normalize(e)

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	l.logger.Debug("audit entry",
		zap.String("action", string(e.Action)),
		zap.String("medication_id", e.MedicationID),
		zap.String("severity", string(e.Severity)),
	)
	return nil
}

// Entries returns a defensive copy of the matching entries, never the live
// backing slice.
func (l *MemoryLogger) Entries(ctx context.Context, f Filter) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if !f.Matches(e) {
			continue
		}
		out = append(out, copyEntry(e))
	}
	return out, nil
}

// Clear resets the log. Auditing the clear itself is the caller's job.
func (l *MemoryLogger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return nil
}

// Restore replaces the log contents from a snapshot.
func (l *MemoryLogger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, 0, len(entries))
	for _, e := range entries {
		l.entries = append(l.entries, copyEntry(e))
	}
}

func copyEntry(e Entry) Entry {
	if e.Details == nil {
		return e
	}
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	e.Details = details
	return e
}

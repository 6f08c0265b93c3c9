// Package tracker composes the medication store, refill tracker, adherence
// analyzer, audit log and FDA collaborator behind one facade. Every mutating
// operation validates first and writes an audit entry after; audit-write
// failures never abort the primary operation.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/adherence"
	"github.com/wellmind/medtrack/internal/audit"
	"github.com/wellmind/medtrack/internal/fda"
	"github.com/wellmind/medtrack/internal/medication"
	"github.com/wellmind/medtrack/internal/refill"
	"github.com/wellmind/medtrack/pkg/workerpool"
)

// Role gates mutating operations. Viewers read; users and admins write.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// Observer receives typed domain events from mutating operations. There is
// no ambient event bus; callers wire one in at construction.
type Observer interface {
	Notify(ctx context.Context, e *medication.Event)
}

// Tracker is the audited medication tracker facade.
type Tracker struct {
	store     *medication.Store
	validator *medication.Validator
	refill    *refill.Tracker
	analyzer  *adherence.Analyzer
	auditLog  audit.Logger
	fda       fda.Validator
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time

	// Session context attached to audit entries. The facade owns one
	// session at a time; nothing is shared across tracker instances.
	currentUser string
	role        Role
	ipAddress   string
}

// Option configures the tracker at construction.
type Option func(*Tracker)

// WithAuditLogger substitutes the audit sink.
func WithAuditLogger(l audit.Logger) Option { return func(t *Tracker) { t.auditLog = l } }

// WithFDAValidator substitutes the FDA collaborator.
func WithFDAValidator(v fda.Validator) Option { return func(t *Tracker) { t.fda = v } }

// WithObserver wires a domain-event observer.
func WithObserver(o Observer) Option { return func(t *Tracker) { t.observer = o } }

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithRules swaps the validation rule tables.
func WithRules(r medication.Rules) Option {
	return func(t *Tracker) { t.validator = medication.NewValidator(r) }
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
		t.analyzer.WithClock(now)
	}
}

// New creates a tracker with an in-memory store and audit log, the offline
// FDA stub and the default rule tables.
func New(opts ...Option) *Tracker {
	store := medication.NewStore()
	t := &Tracker{
		store:     store,
		validator: medication.NewValidator(medication.DefaultRules()),
		analyzer:  adherence.NewAnalyzer(store),
		fda:       fda.NewStub(),
		logger:    zap.NewNop(),
		now:       time.Now,
		role:      RoleUser,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.auditLog == nil {
		t.auditLog = audit.NewMemoryLogger(t.logger)
	}
	t.refill = refill.NewTracker(store, t.logger)
	return t
}

// SetCurrentUser attaches the acting user and role to subsequent audits.
func (t *Tracker) SetCurrentUser(userID string, role Role) {
	t.currentUser = userID
	if role != "" {
		t.role = role
	}
}

// SetAuditContext attaches the client address to subsequent audits.
func (t *Tracker) SetAuditContext(ipAddress string) {
	t.ipAddress = ipAddress
}

// AddMedication validates, sanitizes, duplicate-checks and stores a new
// medication, then audits MEDICATION_ADDED. Any validation failure is
// audited as VALIDATION_FAILED before it propagates.
func (t *Tracker) AddMedication(ctx context.Context, in medication.Input) (*medication.Medication, error) {
	if err := t.validator.Check(in); err != nil {
		t.auditFailure(ctx, "", err)
		return nil, err
	}

	now := t.now().UTC()
	med := &medication.Medication{
		ID:        uuid.New().String(),
		Name:      medication.NormalizeName(medication.Sanitize(in.Name)),
		Dosage:    in.Dosage,
		Frequency: in.Frequency,
		Notes:     in.Notes,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if unit, qty, ok := medication.ParseDosage(in.Dosage); ok {
		med.Unit, med.Quantity = unit, qty
	}

	if err := t.store.Add(med); err != nil {
		t.auditFailure(ctx, med.ID, err)
		return nil, err
	}

	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionMedicationAdded,
		MedicationID: med.ID,
		Details:      map[string]interface{}{"name": med.Name, "dosage": med.Dosage, "frequency": med.Frequency},
	})
	t.notify(ctx, medication.EventMedicationAdded, med.ID, med)

	t.logger.Info("medication added",
		zap.String("id", med.ID),
		zap.String("name", med.Name))
	return med, nil
}

// AddMedicationWithFDAVerification awaits the FDA collaborator before any
// mutation. A rejection aborts the add; on success the returned warnings and
// pregnancy category are attached and FDA_VERIFICATION_COMPLETED is audited
// in addition to MEDICATION_ADDED.
func (t *Tracker) AddMedicationWithFDAVerification(ctx context.Context, in medication.Input) (*medication.Medication, error) {
	result, err := t.fda.ValidateMedication(ctx, in.Name)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", fda.ErrValidationFailed, err)
		t.auditFailure(ctx, "", wrapped)
		return nil, wrapped
	}
	if !result.Valid {
		reason := result.Reason
		if reason == "" {
			reason = "rejected by FDA validator"
		}
		wrapped := fmt.Errorf("%w: %s", fda.ErrValidationFailed, reason)
		t.auditFailure(ctx, "", wrapped)
		return nil, wrapped
	}

	med, err := t.AddMedication(ctx, in)
	if err != nil {
		return nil, err
	}

	if len(result.Warnings) > 0 || result.PregnancyCategory != "" {
		attachErr := t.store.Mutate(med.ID, func(m *medication.Medication) error {
			m.Warnings = append([]string(nil), result.Warnings...)
			m.PregnancyCategory = result.PregnancyCategory
			return nil
		})
		if attachErr == nil {
			med.Warnings = append([]string(nil), result.Warnings...)
			med.PregnancyCategory = result.PregnancyCategory
		}
	}

	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionFDAVerificationCompleted,
		MedicationID: med.ID,
		Details: map[string]interface{}{
			"name":               med.Name,
			"warnings":           result.Warnings,
			"pregnancy_category": result.PregnancyCategory,
		},
	})
	return med, nil
}

// UpdateMedication applies a patch under the role gate and audits the
// before/after pair. Patched fields pass the same checks as new ones: a
// dosage above the ceiling or an unrecognized frequency cannot arrive
// through the update path either.
func (t *Tracker) UpdateMedication(ctx context.Context, id string, patch medication.Patch) (*medication.Medication, error) {
	if t.role == RoleViewer {
		err := fmt.Errorf("%w: role %q cannot modify medications", medication.ErrInsufficientPermissions, t.role)
		t.auditFailure(ctx, id, err)
		return nil, err
	}

	if patch.Name != nil {
		sanitized := medication.NormalizeName(medication.Sanitize(*patch.Name))
		if sanitized == "" {
			err := fmt.Errorf("%w: Medication name is required", medication.ErrMissingField)
			t.auditFailure(ctx, id, err)
			return nil, err
		}
		patch.Name = &sanitized
	}
	if patch.Dosage != nil {
		if err := t.validator.CheckDosage(*patch.Dosage); err != nil {
			t.auditFailure(ctx, id, err)
			return nil, err
		}
	}
	if patch.Frequency != nil && *patch.Frequency != "" && !medication.ValidFrequency(*patch.Frequency) {
		err := fmt.Errorf("%w: %q", medication.ErrInvalidFrequency, *patch.Frequency)
		t.auditFailure(ctx, id, err)
		return nil, err
	}

	before, after, err := t.store.Update(id, patch, t.now().UTC())
	if err != nil {
		return nil, err
	}

	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionMedicationUpdated,
		MedicationID: id,
		Details:      map[string]interface{}{"before": before, "after": after},
	})
	t.notify(ctx, medication.EventMedicationUpdated, id, after)
	return &after, nil
}

// RemoveMedication soft-deletes: the record stays, deactivated, and its dose
// history remains queryable. Severity escalates when the reason signals a
// critical event.
func (t *Tracker) RemoveMedication(ctx context.Context, id, reason string) error {
	med, err := t.store.Remove(id, reason, t.now().UTC())
	if err != nil {
		return err
	}

	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionMedicationRemoved,
		MedicationID: id,
		Reason:       reason,
		Details:      map[string]interface{}{"name": med.Name},
	})
	t.notify(ctx, medication.EventMedicationRemoved, id, map[string]string{"reason": reason})

	t.logger.Info("medication removed",
		zap.String("id", id),
		zap.String("reason", reason))
	return nil
}

// MarkAsTaken appends a dose record, decrements the pill count when refill
// tracking is enabled, and re-evaluates the supply alert.
func (t *Tracker) MarkAsTaken(ctx context.Context, id, notes string) (*medication.DoseRecord, *refill.Alert, error) {
	med, err := t.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if !med.Active {
		return nil, nil, fmt.Errorf("%w: %s is discontinued", medication.ErrNotFound, id)
	}

	dose := medication.DoseRecord{
		ID:           uuid.New().String(),
		MedicationID: id,
		TakenAt:      t.now().UTC(),
		Notes:        notes,
	}
	if err := t.store.AppendDose(dose); err != nil {
		return nil, nil, err
	}

	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionDoseTaken,
		MedicationID: id,
		Details:      map[string]interface{}{"dose_id": dose.ID},
	})
	t.notify(ctx, medication.EventDoseTaken, id, dose)

	var alert *refill.Alert
	if med.Refill != nil {
		t.refill.AdjustPillCount(id, -med.Refill.PillsPerDose, t.now().UTC())
		if current, err := t.store.Get(id); err == nil {
			if a, fired := t.refill.CheckAlert(current); fired {
				alert = a
				t.writeAudit(ctx, audit.Entry{
					Action:       audit.ActionRefillAlert,
					MedicationID: id,
					Reason:       a.Message,
					Details:      map[string]interface{}{"status": a.Status, "pill_count": a.PillCount},
				})
				t.notify(ctx, medication.EventRefillAlertRaised, id, a)
			}
		}
	}

	return &dose, alert, nil
}

// SetRefillInfo enables refill tracking for a medication.
func (t *Tracker) SetRefillInfo(ctx context.Context, id string, pillCount, pillsPerDose, thresholdDays int) error {
	if err := t.refill.SetInfo(id, pillCount, pillsPerDose, thresholdDays, t.now().UTC()); err != nil {
		return err
	}
	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionRefillSet,
		MedicationID: id,
		Details:      map[string]interface{}{"pill_count": pillCount, "pills_per_dose": pillsPerDose, "threshold_days": thresholdDays},
	})
	t.notify(ctx, medication.EventRefillSet, id, map[string]int{"pill_count": pillCount})
	return nil
}

// UpdatePillCount adjusts the remaining supply (positive delta on refill).
// Returns false when the medication is unknown or refill tracking was never
// enabled; the count never drops below zero.
func (t *Tracker) UpdatePillCount(ctx context.Context, id string, delta int) (int, bool) {
	count, ok := t.refill.AdjustPillCount(id, delta, t.now().UTC())
	if !ok {
		return 0, false
	}
	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionPillCountAdjusted,
		MedicationID: id,
		Details:      map[string]interface{}{"delta": delta, "pill_count": count},
	})
	t.notify(ctx, medication.EventPillCountAdjusted, id, map[string]int{"delta": delta, "pill_count": count})
	return count, true
}

// CheckRefillAlert evaluates the supply status of one medication.
func (t *Tracker) CheckRefillAlert(ctx context.Context, id string) (*refill.Alert, bool, error) {
	med, err := t.store.Get(id)
	if err != nil {
		return nil, false, err
	}
	alert, fired := t.refill.CheckAlert(med)
	return alert, fired, nil
}

// GetMedication returns one record, active or not.
func (t *Tracker) GetMedication(id string) (medication.Medication, error) {
	return t.store.Get(id)
}

// ListMedications returns records in insertion order.
func (t *Tracker) ListMedications(includeInactive bool) []medication.Medication {
	return t.store.List(includeInactive)
}

// DoseHistory returns the append-only dose history for one medication, which
// survives deactivation.
func (t *Tracker) DoseHistory(id string) []medication.DoseRecord {
	return t.store.Doses(id)
}

// AdherenceSummary reports the adherence rate over the window.
func (t *Tracker) AdherenceSummary(days int) adherence.Summary {
	return t.analyzer.Summary(days)
}

// AdherenceStreak reports consecutive fully adherent days ending today.
func (t *Tracker) AdherenceStreak() int {
	return t.analyzer.Streak()
}

// AdherenceTrend reports weekly adherence buckets, most recent first.
func (t *Tracker) AdherenceTrend(days int) []adherence.WeekBucket {
	return t.analyzer.WeeklyTrend(days)
}

// AuditEntries queries the audit trail.
func (t *Tracker) AuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	return t.auditLog.Entries(ctx, f)
}

// ClearAuditLog resets the audit trail and records the clear itself.
func (t *Tracker) ClearAuditLog(ctx context.Context) error {
	if t.role != RoleAdmin {
		return fmt.Errorf("%w: role %q cannot clear the audit log", medication.ErrInsufficientPermissions, t.role)
	}
	if err := t.auditLog.Clear(ctx); err != nil {
		return err
	}
	t.writeAudit(ctx, audit.Entry{Action: audit.ActionAuditLogCleared})
	return nil
}

// ImportResult is the outcome of one record in a bulk import.
type ImportResult struct {
	Input      medication.Input
	Medication *medication.Medication
	Err        error
}

// ImportMedications adds a batch, optionally FDA-verifying each record.
// Verifications run concurrently on a bounded pool; each add is independent
// and yields its own identifier.
func (t *Tracker) ImportMedications(ctx context.Context, inputs []medication.Input, verify bool, workers int) []ImportResult {
	if len(inputs) == 0 {
		return nil
	}

	cfg := workerpool.DefaultConfig()
	if workers > 0 {
		cfg.Workers = workers
	}
	if cfg.QueueSize < len(inputs) {
		cfg.QueueSize = len(inputs)
	}
	// Validation rejections are final; retries only mask them.
	cfg.MaxRetries = 0

	pool, err := workerpool.New(ctx, cfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		in := task.Payload.(medication.Input)
		var med *medication.Medication
		var addErr error
		if verify {
			med, addErr = t.AddMedicationWithFDAVerification(ctx, in)
		} else {
			med, addErr = t.AddMedication(ctx, in)
		}
		return &workerpool.Result{
			TaskID:  task.ID,
			Success: addErr == nil,
			Error:   addErr,
			Data:    med,
		}
	}, t.logger)
	if err != nil {
		out := make([]ImportResult, len(inputs))
		for i, in := range inputs {
			out[i] = ImportResult{Input: in, Err: err}
		}
		return out
	}

	pool.Start()
	byTask := make(map[string]medication.Input, len(inputs))
	for i, in := range inputs {
		id := fmt.Sprintf("import-%d", i)
		byTask[id] = in
		if submitErr := pool.Submit(&workerpool.Task{ID: id, Payload: in}); submitErr != nil {
			delete(byTask, id)
		}
	}
	pool.Close()

	var out []ImportResult
	for res := range pool.Results() {
		r := ImportResult{Input: byTask[res.TaskID], Err: res.Error}
		if med, ok := res.Data.(*medication.Medication); ok && med != nil {
			r.Medication = med
		}
		out = append(out, r)
	}
	return out
}

// State is the full exportable tracker state, used by the file-backed CLI.
type State struct {
	Medications []medication.Medication            `json:"medications"`
	Doses       map[string][]medication.DoseRecord `json:"doses"`
	Audit       []audit.Entry                      `json:"audit"`
}

// ExportState snapshots medications, dose history and the audit trail.
func (t *Tracker) ExportState(ctx context.Context) (State, error) {
	meds, doses := t.store.Snapshot()
	entries, err := t.auditLog.Entries(ctx, audit.Filter{})
	if err != nil {
		return State{}, err
	}
	return State{Medications: meds, Doses: doses, Audit: entries}, nil
}

// ImportState restores a snapshot. Only in-memory audit sinks are restored;
// durable sinks keep their own history.
func (t *Tracker) ImportState(state State) {
	t.store.Restore(state.Medications, state.Doses)
	if mem, ok := t.auditLog.(*audit.MemoryLogger); ok {
		mem.Restore(state.Audit)
	}
}

// auditFailure records a VALIDATION_FAILED entry for a rejected operation.
func (t *Tracker) auditFailure(ctx context.Context, medicationID string, cause error) {
	t.writeAudit(ctx, audit.Entry{
		Action:       audit.ActionValidationFailed,
		MedicationID: medicationID,
		Reason:       cause.Error(),
	})
}

// writeAudit appends an entry with session context attached. A failing audit
// sink is logged and swallowed: logging infrastructure health must not
// change the outcome of the primary operation.
func (t *Tracker) writeAudit(ctx context.Context, e audit.Entry) {
	e.UserID = t.currentUser
	e.IPAddress = t.ipAddress
	if err := t.auditLog.Log(ctx, e); err != nil {
		t.logger.Warn("audit write failed",
			zap.String("action", string(e.Action)),
			zap.Error(err))
	}
}

func (t *Tracker) notify(ctx context.Context, typ medication.EventType, medicationID string, payload interface{}) {
	if t.observer == nil {
		return
	}
	event, err := medication.NewEvent(typ, medicationID, payload)
	if err != nil {
		t.logger.Warn("event marshal failed", zap.Error(err))
		return
	}
	t.observer.Notify(ctx, event.WithUser(t.currentUser))
}

// IsValidationError reports whether the error belongs to the validation
// taxonomy (as opposed to lookup or permission failures).
func IsValidationError(err error) bool {
	return errors.Is(err, medication.ErrMissingField) ||
		errors.Is(err, medication.ErrInvalidName) ||
		errors.Is(err, medication.ErrInvalidDosageFormat) ||
		errors.Is(err, medication.ErrNonPositiveDosage) ||
		errors.Is(err, medication.ErrDosageTooHigh) ||
		errors.Is(err, medication.ErrInvalidFrequency) ||
		errors.Is(err, medication.ErrDuplicateEntry)
}

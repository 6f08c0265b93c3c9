// Package handlers provides HTTP handlers for the tracker API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/api/middleware"
	"github.com/wellmind/medtrack/internal/audit"
	"github.com/wellmind/medtrack/internal/fda"
	"github.com/wellmind/medtrack/internal/medication"
	"github.com/wellmind/medtrack/internal/observability/metrics"
	"github.com/wellmind/medtrack/internal/tracker"
	"github.com/wellmind/medtrack/pkg/idempotency"
)

// MedicationHandler handles medication, adherence and audit endpoints.
type MedicationHandler struct {
	tracker *tracker.Tracker
	inbox   *idempotency.Inbox
	metrics *metrics.Metrics
	logger  *zap.Logger

	// The facade carries one audit session at a time; serialize mutations so
	// concurrent requests cannot cross-attribute entries.
	mu sync.Mutex
}

// NewMedicationHandler creates a new handler. The inbox and metrics are
// optional; nil disables idempotent create replay and counters respectively.
func NewMedicationHandler(t *tracker.Tracker, inbox *idempotency.Inbox, m *metrics.Metrics, logger *zap.Logger) *MedicationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MedicationHandler{
		tracker: t,
		inbox:   inbox,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the medication routes
func (h *MedicationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/import", h.Import)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Remove)
	r.Post("/{id}/doses", h.TakeDose)
	r.Get("/{id}/doses", h.Doses)
	r.Put("/{id}/refill", h.SetRefill)
	r.Post("/{id}/refill/adjustments", h.AdjustPills)
	r.Get("/{id}/refill/alert", h.RefillAlert)
	return r
}

// AdherenceRoutes returns the adherence routes
func (h *MedicationHandler) AdherenceRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/summary", h.AdherenceSummary)
	r.Get("/streak", h.AdherenceStreak)
	r.Get("/trend", h.AdherenceTrend)
	return r
}

// AuditRoutes returns the audit trail routes
func (h *MedicationHandler) AuditRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.AuditEntries)
	r.Delete("/", h.ClearAudit)
	return r
}

// CreateRequest is the request body for creating a medication
type CreateRequest struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
	Notes     string `json:"notes,omitempty"`
	Verify    bool   `json:"verify,omitempty"`
}

// Create handles POST /medications
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("medication-handler")
	ctx, span := tracer.Start(ctx, "create_medication")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	in := medication.Input{
		Name:      req.Name,
		Dosage:    req.Dosage,
		Frequency: req.Frequency,
		Notes:     req.Notes,
	}

	create := func() (*medication.Medication, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.bindSession(ctx)
		if req.Verify {
			return h.tracker.AddMedicationWithFDAVerification(ctx, in)
		}
		return h.tracker.AddMedication(ctx, in)
	}

	if h.inbox != nil {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			key = idempotency.GenerateKey(middleware.GetUserID(ctx), req.Name, req.Dosage, req.Frequency)
		}
		span.SetAttributes(attribute.String("idempotency_key", key))

		payload, _ := json.Marshal(req)
		result, err := h.inbox.Process(ctx, key, "create_medication", payload, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
			med, err := create()
			if err != nil {
				return nil, err
			}
			return json.Marshal(med)
		})
		if err != nil {
			h.writeError(w, span, err)
			return
		}
		if !result.IsNew {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(result.Result)
			return
		}
		h.countCreate(req.Verify)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write(result.Result)
		return
	}

	start := time.Now()
	med, err := create()
	if err != nil {
		h.writeError(w, span, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.String("medication_id", med.ID))
	h.countCreate(req.Verify)

	h.logger.Info("medication created",
		zap.String("id", med.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	h.writeJSON(w, http.StatusCreated, med)
}

// ImportRequest is the request body for a bulk import
type ImportRequest struct {
	Medications []CreateRequest `json:"medications"`
	Verify      bool            `json:"verify,omitempty"`
	Workers     int             `json:"workers,omitempty"`
}

// ImportResponse reports the per-record outcomes of a bulk import
type ImportResponse struct {
	Imported int                   `json:"imported"`
	Failed   int                   `json:"failed"`
	Results  []ImportResultPayload `json:"results"`
}

// ImportResultPayload is one record's outcome
type ImportResultPayload struct {
	Name       string                 `json:"name"`
	Medication *medication.Medication `json:"medication,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// Import handles POST /medications/import
func (h *MedicationHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Medications) == 0 {
		h.jsonError(w, "medications is required", http.StatusBadRequest)
		return
	}

	inputs := make([]medication.Input, len(req.Medications))
	for i, m := range req.Medications {
		inputs[i] = medication.Input{Name: m.Name, Dosage: m.Dosage, Frequency: m.Frequency, Notes: m.Notes}
	}

	h.mu.Lock()
	h.bindSession(ctx)
	results := h.tracker.ImportMedications(ctx, inputs, req.Verify, req.Workers)
	h.mu.Unlock()

	resp := ImportResponse{Results: make([]ImportResultPayload, 0, len(results))}
	for _, res := range results {
		p := ImportResultPayload{Name: res.Input.Name, Medication: res.Medication}
		if res.Err != nil {
			p.Error = res.Err.Error()
			resp.Failed++
		} else {
			resp.Imported++
			h.countCreate(req.Verify)
		}
		resp.Results = append(resp.Results, p)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// List handles GET /medications
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"
	meds := h.tracker.ListMedications(includeInactive)
	h.writeJSON(w, http.StatusOK, meds)
}

// Get handles GET /medications/{id}
func (h *MedicationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	med, err := h.tracker.GetMedication(id)
	if err != nil {
		h.jsonError(w, "medication not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, med)
}

// Update handles PATCH /medications/{id}
func (h *MedicationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var patch medication.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.bindSession(ctx)
	med, err := h.tracker.UpdateMedication(ctx, id, patch)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	h.writeJSON(w, http.StatusOK, med)
}

// Remove handles DELETE /medications/{id}
func (h *MedicationHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	reason := r.URL.Query().Get("reason")

	h.mu.Lock()
	h.bindSession(ctx)
	err := h.tracker.RemoveMedication(ctx, id, reason)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	if h.metrics != nil {
		h.metrics.MedicationsRemoved.Inc()
		h.metrics.ActiveMedications.Dec()
	}
	w.WriteHeader(http.StatusNoContent)
}

// TakeDoseRequest is the request body for recording a dose
type TakeDoseRequest struct {
	Notes string `json:"notes,omitempty"`
}

// TakeDoseResponse returns the recorded dose and any supply alert it tripped
type TakeDoseResponse struct {
	Dose  *medication.DoseRecord `json:"dose"`
	Alert interface{}            `json:"alert,omitempty"`
}

// TakeDose handles POST /medications/{id}/doses
func (h *MedicationHandler) TakeDose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req TakeDoseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	h.mu.Lock()
	h.bindSession(ctx)
	dose, alert, err := h.tracker.MarkAsTaken(ctx, id, req.Notes)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	if h.metrics != nil {
		h.metrics.DosesRecorded.Inc()
		if alert != nil {
			h.metrics.RefillAlerts.WithLabelValues(string(alert.Status)).Inc()
		}
	}

	resp := TakeDoseResponse{Dose: dose}
	if alert != nil {
		resp.Alert = alert
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// Doses handles GET /medications/{id}/doses
func (h *MedicationHandler) Doses(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.tracker.GetMedication(id); err != nil {
		h.jsonError(w, "medication not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, h.tracker.DoseHistory(id))
}

// SetRefillRequest is the request body for enabling refill tracking
type SetRefillRequest struct {
	PillCount     int `json:"pill_count"`
	PillsPerDose  int `json:"pills_per_dose"`
	ThresholdDays int `json:"threshold_days"`
}

// SetRefill handles PUT /medications/{id}/refill
func (h *MedicationHandler) SetRefill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req SetRefillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.bindSession(ctx)
	err := h.tracker.SetRefillInfo(ctx, id, req.PillCount, req.PillsPerDose, req.ThresholdDays)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustPillsRequest is the request body for a pill-count adjustment
type AdjustPillsRequest struct {
	Delta int `json:"delta"`
}

// AdjustPills handles POST /medications/{id}/refill/adjustments
func (h *MedicationHandler) AdjustPills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req AdjustPillsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.bindSession(ctx)
	count, ok := h.tracker.UpdatePillCount(ctx, id, req.Delta)
	h.mu.Unlock()
	if !ok {
		h.jsonError(w, "refill tracking not enabled", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"pill_count": count})
}

// RefillAlert handles GET /medications/{id}/refill/alert
func (h *MedicationHandler) RefillAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	alert, fired, err := h.tracker.CheckRefillAlert(ctx, id)
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	if !fired {
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"alert": nil})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"alert": alert})
}

// AdherenceSummary handles GET /adherence/summary
func (h *MedicationHandler) AdherenceSummary(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	h.writeJSON(w, http.StatusOK, h.tracker.AdherenceSummary(days))
}

// AdherenceStreak handles GET /adherence/streak
func (h *MedicationHandler) AdherenceStreak(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]int{"streak_days": h.tracker.AdherenceStreak()})
}

// AdherenceTrend handles GET /adherence/trend
func (h *MedicationHandler) AdherenceTrend(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 28)
	h.writeJSON(w, http.StatusOK, h.tracker.AdherenceTrend(days))
}

// AuditEntries handles GET /audit
func (h *MedicationHandler) AuditEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	f := audit.Filter{
		Action: audit.Action(r.URL.Query().Get("action")),
		UserID: r.URL.Query().Get("user_id"),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			h.jsonError(w, "invalid from timestamp", http.StatusBadRequest)
			return
		}
		f.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			h.jsonError(w, "invalid to timestamp", http.StatusBadRequest)
			return
		}
		f.To = &t
	}

	entries, err := h.tracker.AuditEntries(ctx, f)
	if err != nil {
		h.jsonError(w, "failed to query audit trail", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// ClearAudit handles DELETE /audit
func (h *MedicationHandler) ClearAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.mu.Lock()
	h.bindSession(ctx)
	err := h.tracker.ClearAuditLog(ctx)
	h.mu.Unlock()
	if err != nil {
		h.writeError(w, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bindSession copies the request's user, role and address onto the facade.
// Callers hold h.mu.
func (h *MedicationHandler) bindSession(ctx context.Context) {
	role := tracker.Role(middleware.GetUserRole(ctx))
	h.tracker.SetCurrentUser(middleware.GetUserID(ctx), role)
	h.tracker.SetAuditContext(middleware.GetClientIP(ctx))
}

func (h *MedicationHandler) countCreate(verified bool) {
	if h.metrics == nil {
		return
	}
	h.metrics.MedicationsAdded.Inc()
	h.metrics.ActiveMedications.Inc()
	if verified {
		h.metrics.FDAVerifications.WithLabelValues("accepted").Inc()
	}
}

// writeError maps domain errors onto HTTP status codes.
func (h *MedicationHandler) writeError(w http.ResponseWriter, span trace.Span, err error) {
	if span != nil {
		span.RecordError(err)
	}
	switch {
	case errors.Is(err, medication.ErrDuplicateEntry):
		h.countFailure()
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, medication.ErrNotFound):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, medication.ErrInsufficientPermissions):
		h.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, fda.ErrValidationFailed):
		if h.metrics != nil {
			h.metrics.FDAVerifications.WithLabelValues("rejected").Inc()
		}
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case tracker.IsValidationError(err) || errors.Is(err, medication.ErrInvalidInput):
		h.countFailure()
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *MedicationHandler) countFailure() {
	if h.metrics != nil {
		h.metrics.ValidationFailures.Inc()
	}
}

func (h *MedicationHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *MedicationHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

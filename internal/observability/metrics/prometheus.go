// Package metrics provides Prometheus metrics for the medication tracker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	MedicationsAdded    prometheus.Counter
	MedicationsRemoved  prometheus.Counter
	ValidationFailures  prometheus.Counter
	DosesRecorded       prometheus.Counter
	RefillAlerts        *prometheus.CounterVec
	FDAVerifications    *prometheus.CounterVec
	ProcessingDuration  prometheus.Histogram
	ActiveMedications   prometheus.Gauge
	AuditEntriesWritten prometheus.Counter
	OutboxPending       prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		MedicationsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medications_added_total",
			Help: "Total medications added",
		}),
		MedicationsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medications_removed_total",
			Help: "Total medications discontinued",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Total rejected medication operations",
		}),
		DosesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "doses_recorded_total",
			Help: "Total doses marked as taken",
		}),
		RefillAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refill_alerts_total",
			Help: "Refill alerts raised by supply status",
		}, []string{"status"}),
		FDAVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fda_verifications_total",
			Help: "FDA verification lookups by outcome",
		}, []string{"outcome"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medication_processing_duration_seconds",
			Help:    "Medication operation processing duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ActiveMedications: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medications_active",
			Help: "Currently active medications",
		}),
		AuditEntriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_entries_written_total",
			Help: "Total audit entries written",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending audit-export outbox entries",
		}),
	}

	prometheus.MustRegister(
		m.MedicationsAdded,
		m.MedicationsRemoved,
		m.ValidationFailures,
		m.DosesRecorded,
		m.RefillAlerts,
		m.FDAVerifications,
		m.ProcessingDuration,
		m.ActiveMedications,
		m.AuditEntriesWritten,
		m.OutboxPending,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

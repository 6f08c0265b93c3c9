// Package postgres provides PostgreSQL infrastructure components: the durable
// audit store and the transactional outbox that exports entries downstream.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/audit"
)

// AuditStore is the PostgreSQL-backed audit sink. Every write inserts the
// entry and a matching outbox row in one transaction, so the export relay
// never sees an entry the table does not hold.
type AuditStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAuditStore creates an audit store over an existing pool.
func NewAuditStore(pool *pgxpool.Pool, logger *zap.Logger) *AuditStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditStore{pool: pool, logger: logger}
}

// Log appends one entry, filling defaults for omitted fields.
func (s *AuditStore) Log(ctx context.Context, e audit.Entry) error {
	e = audit.Normalize(e)

	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO audit_entries (id, action, timestamp, user_id, ip_address, severity, medication_id, reason, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := tx.Exec(ctx, query,
		e.ID, string(e.Action), e.Timestamp, e.UserID, e.IPAddress,
		string(e.Severity), e.MedicationID, e.Reason, details,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	entry := &OutboxEntry{
		AggregateID:   e.ID,
		AggregateType: "audit_entry",
		EventType:     string(e.Action),
		Payload:       payload,
		Topic:         TopicAuditExport,
		Key:           e.MedicationID,
	}
	if err := WriteEntry(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("audit entry persisted",
		zap.String("action", string(e.Action)),
		zap.String("medication_id", e.MedicationID),
		zap.String("severity", string(e.Severity)),
	)
	return nil
}

// Entries returns entries matching the filter, oldest first.
func (s *AuditStore) Entries(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	query := `
		SELECT id, action, timestamp, user_id, ip_address, severity, medication_id, reason, details
		FROM audit_entries
		WHERE ($1 = '' OR action = $1)
		  AND ($2 = '' OR user_id = $2)
		  AND ($3::timestamptz IS NULL OR timestamp >= $3)
		  AND ($4::timestamptz IS NULL OR timestamp <= $4)
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, string(f.Action), f.UserID, f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			action  string
			sev     string
			details []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.Timestamp, &e.UserID, &e.IPAddress,
			&sev, &e.MedicationID, &e.Reason, &details); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		e.Severity = audit.Severity(sev)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Clear truncates the audit table. The caller audits the clear itself.
func (s *AuditStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE audit_entries"); err != nil {
		return fmt.Errorf("clear audit entries: %w", err)
	}
	return nil
}

// Migrate creates the audit tables when they do not exist yet.
func (s *AuditStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id            UUID PRIMARY KEY,
			action        TEXT NOT NULL,
			timestamp     TIMESTAMPTZ NOT NULL,
			user_id       TEXT NOT NULL DEFAULT '',
			ip_address    TEXT NOT NULL DEFAULT '',
			severity      TEXT NOT NULL,
			medication_id TEXT NOT NULL DEFAULT '',
			reason        TEXT NOT NULL DEFAULT '',
			details       JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries (action)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_user ON audit_entries (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries (timestamp)`,
		`CREATE TABLE IF NOT EXISTS audit_outbox (
			id             BIGSERIAL PRIMARY KEY,
			aggregate_id   TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			payload        JSONB NOT NULL,
			topic          TEXT NOT NULL,
			key            TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at   TIMESTAMPTZ,
			retry_count    INT NOT NULL DEFAULT 0,
			last_error     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_outbox_pending ON audit_outbox (created_at) WHERE processed_at IS NULL`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate audit store: %w", err)
		}
	}
	return nil
}

var _ audit.Logger = (*AuditStore)(nil)

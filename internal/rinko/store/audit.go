package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	TraceID   string
	// Actor is the conversation the action was taken from.
	Actor   string
	Action  string
	Target  string
	Payload AuditPayload
	Result  string
	Error   string
}

// AuditPayload holds structured detail stored as JSON.
type AuditPayload map[string]any

// WriteAudit appends e to the audit log. A zero Timestamp means now.
func (s *Store) WriteAudit(ctx context.Context, e AuditEntry) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("store: marshal audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, actor, action, target, payload_json, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, ts.UTC(), e.TraceID, e.Actor, e.Action, nullable(e.Target), payload, e.Result, nullable(e.Error))
	if err != nil {
		return fmt.Errorf("store: write audit: %w", err)
	}
	return nil
}

// RecentAudit returns the newest entries first. limit <= 0 means 100.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, actor, action, target, payload_json, result, error_message
		FROM audit_log
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query audit log: %w", err)
	}
	return scanAudit(rows)
}

// AuditByTrace returns every entry recorded under traceID, oldest first.
func (s *Store) AuditByTrace(ctx context.Context, traceID string) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, actor, action, target, payload_json, result, error_message
		FROM audit_log
		WHERE trace_id = ?
		ORDER BY ts ASC, id ASC
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("store: query audit log by trace: %w", err)
	}
	return scanAudit(rows)
}

func scanAudit(rows *sql.Rows) ([]AuditEntry, error) {
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e                       AuditEntry
			target, payload, errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.TraceID, &e.Actor, &e.Action,
			&target, &payload, &e.Result, &errMsg); err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}
		e.Target, e.Error = target.String, errMsg.String
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("store: decode audit payload %d: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate audit log: %w", err)
	}
	return entries, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

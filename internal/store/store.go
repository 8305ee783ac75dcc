// Package store provides the embedded SQLite persistence layer for PIDA:
// durable timeline events, alerts, and key-value settings. It mirrors the
// WAL-mode, single-writer idiom used by the teacher's alert queue
// (internal/queue/sqlite_queue.go in the retrieved TripWire agent): a
// single-connection pool, PRAGMA journal_mode=WAL, PRAGMA synchronous=NORMAL,
// and an idempotent CREATE TABLE IF NOT EXISTS schema applied on open.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/abi50/pida/internal/model"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Store is a WAL-mode SQLite-backed implementation of PIDA's durable
// storage contract. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Passing ":memory:" is suitable for tests but loses all data on Close.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}

	// SQLite permits only one writer; a single pooled connection avoids
	// "database is locked" errors when multiple goroutines write
	// concurrently, serializing them through this connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set synchronous=NORMAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS timeline_events (
    id        TEXT PRIMARY KEY,
    source    TEXT NOT NULL,
    category  TEXT NOT NULL,
    action    TEXT NOT NULL,
    subject   TEXT NOT NULL DEFAULT '',
    target    TEXT NOT NULL DEFAULT '',
    detail    TEXT NOT NULL DEFAULT '{}',
    severity  TEXT NOT NULL DEFAULT 'INFO',
    timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_timeline_events_ts ON timeline_events (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_timeline_events_category ON timeline_events (category);
CREATE INDEX IF NOT EXISTS idx_timeline_events_action ON timeline_events (action);

CREATE TABLE IF NOT EXISTS alerts (
    id            TEXT PRIMARY KEY,
    severity      TEXT NOT NULL,
    message       TEXT NOT NULL,
    source        TEXT NOT NULL DEFAULT '',
    detail        TEXT NOT NULL DEFAULT '{}',
    acknowledged  INTEGER NOT NULL DEFAULT 0,
    snoozed_until TEXT,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts (severity);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// init creates the schema if absent. It is idempotent.
func (s *Store) init() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEvent persists event as a single atomic write.
func (s *Store) InsertEvent(ctx context.Context, event model.TimelineEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("store: marshal event detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO timeline_events (id, source, category, action, subject, target, detail, severity, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Source), string(event.Category), string(event.Action),
		event.Subject, event.Target, string(detail), event.Severity,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}
	return nil
}

// InsertAlert persists alert as a single atomic write. It implements
// invariant I1 only by convention: callers must populate
// alert.Detail["event_id"] before calling InsertAlert.
func (s *Store) InsertAlert(ctx context.Context, alert model.Alert) error {
	detail, err := json.Marshal(alert.Detail)
	if err != nil {
		return fmt.Errorf("store: marshal alert detail: %w", err)
	}
	var snoozedUntil any
	if alert.SnoozedUntil != nil {
		snoozedUntil = alert.SnoozedUntil.UTC().Format(time.RFC3339Nano)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, severity, message, source, detail, acknowledged, snoozed_until, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, string(alert.Severity), alert.Message, alert.Source, string(detail),
		boolToInt(alert.Acknowledged), snoozedUntil, alert.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert alert: %w", err)
	}
	return nil
}

// EventFilter carries the optional filters for GetEvents.
type EventFilter struct {
	Category *model.Category
	Action   *model.Action
	Since    *time.Time
}

// GetEvents returns events matching filter, ordered descending by
// timestamp, with the given limit/offset applied.
func (s *Store) GetEvents(ctx context.Context, filter EventFilter, limit, offset int) ([]model.TimelineEvent, error) {
	query := `SELECT id, source, category, action, subject, target, detail, severity, timestamp FROM timeline_events`
	var (
		clauses []string
		args    []any
	)
	if filter.Category != nil {
		clauses = append(clauses, "category = ?")
		args = append(args, string(*filter.Category))
	}
	if filter.Action != nil {
		clauses = append(clauses, "action = ?")
		args = append(args, string(*filter.Action))
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	query += whereClause(clauses)
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get events: %w", err)
	}
	defer rows.Close()

	var events []model.TimelineEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// AlertFilter carries the optional filters for GetAlerts.
type AlertFilter struct {
	Severity     *model.Severity
	Acknowledged *bool
}

// GetAlerts returns alerts matching filter, ordered descending by
// created_at, with the given limit/offset applied.
func (s *Store) GetAlerts(ctx context.Context, filter AlertFilter, limit, offset int) ([]model.Alert, error) {
	query := `SELECT id, severity, message, source, detail, acknowledged, snoozed_until, created_at FROM alerts`
	var (
		clauses []string
		args    []any
	)
	if filter.Severity != nil {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(*filter.Severity))
	}
	if filter.Acknowledged != nil {
		clauses = append(clauses, "acknowledged = ?")
		args = append(args, boolToInt(*filter.Acknowledged))
	}
	query += whereClause(clauses)
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// GetEventByID returns the event with the given id, or nil if not found.
func (s *Store) GetEventByID(ctx context.Context, id string) (*model.TimelineEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, category, action, subject, target, detail, severity, timestamp
		 FROM timeline_events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get event by id: %w", err)
	}
	return &event, nil
}

// GetAlertByID returns the alert with the given id, or nil if not found.
func (s *Store) GetAlertByID(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, severity, message, source, detail, acknowledged, snoozed_until, created_at
		 FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get alert by id: %w", err)
	}
	return &alert, nil
}

// AcknowledgeAlert marks the alert with id as acknowledged. It returns true
// if a row was updated. Calling it twice is idempotent (P4): the second call
// still returns true because the WHERE clause does not exclude already-
// acknowledged rows, preserving I4 (acknowledged never reverts).
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: acknowledge alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: acknowledge alert rows affected: %w", err)
	}
	return n > 0, nil
}

// SnoozeAlert sets the alert's snoozed_until to until. It returns true if a
// row was updated. The write is unconditional: an earlier until replaces a
// later one. Neither the store nor the HTTP snooze handler, which always
// passes now plus the requested hours, keeps snoozed_until from moving
// backwards.
func (s *Store) SnoozeAlert(ctx context.Context, id string, until time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET snoozed_until = ? WHERE id = ?`,
		until.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return false, fmt.Errorf("store: snooze alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: snooze alert rows affected: %w", err)
	}
	return n > 0, nil
}

// GetSetting returns the stored value for key, or ("", false) if absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get setting: %w", err)
	}
	return value, true, nil
}

// SetSetting upserts key to value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set setting: %w", err)
	}
	return nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows for the shared scan
// helpers below.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.TimelineEvent, error) {
	var (
		e         model.TimelineEvent
		detailStr string
		tsStr     string
	)
	if err := row.Scan(&e.ID, &e.Source, &e.Category, &e.Action, &e.Subject, &e.Target, &detailStr, &e.Severity, &tsStr); err != nil {
		return model.TimelineEvent{}, err
	}
	if err := json.Unmarshal([]byte(detailStr), &e.Detail); err != nil {
		e.Detail = map[string]any{}
	}
	ts, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		ts, _ = time.Parse(time.RFC3339, tsStr)
	}
	e.Timestamp = ts
	return e, nil
}

func scanAlert(row rowScanner) (model.Alert, error) {
	var (
		a            model.Alert
		detailStr    string
		acknowledged int
		snoozedUntil sql.NullString
		createdAtStr string
	)
	if err := row.Scan(&a.ID, &a.Severity, &a.Message, &a.Source, &detailStr, &acknowledged, &snoozedUntil, &createdAtStr); err != nil {
		return model.Alert{}, err
	}
	if err := json.Unmarshal([]byte(detailStr), &a.Detail); err != nil {
		a.Detail = map[string]any{}
	}
	a.Acknowledged = acknowledged != 0
	if snoozedUntil.Valid {
		t, err := time.Parse(time.RFC3339Nano, snoozedUntil.String)
		if err == nil {
			a.SnoozedUntil = &t
		}
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		createdAt, _ = time.Parse(time.RFC3339, createdAtStr)
	}
	a.CreatedAt = createdAt
	return a, nil
}

func whereClause(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	s := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			s += " AND "
		}
		s += c
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

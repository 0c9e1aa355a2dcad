// Package history persists a journal of announcement requests and
// their per-room outcomes. It backs the announcements API listing and
// survives restarts; it is observability data, not request state.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/herald-home/herald/internal/announce"
)

// Journal is an append-only announcement log backed by SQLite. All
// public methods are safe for concurrent use (SQLite serializes
// writes).
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens a journal at the given database path. The
// schema is created automatically on first use.
func Open(dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS announcements (
		request_id    TEXT PRIMARY KEY,
		message       TEXT NOT NULL,
		target_person TEXT NOT NULL DEFAULT '',
		target_area   TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS outcomes (
		request_id TEXT NOT NULL,
		room       TEXT NOT NULL DEFAULT '',
		mode       TEXT NOT NULL DEFAULT '',
		profile    TEXT NOT NULL DEFAULT '',
		person     TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		warning    TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_request ON outcomes (request_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordRequest logs an accepted announcement request. Outcomes attach
// to it as they are determined.
func (j *Journal) RecordRequest(req announce.Request) error {
	_, err := j.db.Exec(
		`INSERT INTO announcements (request_id, message, target_person, target_area, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (request_id) DO NOTHING`,
		req.ID, req.Message, req.TargetPerson, req.TargetArea,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record request %s: %w", req.ID, err)
	}
	return nil
}

// Record implements announce.Sink. Journal writes never fail the
// announcement; errors are logged and dropped.
func (j *Journal) Record(requestID string, o announce.Outcome) {
	_, err := j.db.Exec(
		`INSERT INTO outcomes (request_id, room, mode, profile, person, status, reason, warning, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		requestID, o.Room, string(o.Mode), o.Profile, o.Person,
		string(o.Status), string(o.Reason), string(o.Warning), o.Message,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		j.logger.Error("journal write failed", "request_id", requestID, "error", err)
	}
}

// Entry is one journaled announcement with its outcomes.
type Entry struct {
	RequestID    string             `json:"request_id"`
	Message      string             `json:"message"`
	TargetPerson string             `json:"target_person,omitempty"`
	TargetArea   string             `json:"target_area,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	Outcomes     []announce.Outcome `json:"outcomes"`
}

// Recent returns the newest announcements with their outcomes, most
// recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT request_id, message, target_person, target_area, created_at
		 FROM announcements ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.RequestID, &e.Message, &e.TargetPerson, &e.TargetArea, &created); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}

	for i := range entries {
		outcomes, err := j.outcomesFor(ctx, entries[i].RequestID)
		if err != nil {
			return nil, err
		}
		entries[i].Outcomes = outcomes
	}

	return entries, nil
}

func (j *Journal) outcomesFor(ctx context.Context, requestID string) ([]announce.Outcome, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT room, mode, profile, person, status, reason, warning, message
		 FROM outcomes WHERE request_id = ? ORDER BY rowid`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes for %s: %w", requestID, err)
	}
	defer rows.Close()

	var outcomes []announce.Outcome
	for rows.Next() {
		var o announce.Outcome
		var mode, status, reason, warning string
		if err := rows.Scan(&o.Room, &mode, &o.Profile, &o.Person, &status, &reason, &warning, &o.Message); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.RequestID = requestID
		o.Mode = announce.Mode(mode)
		o.Status = announce.Status(status)
		o.Reason = announce.Reason(reason)
		o.Warning = announce.Reason(warning)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Prune deletes announcements (and their outcomes) older than the
// retention window. Returns the number of announcements removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)

	if _, err := j.db.ExecContext(ctx,
		`DELETE FROM outcomes WHERE request_id IN
		 (SELECT request_id FROM announcements WHERE created_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}

	res, err := j.db.ExecContext(ctx,
		`DELETE FROM announcements WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune announcements: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

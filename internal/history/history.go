// Package history archives finished runs in a SQLite database. Records are
// written once at the terminal transition and never mutated.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"group-speedrun/server/internal/run"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	elapsed_ticks INTEGER NOT NULL,
	final_time    TEXT NOT NULL,
	failure_cause TEXT NOT NULL DEFAULT '',
	finished_at   TIMESTAMP NOT NULL,
	awards        TEXT NOT NULL,
	milestones    TEXT NOT NULL
);
`

// Archive wraps the run history database.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive at path and ensures the schema exists.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare history schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// RecordRun writes one finished run. Replaying the same run id is a no-op so
// racing finalizers cannot duplicate a record.
func (a *Archive) RecordRun(record run.RunRecord) error {
	awards, err := json.Marshal(record.Awards)
	if err != nil {
		return fmt.Errorf("marshal awards: %w", err)
	}
	milestones, err := json.Marshal(record.Milestones)
	if err != nil {
		return fmt.Errorf("marshal milestones: %w", err)
	}
	_, err = a.db.Exec(
		`INSERT OR IGNORE INTO runs (id, status, elapsed_ticks, final_time, failure_cause, finished_at, awards, milestones)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		string(record.Status),
		record.ElapsedTicks,
		record.FinalTime,
		record.FailureCause,
		record.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(awards),
		string(milestones),
	)
	if err != nil {
		return fmt.Errorf("insert run record: %w", err)
	}
	return nil
}

// Recent returns the latest finished runs, newest first.
func (a *Archive) Recent(limit int) ([]run.RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.db.Query(
		`SELECT id, status, elapsed_ticks, final_time, failure_cause, finished_at, awards, milestones
		 FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run records: %w", err)
	}
	defer rows.Close()

	var records []run.RunRecord
	for rows.Next() {
		var record run.RunRecord
		var status, finishedAt, awards, milestones string
		if err := rows.Scan(&record.ID, &status, &record.ElapsedTicks, &record.FinalTime, &record.FailureCause, &finishedAt, &awards, &milestones); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		record.Status = run.Phase(status)
		if parsed, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			record.FinishedAt = parsed
		}
		if err := json.Unmarshal([]byte(awards), &record.Awards); err != nil {
			return nil, fmt.Errorf("unmarshal awards for %s: %w", record.ID, err)
		}
		if err := json.Unmarshal([]byte(milestones), &record.Milestones); err != nil {
			return nil, fmt.Errorf("unmarshal milestones for %s: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}

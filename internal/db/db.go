// Package db records pipeline run events. Postgres (via pgx) is optional; runs
// work the same with the no-op or in-memory recorders.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a Postgres connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at url and verifies the connection.
func Open(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the pool.
func (d *DB) Close() {
	d.pool.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_events (
    id         BIGSERIAL PRIMARY KEY,
    run_id     UUID NOT NULL,
    pipeline   TEXT NOT NULL,
    event      TEXT NOT NULL CHECK (event IN ('run_started','stage_started','stage_finished','run_finished')),
    stage      TEXT,
    attempt    INTEGER,
    outcome    TEXT,
    detail     TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, id);
`

// Migrate applies the database schema. It is safe to call repeatedly.
func (d *DB) Migrate(ctx context.Context) error {
	var count int
	err := d.pool.QueryRow(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit(ctx)
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset(ctx context.Context) error {
	for _, t := range []string{"run_events", "schema_version"} {
		if _, err := d.pool.Exec(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate(ctx)
}

// Record inserts one event.
func (d *DB) Record(ctx context.Context, e Event) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO run_events (run_id, pipeline, event, stage, attempt, outcome, detail)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''))`,
		e.RunID, e.Pipeline, e.Kind, e.Stage, e.Attempt, e.Outcome, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Kind, err)
	}
	return nil
}

// RunEvents returns every event of a run in insertion order.
func (d *DB) RunEvents(ctx context.Context, runID string) ([]Event, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id::text, pipeline, event, COALESCE(stage, ''), COALESCE(attempt, 0),
		        COALESCE(outcome, ''), COALESCE(detail, ''), created_at
		 FROM run_events WHERE run_id = $1 ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query run events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("scan run events: %w", err)
	}
	return events, nil
}

// EventsSince returns every event recorded at or after since, oldest first.
func (d *DB) EventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id::text, pipeline, event, COALESCE(stage, ''), COALESCE(attempt, 0),
		        COALESCE(outcome, ''), COALESCE(detail, ''), created_at
		 FROM run_events WHERE created_at >= $1 ORDER BY id`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

func scanEvent(row pgx.CollectableRow) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.RunID, &e.Pipeline, &e.Kind, &e.Stage, &e.Attempt, &e.Outcome, &e.Detail, &e.At)
	return e, err
}

// RunSummary is one row of RecentRuns.
type RunSummary struct {
	RunID     string
	Pipeline  string
	Outcome   string
	StartedAt time.Time
}

// RecentRuns returns the latest finished runs, newest first.
func (d *DB) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT f.run_id::text, f.pipeline, COALESCE(f.outcome, ''), s.created_at
		 FROM run_events f
		 JOIN run_events s ON s.run_id = f.run_id AND s.event = 'run_started'
		 WHERE f.event = 'run_finished'
		 ORDER BY f.id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RunSummary, error) {
		var r RunSummary
		err := row.Scan(&r.RunID, &r.Pipeline, &r.Outcome, &r.StartedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan recent runs: %w", err)
	}
	return out, nil
}

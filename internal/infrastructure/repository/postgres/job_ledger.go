package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
)

// JobLedger is the persistent audit trail of job lifecycle events. The
// in-memory registry stays authoritative for live state; the ledger only
// answers history queries and survives restarts.
type JobLedger struct {
	db *sql.DB
}

func NewJobLedger(db *sql.DB) *JobLedger {
	return &JobLedger{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JobLedger) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS processing_jobs (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	backend TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_processing_jobs_owner ON processing_jobs(owner_id, created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *JobLedger) RecordJobCreated(ctx context.Context, jobID, ownerID, filename, backend string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO processing_jobs (id, owner_id, filename, backend, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, jobID, ownerID, filename, backend, "processing", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert job record: %w", err)
	}
	return nil
}

func (r *JobLedger) RecordJobCompleted(ctx context.Context, jobID string) error {
	return r.recordTerminal(ctx, jobID, "completed")
}

func (r *JobLedger) RecordJobFailed(ctx context.Context, jobID string) error {
	return r.recordTerminal(ctx, jobID, "error")
}

func (r *JobLedger) recordTerminal(ctx context.Context, jobID, status string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE processing_jobs
SET status = $2, completed_at = $3
WHERE id = $1
`, jobID, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update job record: %w", err)
	}
	return nil
}

func (r *JobLedger) ListJobs(ctx context.Context, ownerID string) ([]ports.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, filename, backend, status, created_at, completed_at
FROM processing_jobs
WHERE owner_id = $1
ORDER BY created_at DESC
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var entries []ports.LedgerEntry
	for rows.Next() {
		var entry ports.LedgerEntry
		var completedAt sql.NullTime
		if err := rows.Scan(&entry.JobID, &entry.Filename, &entry.Backend, &entry.Status, &entry.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan job record: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			entry.CompletedAt = &t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job records: %w", err)
	}
	return entries, nil
}

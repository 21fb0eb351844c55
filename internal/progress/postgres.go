package progress

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists progress in a shared PostgreSQL database, for
// setups where several machines work through the same lecture corpus.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the progress table
// exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS progress_records (
			job_id     TEXT        NOT NULL,
			stage      TEXT        NOT NULL,
			unit       INTEGER     NOT NULL,
			unit_end   INTEGER     NOT NULL,
			status     TEXT        NOT NULL,
			payload    JSONB,
			failure    TEXT        NOT NULL DEFAULT '',
			retries    INTEGER     NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (job_id, stage, unit)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create progress table: %w", err)
	}
	return nil
}

// Load returns all records for a job identity.
func (s *PostgresStore) Load(ctx context.Context, jobID string) (map[UnitKey]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stage, unit, unit_end, status, payload, failure, retries, updated_at
		 FROM progress_records WHERE job_id = $1`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	defer rows.Close()

	records := make(map[UnitKey]Record)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Stage, &rec.Unit, &rec.UnitEnd, &rec.Status,
			&rec.Payload, &rec.Failure, &rec.Retries, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress record: %w", err)
		}
		rec = normalize(rec)
		records[rec.Key()] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read progress records: %w", err)
	}
	return records, nil
}

// Upsert durably writes one unit's record.
func (s *PostgresStore) Upsert(ctx context.Context, jobID string, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO progress_records (job_id, stage, unit, unit_end, status, payload, failure, retries, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (job_id, stage, unit) DO UPDATE SET
			unit_end = EXCLUDED.unit_end,
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			failure = EXCLUDED.failure,
			retries = EXCLUDED.retries,
			updated_at = EXCLUDED.updated_at`,
		jobID, string(rec.Stage), rec.Unit, rec.UnitEnd, string(rec.Status),
		rec.Payload, rec.Failure, rec.Retries, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert progress: %w", err)
	}
	return nil
}

// IsComplete reports whether the unit's stored record is complete.
func (s *PostgresStore) IsComplete(ctx context.Context, jobID string, key UnitKey) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM progress_records
		 WHERE job_id = $1 AND stage = $2 AND unit = $3 AND status = $4`,
		jobID, string(key.Stage), key.Unit, string(StatusComplete),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check progress: %w", err)
	}
	return count > 0, nil
}

// Clear removes every record for the job identity.
func (s *PostgresStore) Clear(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM progress_records WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

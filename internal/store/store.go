// SPDX-License-Identifier: MIT

// Package store implements the metadata gateway over SQLite.
//
// All job status writes funnel through the compare-and-set primitive
// TransitionJob, which serializes the job state machine. Every
// tenant-facing read and write is scoped by organization ID; the
// gateway refuses cross-tenant access by construction (the WHERE clause
// carries org_id).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediaforge-io/mediaforge/internal/persistence/sqlite"
)

const schemaVersion = 1

// Store is the SQLite-backed metadata gateway.
type Store struct {
	DB     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the metadata database at dbPath.
func New(dbPath string, logger zerolog.Logger) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{DB: db, logger: logger}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT,
		api_key_id TEXT,
		input_media_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		action_category TEXT NOT NULL,
		parameters_json TEXT,
		priority INTEGER NOT NULL,
		tier TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		worker_id TEXT,
		created_at_ms INTEGER NOT NULL,
		queued_at_ms INTEGER,
		started_at_ms INTEGER,
		completed_at_ms INTEGER,
		result_type TEXT,
		result_media_id TEXT,
		result_data_json TEXT,
		error_code TEXT,
		error_message TEXT,
		processing_time_ms INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_org_created ON jobs(org_id, created_at_ms DESC);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, started_at_ms);

	CREATE TABLE IF NOT EXISTS media_files (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT,
		media_type TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		original_name TEXT,
		storage_path TEXT NOT NULL,
		file_size_bytes INTEGER NOT NULL,
		checksum_md5 TEXT,
		checksum_sha256 TEXT,
		metadata_json TEXT,
		thumbnail_path TEXT,
		status TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		expires_at_ms INTEGER,
		UNIQUE(org_id, storage_path)
	);

	CREATE INDEX IF NOT EXISTS idx_media_expiry ON media_files(status, expires_at_ms);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		user_id TEXT,
		api_key_id TEXT,
		job_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		action_category TEXT NOT NULL,
		status TEXT NOT NULL,
		processing_time_ms INTEGER NOT NULL,
		ai_tokens_used INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_org_created ON usage_records(org_id, created_at_ms);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Timestamp helpers (ms-epoch integer columns) ---

func timeToMs(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func msToTime(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func strOrEmpty(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

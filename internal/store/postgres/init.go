package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"genforge/internal/constants"
	"genforge/internal/lock"
)

const schema = "genforge_schema"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS genforge_schema.jobs (
		id              TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		tier            TEXT NOT NULL,
		payload         JSONB NOT NULL,
		status          TEXT NOT NULL,
		attempts        INT NOT NULL DEFAULT 0,
		max_attempts    INT NOT NULL,
		submitted_by    TEXT NOT NULL,
		user_tier       TEXT NOT NULL,
		progress        INT NOT NULL DEFAULT 0,
		timeout_ms      BIGINT NOT NULL DEFAULT 0,
		delay_until     TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ,
		result_summary  TEXT NOT NULL DEFAULT '',
		last_error      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON genforge_schema.jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_type_status ON genforge_schema.jobs (type, status)`,
	`CREATE TABLE IF NOT EXISTS genforge_schema.job_dependencies (
		job_id        TEXT NOT NULL,
		depends_on    TEXT NOT NULL,
		PRIMARY KEY (job_id, depends_on)
	)`,
	`CREATE TABLE IF NOT EXISTS genforge_schema.job_history (
		id              BIGSERIAL PRIMARY KEY,
		job_id          TEXT NOT NULL,
		status          TEXT NOT NULL,
		recorded_at     TIMESTAMPTZ NOT NULL,
		duration_ms     BIGINT NOT NULL DEFAULT 0,
		result_summary  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_history_job ON genforge_schema.job_history (job_id)`,
	`CREATE TABLE IF NOT EXISTS genforge_schema.recurring_jobs (
		id           BIGSERIAL PRIMARY KEY,
		job_type     TEXT NOT NULL,
		tier         TEXT NOT NULL,
		payload      JSONB NOT NULL,
		expression   TEXT NOT NULL,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		last_error   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_run_at  TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
		next_run_at  TIMESTAMPTZ NOT NULL,
		UNIQUE (job_type, expression)
	)`,
}

// Migrate creates the engine schema and tables. A distributed lock keeps
// concurrent instances from racing the DDL.
func Migrate(db *sql.DB, distributedLock lock.DistributedLockManager) error {
	if err := distributedLock.Acquire(constants.MigrationLock); err != nil {
		return err
	}
	defer distributedLock.Release(constants.MigrationLock)

	if err := db.Ping(); err != nil {
		return err
	}

	if _, err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return err
	}

	for _, script := range migrations {
		if _, err := db.Exec(script); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

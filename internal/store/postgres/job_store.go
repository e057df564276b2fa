package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"genforge/internal/models"
	"genforge/internal/state"

	"github.com/lib/pq"
)

type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Insert(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO genforge_schema.jobs (
			id, type, tier, payload, status, attempts, max_attempts,
			submitted_by, user_tier, timeout_ms, delay_until, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.Type, string(job.Tier), job.Payload, job.Status.String(),
		job.AttemptsMade, job.MaxAttempts, job.SubmittedBy, job.UserTier,
		job.Timeout.Milliseconds(), job.DelayUntil, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}

	if len(job.Dependencies) == 0 {
		return nil
	}

	depQuery := `
		INSERT INTO genforge_schema.job_dependencies (job_id, depends_on)
		SELECT $1, unnest($2::text[])
		ON CONFLICT DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, depQuery, job.ID, pq.Array(job.Dependencies)); err != nil {
		return fmt.Errorf("failed to insert dependencies for job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) FindByID(ctx context.Context, jobID string) (*models.Job, error) {
	query := `
		SELECT id, type, tier, payload, status, attempts, max_attempts,
		       submitted_by, user_tier, progress, timeout_ms, delay_until,
		       created_at, started_at, completed_at, result_summary, last_error
		FROM genforge_schema.jobs
		WHERE id = $1
	`

	var (
		job       models.Job
		tier      string
		status    string
		timeoutMs int64
	)
	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.ID, &job.Type, &tier, &job.Payload, &status, &job.AttemptsMade,
		&job.MaxAttempts, &job.SubmittedBy, &job.UserTier, &job.Progress,
		&timeoutMs, &job.DelayUntil, &job.CreatedAt, &job.StartedAt,
		&job.CompletedAt, &job.ResultSummary, &job.LastError,
	)
	if err != nil {
		return nil, fmt.Errorf("job %s not found: %w", jobID, err)
	}
	job.Tier = models.PriorityTier(tier)
	job.Status = state.JobStatus(status)
	job.Timeout = time.Duration(timeoutMs) * time.Millisecond

	depQuery := `SELECT depends_on FROM genforge_schema.job_dependencies WHERE job_id = $1`
	rows, err := s.db.QueryContext(ctx, depQuery, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		job.Dependencies = append(job.Dependencies, dep)
	}
	return &job, rows.Err()
}

func (s *JobStore) UpdateStatus(ctx context.Context, jobID string, status state.JobStatus) error {
	query := `UPDATE genforge_schema.jobs SET status = $2 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, jobID, status.String())
	return err
}

func (s *JobStore) MarkActive(ctx context.Context, jobID string, startedAt time.Time) error {
	query := `
		UPDATE genforge_schema.jobs
		SET status = $2, started_at = $3, attempts = attempts + 1
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, jobID, state.StatusActive.String(), startedAt)
	return err
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, resultSummary string) error {
	query := `
		UPDATE genforge_schema.jobs
		SET status = $2, completed_at = now(), progress = 100, result_summary = $3
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, jobID, state.StatusCompleted.String(), resultSummary)
	return err
}

func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string, attempts, maxAttempts int) error {
	status := state.StatusRetrying
	var completedAt any
	if attempts >= maxAttempts {
		status = state.StatusFailed
		completedAt = time.Now()
	}

	query := `
		UPDATE genforge_schema.jobs
		SET status = $2, last_error = $3, attempts = $4, completed_at = $5
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, jobID, status.String(), errMsg, attempts, completedAt)
	return err
}

func (s *JobStore) MarkCancelled(ctx context.Context, jobID string, reason string) error {
	query := `
		UPDATE genforge_schema.jobs
		SET status = $2, completed_at = now(), last_error = $3
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, jobID, state.StatusCancelled.String(), reason)
	return err
}

func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, pct int) error {
	query := `UPDATE genforge_schema.jobs SET progress = $2 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, jobID, pct)
	return err
}

func (s *JobStore) CountAllByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM genforge_schema.jobs GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[state.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[state.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

func (s *JobStore) FindStaleActive(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	query := `
		SELECT id, type, tier, attempts, max_attempts, submitted_by, user_tier, started_at
		FROM genforge_schema.jobs
		WHERE status = $1 AND started_at < $2
	`

	rows, err := s.db.QueryContext(ctx, query, state.StatusActive.String(), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stale []*models.Job
	for rows.Next() {
		var (
			job  models.Job
			tier string
		)
		if err := rows.Scan(&job.ID, &job.Type, &tier, &job.AttemptsMade,
			&job.MaxAttempts, &job.SubmittedBy, &job.UserTier, &job.StartedAt); err != nil {
			return nil, err
		}
		job.Tier = models.PriorityTier(tier)
		job.Status = state.StatusActive
		stale = append(stale, &job)
	}
	return stale, rows.Err()
}

func (s *JobStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM genforge_schema.jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at < $1
	`
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

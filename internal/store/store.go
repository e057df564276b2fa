package store

import (
	"context"
	"time"

	"genforge/internal/models"
	"genforge/internal/state"
)

// JobStore persists job records. The coordinator mirrors jobs in memory
// and writes every status transition through here.
type JobStore interface {
	// Insert persists a freshly submitted job. The job carries its id.
	Insert(ctx context.Context, job *models.Job) error

	FindByID(ctx context.Context, jobID string) (*models.Job, error)

	// UpdateStatus records a bare status change.
	UpdateStatus(ctx context.Context, jobID string, status state.JobStatus) error

	// MarkActive records dispatch, setting started_at.
	MarkActive(ctx context.Context, jobID string, startedAt time.Time) error

	// MarkCompleted records terminal success with a result summary.
	MarkCompleted(ctx context.Context, jobID string, resultSummary string) error

	// MarkFailed records a failed attempt. Status becomes retrying while
	// attempts remain, failed once attempts >= maxAttempts.
	MarkFailed(ctx context.Context, jobID string, errMsg string, attempts, maxAttempts int) error

	// MarkCancelled records terminal cancellation with a reason.
	MarkCancelled(ctx context.Context, jobID string, reason string) error

	UpdateProgress(ctx context.Context, jobID string, pct int) error

	CountAllByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	// FindStaleActive lists active jobs whose dispatch predates the
	// cutoff, candidates for reclaim after an instance dies.
	FindStaleActive(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	// PruneOlderThan deletes terminal jobs completed before the cutoff.
	// Returns the number of rows removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// HistoryStore appends immutable audit records of job status transitions.
type HistoryStore interface {
	Append(ctx context.Context, entry models.HistoryEntry) error
	ListByJob(ctx context.Context, jobID string) ([]models.HistoryEntry, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// RecurringJobStore persists cron-triggered job templates.
type RecurringJobStore interface {
	// AddOrUpdate inserts a new template or updates the schedule of an
	// existing one keyed by (jobType, expression). Returns the template id.
	AddOrUpdate(ctx context.Context, rj *models.RecurringJob) (int64, error)

	FindByID(ctx context.Context, id int64) (*models.RecurringJob, error)

	// FetchDue fetches active templates whose next_run_at <= now.
	FetchDue(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error)

	// UpdateRunTimes records last_run_at and next_run_at after a trigger.
	UpdateRunTimes(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error

	MarkTriggerError(ctx context.Context, id int64, errMsg string) error

	Remove(ctx context.Context, id int64) error

	GetAll(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error)

	Close() error
}

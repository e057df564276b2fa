package engine

import (
	"context"
	"fmt"
	"log"

	"genforge/internal/metrics"
	"genforge/internal/models"
	"genforge/internal/state"
)

// The operator control surface: queue management, job inspection and
// intervention, recurring template management, metrics and health.

func (e *Engine) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	return e.jobs.FindByID(ctx, jobID)
}

// JobHistory returns the audit trail of a job's status transitions.
func (e *Engine) JobHistory(ctx context.Context, jobID string) ([]models.HistoryEntry, error) {
	return e.history.ListByJob(ctx, jobID)
}

// JobCounts reports how many jobs sit in each lifecycle status.
func (e *Engine) JobCounts(ctx context.Context) (map[state.JobStatus]int, error) {
	return e.jobs.CountAllByStatus(ctx)
}

// PauseQueue stops dispatch for a job type; with tiers given, only those
// tiers pause. Queued jobs are held, active tasks run to completion.
func (e *Engine) PauseQueue(jobType string, tiers ...models.PriorityTier) {
	e.queue.Pause(jobType, tiers...)
}

func (e *Engine) ResumeQueue(ctx context.Context, jobType string, tiers ...models.PriorityTier) {
	e.queue.Resume(jobType, tiers...)
	e.dispatcher.TryDispatch(ctx, jobType)
}

// ClearQueue drops waiting jobs from a type's queues and returns how many
// were removed. The job records keep their queued status; CancelJob is
// the per-job path when a cancelled record is wanted.
func (e *Engine) ClearQueue(ctx context.Context, jobType string, tiers ...models.PriorityTier) (int, error) {
	return e.queue.Clear(ctx, jobType, tiers...)
}

// TypeStats merges a job type's queue depth with its lifetime counters
// into one operator view.
type TypeStats struct {
	Waiting   int
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int
	ByTier    map[models.PriorityTier]int
	Paused    map[models.PriorityTier]bool
}

func (e *Engine) QueueStats(ctx context.Context, jobType string) (*TypeStats, error) {
	qs, err := e.queue.Stats(ctx, jobType)
	if err != nil {
		return nil, err
	}
	snap := e.registry.ByType(jobType)
	return &TypeStats{
		Waiting:   qs.Waiting,
		Active:    snap.Active,
		Completed: snap.Completed,
		Failed:    snap.Failed,
		Delayed:   qs.Delayed,
		ByTier:    qs.ByTier,
		Paused:    qs.Paused,
	}, nil
}

// QueueHealth classifies a job type's queue from its error rate and
// active load against the configured thresholds. When the queue backend
// or the job store cannot be read the status is Error, not a guess.
func (e *Engine) QueueHealth(ctx context.Context, jobType string) metrics.HealthStatus {
	if _, err := e.queue.Len(ctx, jobType); err != nil {
		log.Printf("Engine: health check for %s cannot read queue: %v", jobType, err)
		return metrics.Error
	}
	if _, err := e.jobs.CountAllByStatus(ctx); err != nil {
		log.Printf("Engine: health check for %s cannot read store: %v", jobType, err)
		return metrics.Error
	}
	return e.registry.Health(jobType)
}

func (e *Engine) Metrics() metrics.Snapshot {
	return e.registry.Global()
}

func (e *Engine) MetricsByType(jobType string) metrics.Snapshot {
	return e.registry.ByType(jobType)
}

func (e *Engine) MetricsByUser(userID string) metrics.Snapshot {
	return e.registry.ByUser(userID)
}

func (e *Engine) MetricsByTier(tier models.PriorityTier) metrics.Snapshot {
	return e.registry.ByTier(string(tier))
}

// RetryJob requeues a permanently failed job with a fresh attempt budget.
func (e *Engine) RetryJob(ctx context.Context, jobID string) error {
	job, err := e.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != state.StatusFailed {
		return fmt.Errorf("job %s cannot be retried from status %s", jobID, job.Status)
	}

	if err := e.jobs.UpdateStatus(ctx, jobID, state.StatusQueued); err != nil {
		return err
	}
	e.appendHistory(ctx, jobID, state.StatusQueued, "operator retry")
	if err := e.queue.EnqueueID(ctx, job.Type, job.Tier, jobID); err != nil {
		return err
	}
	e.dispatcher.TryDispatch(ctx, job.Type)
	return nil
}

// CancelJob cancels a job that has not started executing. Queued, delayed
// and dependency-waiting jobs cancel; active and terminal jobs do not.
func (e *Engine) CancelJob(ctx context.Context, jobID, reason string) error {
	job, err := e.jobs.FindByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == state.StatusActive {
		return fmt.Errorf("job %s is executing and cannot be cancelled", jobID)
	}
	if !state.IsValidTransition(job.Status, state.StatusCancelled) {
		return fmt.Errorf("job %s cannot be cancelled from status %s", jobID, job.Status)
	}

	e.queue.RemoveDelayed(jobID)
	e.tracker.Drop(jobID)
	// a queued id is skipped at dispatch once the record is terminal

	if err := e.jobs.MarkCancelled(ctx, jobID, reason); err != nil {
		return err
	}
	e.appendHistory(ctx, jobID, state.StatusCancelled, reason)
	e.coordinator.Publish(models.EventJobCancelled, map[string]any{
		"jobId":  jobID,
		"reason": reason,
	})
	// dependents of a cancelled prerequisite never run
	e.dispatcher.CancelDependents(ctx, jobID)
	return nil
}

func (e *Engine) GetRecurring(ctx context.Context, id int64) (*models.RecurringJob, error) {
	return e.scheduler.Get(ctx, id)
}

func (e *Engine) ListRecurring(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error) {
	return e.scheduler.List(ctx, page, pageSize)
}

func (e *Engine) RemoveRecurring(ctx context.Context, id int64) error {
	return e.scheduler.Remove(ctx, id)
}

// Subscribe returns the local stream of engine events.
func (e *Engine) Subscribe() <-chan models.Event {
	return e.coordinator.Subscribe()
}

// Workers snapshots the worker fleet for inspection.
func (e *Engine) Workers() []models.WorkerInstance {
	return e.pool.Workers()
}

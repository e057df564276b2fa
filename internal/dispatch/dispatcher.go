// Package dispatch binds queued jobs to pool workers and settles their
// results: completion, retry with backoff, permanent failure and the
// dependency consequences of each outcome.
package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"genforge/internal/clock"
	"genforge/internal/deps"
	"genforge/internal/errs"
	"genforge/internal/govern"
	"genforge/internal/metrics"
	"genforge/internal/models"
	"genforge/internal/pool"
	"genforge/internal/queue"
	"genforge/internal/state"
	"genforge/internal/store"
)

type Dispatcher struct {
	mu       sync.Mutex
	inflight map[string]*models.Task // jobID -> task
	byWorker map[string]string       // workerID -> jobID
	procs    map[string]pool.Processor

	queue    *queue.Manager
	pool     *pool.Manager
	governor *govern.Governor
	tracker  *deps.Tracker
	jobs     store.JobStore
	history  store.HistoryStore
	registry *metrics.Registry
	events   pool.EventPublisher
	clk      clock.Clock
	results  <-chan models.TaskResult

	baseDelay time.Duration
	maxDelay  time.Duration

	runCtx context.Context
}

func NewDispatcher(
	q *queue.Manager,
	p *pool.Manager,
	governor *govern.Governor,
	tracker *deps.Tracker,
	jobs store.JobStore,
	history store.HistoryStore,
	registry *metrics.Registry,
	events pool.EventPublisher,
	clk clock.Clock,
	results <-chan models.TaskResult,
	baseDelay, maxDelay time.Duration,
) *Dispatcher {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	return &Dispatcher{
		inflight:  make(map[string]*models.Task),
		byWorker:  make(map[string]string),
		procs:     make(map[string]pool.Processor),
		queue:     q,
		pool:      p,
		governor:  governor,
		tracker:   tracker,
		jobs:      jobs,
		history:   history,
		registry:  registry,
		events:    events,
		clk:       clk,
		results:   results,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
	}
}

// RegisterProcessor binds the execution function for a job type.
// Dispatch for a type without a processor stalls rather than fails.
func (d *Dispatcher) RegisterProcessor(jobType string, proc pool.Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.procs[jobType] = proc
}

func (d *Dispatcher) processor(jobType string) (pool.Processor, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	proc, ok := d.procs[jobType]
	return proc, ok
}

// Run settles worker results until the context ends. It must be running
// for dispatch to make progress; results are never dropped.
func (d *Dispatcher) Run(ctx context.Context) {
	d.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-d.results:
			d.handleResult(ctx, res)
		}
	}
}

// TryDispatch drains a type's queues onto available workers: highest
// tier first, stopping at the first admission rejection or when workers
// or queued jobs run out.
func (d *Dispatcher) TryDispatch(ctx context.Context, jobType string) {
	for {
		if d.pool.AvailableCount(jobType) == 0 {
			return
		}

		jobID, ok, err := d.queue.DequeueNext(ctx, jobType)
		if err != nil {
			log.Printf("Dispatcher: dequeue for %s failed: %v", jobType, err)
			return
		}
		if !ok {
			return
		}

		job, err := d.jobs.FindByID(ctx, jobID)
		if err != nil {
			log.Printf("Dispatcher: job %s vanished from store: %v", jobID, err)
			continue
		}
		if job.Status.Terminal() {
			// cancelled while waiting in the queue
			continue
		}

		proc, ok := d.processor(jobType)
		if !ok {
			log.Printf("Dispatcher: no processor registered for %s, holding queue", jobType)
			d.requeueFront(ctx, job)
			return
		}

		task, err := d.admitAndReserve(job)
		if err != nil {
			d.requeueFront(ctx, job)
			return
		}

		// the attempt is counted and the task visible before the worker
		// can produce a result
		d.markStarted(ctx, job, task.StartedAt)

		workerID, ok := d.pool.Dispatch(job, proc, d.reportProgress)
		if !ok {
			d.releaseReservation(job.ID)
			d.registry.JobRequeued(job.Type, job.SubmittedBy, string(job.Tier))
			if err := d.jobs.UpdateStatus(ctx, job.ID, state.StatusQueued); err != nil {
				log.Printf("Dispatcher: failed to requeue job %s: %v", job.ID, err)
			}
			d.requeueFront(ctx, job)
			return
		}

		d.bindWorker(job.ID, workerID)
		d.events.Publish(models.EventTaskAssigned, map[string]any{
			"jobId":    job.ID,
			"workerId": workerID,
			"type":     job.Type,
		})
	}
}

// DispatchAll runs a dispatch pass over every registered job type.
func (d *Dispatcher) DispatchAll(ctx context.Context) {
	for _, jobType := range d.queue.Types() {
		d.TryDispatch(ctx, jobType)
	}
}

func (d *Dispatcher) requeueFront(ctx context.Context, job *models.Job) {
	if err := d.queue.EnqueueFront(ctx, job.Type, job.Tier, job.ID); err != nil {
		log.Printf("Dispatcher: failed to requeue job %s: %v", job.ID, err)
	}
}

// admitAndReserve checks the ceilings and registers the task in one
// critical section, so two concurrent dispatch passes cannot both admit
// a user's or type's last slot, and a result arriving the instant the
// worker starts finds the task already registered.
func (d *Dispatcher) admitAndReserve(job *models.Job) (*models.Task, error) {
	task := &models.Task{
		JobID:      job.ID,
		JobType:    job.Type,
		UserID:     job.SubmittedBy,
		StartedAt:  d.clk.Now(),
		Timeout:    job.Timeout,
		RetryCount: job.AttemptsMade,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.governor.Admit(job, lockedCounts{d}); err != nil {
		return nil, err
	}
	d.inflight[job.ID] = task
	return task, nil
}

func (d *Dispatcher) releaseReservation(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	task, ok := d.inflight[jobID]
	if !ok {
		return
	}
	delete(d.inflight, jobID)
	if task.WorkerID != "" {
		delete(d.byWorker, task.WorkerID)
	}
}

// bindWorker records which worker took the task. A fast result may have
// settled the job already; then there is nothing left to bind.
func (d *Dispatcher) bindWorker(jobID, workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	task, ok := d.inflight[jobID]
	if !ok {
		return
	}
	task.WorkerID = workerID
	d.byWorker[workerID] = jobID
}

func (d *Dispatcher) markStarted(ctx context.Context, job *models.Job, startedAt time.Time) {
	if err := d.jobs.MarkActive(ctx, job.ID, startedAt); err != nil {
		log.Printf("Dispatcher: failed to mark job %s active: %v", job.ID, err)
	}
	d.appendHistory(ctx, job.ID, state.StatusActive, 0, "")
	d.registry.JobStarted(job.Type, job.SubmittedBy, string(job.Tier))
}

func (d *Dispatcher) handleResult(ctx context.Context, res models.TaskResult) {
	d.mu.Lock()
	task, known := d.inflight[res.JobID]
	delete(d.inflight, res.JobID)
	if known {
		delete(d.byWorker, task.WorkerID)
	}
	d.mu.Unlock()

	d.pool.Release(res.WorkerID)

	if !known {
		// a stuck-worker timeout already settled this job
		log.Printf("Dispatcher: discarding duplicate result for job %s", res.JobID)
		return
	}

	job, err := d.jobs.FindByID(ctx, res.JobID)
	if err != nil {
		log.Printf("Dispatcher: job %s vanished while settling result: %v", res.JobID, err)
		return
	}

	if res.Err == nil {
		d.settleSuccess(ctx, job, res)
	} else {
		d.settleFailure(ctx, job, res)
	}

	d.TryDispatch(ctx, job.Type)
}

func (d *Dispatcher) settleSuccess(ctx context.Context, job *models.Job, res models.TaskResult) {
	if err := d.jobs.MarkCompleted(ctx, job.ID, res.Summary); err != nil {
		log.Printf("Dispatcher: failed to mark job %s completed: %v", job.ID, err)
	}
	d.appendHistory(ctx, job.ID, state.StatusCompleted, res.Duration.Milliseconds(), res.Summary)
	d.registry.JobCompleted(job.Type, job.SubmittedBy, string(job.Tier), res.Duration)
	d.events.Publish(models.EventTaskCompleted, map[string]any{
		"jobId":      job.ID,
		"type":       job.Type,
		"durationMs": res.Duration.Milliseconds(),
	})
	d.resolveDependents(ctx, job.ID, true)
}

func (d *Dispatcher) settleFailure(ctx context.Context, job *models.Job, res models.TaskResult) {
	// MarkActive already counted this attempt
	attempts := job.AttemptsMade
	permanent := attempts >= job.MaxAttempts || errs.IsNonRetriable(res.Err)

	// a non-retriable error makes this attempt the last one
	maxForCall := job.MaxAttempts
	if permanent && attempts < maxForCall {
		maxForCall = attempts
	}
	if err := d.jobs.MarkFailed(ctx, job.ID, res.Err.Error(), attempts, maxForCall); err != nil {
		log.Printf("Dispatcher: failed to mark job %s failed: %v", job.ID, err)
	}

	d.events.Publish(models.EventTaskFailed, map[string]any{
		"jobId":     job.ID,
		"type":      job.Type,
		"error":     res.Err.Error(),
		"attempt":   attempts,
		"willRetry": !permanent,
	})

	if permanent {
		d.appendHistory(ctx, job.ID, state.StatusFailed, res.Duration.Milliseconds(), res.Err.Error())
		d.registry.JobFailed(job.Type, job.SubmittedBy, string(job.Tier))
		d.resolveDependents(ctx, job.ID, false)
		return
	}

	d.appendHistory(ctx, job.ID, state.StatusRetrying, res.Duration.Milliseconds(), res.Err.Error())
	d.registry.JobRequeued(job.Type, job.SubmittedBy, string(job.Tier))
	d.scheduleRetry(job, attempts)
}

// scheduleRetry requeues the job at the front of its tier after an
// exponential backoff: baseDelay doubled per prior attempt, capped at
// maxDelay.
func (d *Dispatcher) scheduleRetry(job *models.Job, attempts int) {
	delay := d.baseDelay
	for i := 1; i < attempts && delay < d.maxDelay; i++ {
		delay *= 2
	}
	if delay > d.maxDelay {
		delay = d.maxDelay
	}

	ctx := d.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-d.clk.After(delay):
		}

		if err := d.jobs.UpdateStatus(ctx, job.ID, state.StatusQueued); err != nil {
			log.Printf("Dispatcher: failed to requeue job %s: %v", job.ID, err)
		}
		if err := d.queue.EnqueueFront(ctx, job.Type, job.Tier, job.ID); err != nil {
			log.Printf("Dispatcher: failed to requeue job %s: %v", job.ID, err)
			return
		}
		d.TryDispatch(ctx, job.Type)
	}()
}

// resolveDependents applies a terminal outcome to the jobs waiting on
// this one. Success releases dependents whose prerequisite sets empty
// out; failure cancels every direct dependent, and those cancellations
// cascade to their own dependents.
func (d *Dispatcher) resolveDependents(ctx context.Context, jobID string, success bool) {
	released, cancelled := d.tracker.Resolve(jobID, success)

	for _, id := range released {
		job, err := d.jobs.FindByID(ctx, id)
		if err != nil {
			log.Printf("Dispatcher: released job %s vanished: %v", id, err)
			continue
		}
		if err := d.jobs.UpdateStatus(ctx, id, state.StatusQueued); err != nil {
			log.Printf("Dispatcher: failed to queue released job %s: %v", id, err)
		}
		d.appendHistory(ctx, id, state.StatusQueued, 0, "")
		if err := d.queue.EnqueueID(ctx, job.Type, job.Tier, id); err != nil {
			log.Printf("Dispatcher: failed to enqueue released job %s: %v", id, err)
			continue
		}
		d.TryDispatch(ctx, job.Type)
	}

	for _, id := range cancelled {
		depErr := &errs.DependencyFailedError{JobID: id, DependencyID: jobID}
		if err := d.jobs.MarkCancelled(ctx, id, depErr.Error()); err != nil {
			log.Printf("Dispatcher: failed to cancel dependent job %s: %v", id, err)
		}
		d.appendHistory(ctx, id, state.StatusCancelled, 0, depErr.Error())
		d.events.Publish(models.EventJobCancelled, map[string]any{
			"jobId":  id,
			"reason": depErr.Error(),
		})
		d.resolveDependents(ctx, id, false)
	}
}

// CancelDependents cancels the jobs waiting on a job that was cancelled
// before running.
func (d *Dispatcher) CancelDependents(ctx context.Context, jobID string) {
	d.resolveDependents(ctx, jobID, false)
}

func (d *Dispatcher) reportProgress(jobID string, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	ctx := d.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := d.jobs.UpdateProgress(ctx, jobID, pct); err != nil {
		log.Printf("Dispatcher: failed to record progress for job %s: %v", jobID, err)
	}
	d.events.Publish(models.EventTaskProgress, map[string]any{
		"jobId":    jobID,
		"progress": pct,
	})
}

func (d *Dispatcher) appendHistory(ctx context.Context, jobID string, status state.JobStatus, durationMs int64, summary string) {
	entry := models.HistoryEntry{
		JobID:         jobID,
		Status:        status,
		Timestamp:     d.clk.Now(),
		DurationMs:    durationMs,
		ResultSummary: summary,
	}
	if err := d.history.Append(ctx, entry); err != nil {
		log.Printf("Dispatcher: failed to append history for job %s: %v", jobID, err)
	}
}

// InflightCount reports how many tasks are currently executing.
func (d *Dispatcher) InflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Inflight reports whether a job is executing on this instance.
func (d *Dispatcher) Inflight(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[jobID]
	return ok
}

// UserActive implements govern.ActiveCounts.
func (d *Dispatcher) UserActive(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userActiveLocked(userID)
}

// TypeActive implements govern.ActiveCounts.
func (d *Dispatcher) TypeActive(jobType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typeActiveLocked(jobType)
}

func (d *Dispatcher) userActiveLocked(userID string) int {
	n := 0
	for _, t := range d.inflight {
		if t.UserID == userID {
			n++
		}
	}
	return n
}

func (d *Dispatcher) typeActiveLocked(jobType string) int {
	n := 0
	for _, t := range d.inflight {
		if t.JobType == jobType {
			n++
		}
	}
	return n
}

// lockedCounts reads active counts while the dispatcher mutex is
// already held, for the admission check inside admitAndReserve.
type lockedCounts struct{ d *Dispatcher }

func (c lockedCounts) UserActive(userID string) int  { return c.d.userActiveLocked(userID) }
func (c lockedCounts) TypeActive(jobType string) int { return c.d.typeActiveLocked(jobType) }

// TaskStartedAt implements pool.TaskInfo.
func (d *Dispatcher) TaskStartedAt(workerID string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	jobID, ok := d.byWorker[workerID]
	if !ok {
		return time.Time{}, false
	}
	task, ok := d.inflight[jobID]
	if !ok {
		return time.Time{}, false
	}
	return task.StartedAt, true
}

// FailureRate implements pool.TaskInfo.
func (d *Dispatcher) FailureRate(jobType string) float64 {
	return d.registry.ByType(jobType).ErrorRate
}

// Package engine composes the scheduling subsystems behind one facade:
// job submission, the operator control surface and the periodic loops
// that keep dispatch, scaling and pruning moving.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"genforge/internal/clock"
	"genforge/internal/constants"
	"genforge/internal/deps"
	"genforge/internal/dispatch"
	"genforge/internal/errs"
	"genforge/internal/events"
	"genforge/internal/govern"
	"genforge/internal/lock"
	"genforge/internal/metrics"
	"genforge/internal/models"
	"genforge/internal/payload"
	"genforge/internal/pool"
	"genforge/internal/queue"
	"genforge/internal/recurring"
	"genforge/internal/state"
	"genforge/internal/store"
	"genforge/types/config"
)

// SubmitOptions carries the optional parts of a submission. The zero
// value submits a normal-tier job with the configured retry policy.
type SubmitOptions struct {
	Priority       models.PriorityTier
	DelayMs        int64
	CronExpression string
	Dependencies   []string
	MaxAttempts    int
	TimeoutMs      int64
	SubmittedBy    string
	UserTier       string
}

type Engine struct {
	cfg      *config.EngineConfig
	clk      clock.Clock
	payloads *payload.Registry

	jobs        store.JobStore
	history     store.HistoryStore
	recurringDB store.RecurringJobStore

	queue       *queue.Manager
	governor    *govern.Governor
	tracker     *deps.Tracker
	pool        *pool.Manager
	dispatcher  *dispatch.Dispatcher
	scheduler   *recurring.Scheduler
	registry    *metrics.Registry
	coordinator *events.Coordinator
	lockMgr     lock.DistributedLockManager

	db  *sql.DB
	rdb *redis.Client
}

// New wires an Engine from its configuration. Storage, queue and broker
// backends follow the configured drivers; injected options override them.
func New(cfg *config.EngineConfig, opts ...Option) (*Engine, error) {
	s := &setup{}
	for _, o := range opts {
		o(s)
	}

	clk := s.clk
	if clk == nil {
		clk = clock.New()
	}

	db, st, lockMgr, err := initStorage(cfg, s)
	if err != nil {
		return nil, err
	}
	backend, rdb, err := initQueueBackend(cfg, s)
	if err != nil {
		return nil, err
	}
	broker, err := initBroker(cfg, s)
	if err != nil {
		return nil, err
	}

	queueName := "genforge.events"
	if cfg.RabbitMQConfig != nil && cfg.RabbitMQConfig.Queue != "" {
		queueName = cfg.RabbitMQConfig.Queue
	}
	coordinator := events.NewCoordinator(broker, clk, cfg.Instance, queueName)

	registry := metrics.NewRegistry(clk, cfg.MetricsThresholds)
	governor := govern.NewGovernor(cfg.UserTierLimits, cfg.DefaultUserLimit, cfg.TypeLimits)
	tracker := deps.NewTracker()
	q := queue.NewManager(backend, cfg.JobTypes())

	results := make(chan models.TaskResult, 256)
	p := pool.NewManager(cfg.WorkerTypes, clk, coordinator, pool.NullSampler{}, lockMgr,
		results, cfg.WorkerHealthThreshold, cfg.ScaleBatchSize)

	d := dispatch.NewDispatcher(q, p, governor, tracker, st.jobs, st.history, registry,
		coordinator, clk, results, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	p.SetTaskInfo(d)

	e := &Engine{
		cfg:         cfg,
		clk:         clk,
		payloads:    payload.NewRegistry(),
		jobs:        st.jobs,
		history:     st.history,
		recurringDB: st.recurring,
		queue:       q,
		governor:    governor,
		tracker:     tracker,
		pool:        p,
		dispatcher:  d,
		registry:    registry,
		coordinator: coordinator,
		lockMgr:     lockMgr,
		db:          db,
		rdb:         rdb,
	}
	e.scheduler = recurring.NewScheduler(st.recurring, lockMgr, clk, e.submitScheduled,
		cfg.Instance, cfg.ScheduleBatchSize, cfg.ScheduleFanOut)

	return e, nil
}

// RegisterProcessor binds the execution function for a job type. Must be
// called for every configured job type before dispatch can proceed.
func (e *Engine) RegisterProcessor(jobType string, proc pool.Processor) {
	e.dispatcher.RegisterProcessor(jobType, proc)
}

// RegisterPayload declares an additional job type payload schema beyond
// the built-in generation types.
func (e *Engine) RegisterPayload(jobType string, factory func() payload.Payload) {
	e.payloads.Register(jobType, factory)
}

// SubmitJob validates and admits one job. Validation and admission
// failures surface synchronously; execution failures surface through job
// status and history. With a cron expression set, the submission
// registers a recurring template instead and returns its id.
func (e *Engine) SubmitJob(ctx context.Context, jobType string, raw json.RawMessage, opts *SubmitOptions) (string, error) {
	if opts == nil {
		opts = &SubmitOptions{}
	}
	tier := opts.Priority
	if tier == "" {
		tier = models.TierNormal
	}

	verr := &errs.ValidationError{}
	if !e.queue.Known(jobType) {
		verr.Add(fmt.Errorf("unknown job type: %q", jobType))
	}
	if !tier.Valid() {
		verr.Add(fmt.Errorf("invalid priority tier: %q", tier))
	}
	if opts.CronExpression != "" && len(opts.Dependencies) > 0 {
		verr.Add(fmt.Errorf("a recurring submission cannot declare dependencies"))
	}
	if verr.HasError() {
		return "", verr
	}
	if e.payloads.Known(jobType) {
		if _, err := e.payloads.Decode(jobType, raw); err != nil {
			return "", err
		}
	}

	if opts.CronExpression != "" {
		id, err := e.scheduler.Add(ctx, jobType, tier, raw, opts.CronExpression)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("recurring-%d", id), nil
	}

	job := &models.Job{
		ID:           uuid.NewString(),
		Type:         jobType,
		Tier:         tier,
		Payload:      raw,
		MaxAttempts:  opts.MaxAttempts,
		Dependencies: opts.Dependencies,
		SubmittedBy:  opts.SubmittedBy,
		UserTier:     opts.UserTier,
		Timeout:      time.Duration(opts.TimeoutMs) * time.Millisecond,
		CreatedAt:    e.clk.Now(),
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = e.cfg.MaxAttempts
	}

	if err := e.governor.Admit(job, e.dispatcher); err != nil {
		return "", err
	}

	if len(job.Dependencies) > 0 {
		return e.submitWithDependencies(ctx, job)
	}
	if opts.DelayMs > 0 {
		return e.submitDelayed(ctx, job, time.Duration(opts.DelayMs)*time.Millisecond)
	}
	return e.submitQueued(ctx, job)
}

func (e *Engine) submitQueued(ctx context.Context, job *models.Job) (string, error) {
	job.Status = state.StatusQueued
	if err := e.jobs.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}
	e.appendHistory(ctx, job.ID, state.StatusQueued, "")
	if err := e.queue.Enqueue(ctx, job); err != nil {
		return "", err
	}
	e.registry.JobSubmitted(job.Type, job.SubmittedBy, string(job.Tier))
	e.coordinator.Publish(models.EventJobQueued, map[string]any{
		"jobId": job.ID,
		"type":  job.Type,
		"tier":  string(job.Tier),
	})
	e.dispatcher.TryDispatch(ctx, job.Type)
	return job.ID, nil
}

func (e *Engine) submitDelayed(ctx context.Context, job *models.Job, delay time.Duration) (string, error) {
	until := e.clk.Now().Add(delay)
	job.Status = state.StatusDelayed
	job.DelayUntil = &until
	if err := e.jobs.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}
	e.appendHistory(ctx, job.ID, state.StatusDelayed, "")
	e.registry.JobSubmitted(job.Type, job.SubmittedBy, string(job.Tier))
	e.queue.AddDelayed(queue.Delayed{
		JobID:   job.ID,
		JobType: job.Type,
		Tier:    job.Tier,
		Until:   until,
	})
	return job.ID, nil
}

// submitWithDependencies holds the job until its prerequisites resolve.
// Prerequisites already completed do not gate; a prerequisite already
// failed or cancelled cancels the job immediately.
func (e *Engine) submitWithDependencies(ctx context.Context, job *models.Job) (string, error) {
	var unresolved []string
	for _, depID := range job.Dependencies {
		dep, err := e.jobs.FindByID(ctx, depID)
		if err != nil {
			verr := &errs.ValidationError{}
			verr.Add(fmt.Errorf("unknown dependency: %q", depID))
			return "", verr
		}
		switch {
		case dep.Status == state.StatusCompleted:
			// already satisfied
		case dep.Status.Terminal():
			depErr := &errs.DependencyFailedError{JobID: job.ID, DependencyID: depID}
			job.Status = state.StatusCancelled
			job.LastError = depErr.Error()
			if err := e.jobs.Insert(ctx, job); err != nil {
				return "", fmt.Errorf("persist job: %w", err)
			}
			e.appendHistory(ctx, job.ID, state.StatusCancelled, depErr.Error())
			e.coordinator.Publish(models.EventJobCancelled, map[string]any{
				"jobId":  job.ID,
				"reason": depErr.Error(),
			})
			return job.ID, nil
		default:
			unresolved = append(unresolved, depID)
		}
	}

	if len(unresolved) == 0 {
		job.Dependencies = nil
		return e.submitQueued(ctx, job)
	}

	job.Status = state.StatusWaitingDeps
	if err := e.jobs.Insert(ctx, job); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}
	e.appendHistory(ctx, job.ID, state.StatusWaitingDeps, "")
	e.registry.JobSubmitted(job.Type, job.SubmittedBy, string(job.Tier))
	e.tracker.Register(job.ID, unresolved)
	return job.ID, nil
}

// submitScheduled is the recurring scheduler's submission path; template
// payloads were validated at registration.
func (e *Engine) submitScheduled(ctx context.Context, jobType string, tier models.PriorityTier, raw json.RawMessage) (string, error) {
	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Tier:        tier,
		Payload:     raw,
		MaxAttempts: e.cfg.MaxAttempts,
		CreatedAt:   e.clk.Now(),
	}
	return e.submitQueued(ctx, job)
}

// Run starts every background loop and blocks until the context ends,
// then drains the pool within the shutdown grace period.
func (e *Engine) Run(ctx context.Context) error {
	log.Printf("Engine: instance %s starting with job types %v", e.cfg.Instance, e.queue.Types())

	e.pool.Start(ctx)
	if err := e.coordinator.WatchPeers(ctx); err != nil {
		log.Printf("Engine: peer watch unavailable: %v", err)
	}

	go e.dispatcher.Run(ctx)
	go e.scheduler.Run(ctx, e.cfg.ScheduleInterval)
	go e.pool.RunScaling(ctx, e.cfg.ScalingInterval, func(jobType string) (int, error) {
		return e.queue.Len(context.Background(), jobType)
	})
	go e.pool.RunResourceMonitor(ctx, e.cfg.MonitorInterval)
	go e.pool.RunHealthChecks(ctx, e.cfg.HealthCheckInterval)
	go e.runPromotion(ctx)
	go e.runReclaim(ctx)
	go e.runPruning(ctx)

	<-ctx.Done()
	log.Println("Engine: shutting down")
	e.pool.Shutdown(e.cfg.ShutdownGrace)
	return e.Close()
}

// RunUntilSignal runs the engine until SIGINT or SIGTERM.
func (e *Engine) RunUntilSignal(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return e.Run(ctx)
}

// runPromotion moves due delayed jobs into their queues and keeps
// dispatch moving for types whose workers freed up outside a result.
func (e *Engine) runPromotion(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clk.After(e.cfg.DispatchInterval):
			for _, d := range e.queue.PopDue(e.clk.Now()) {
				if err := e.jobs.UpdateStatus(ctx, d.JobID, state.StatusQueued); err != nil {
					log.Printf("Engine: failed to promote delayed job %s: %v", d.JobID, err)
				}
				e.appendHistory(ctx, d.JobID, state.StatusQueued, "")
				if err := e.queue.EnqueueID(ctx, d.JobType, d.Tier, d.JobID); err != nil {
					log.Printf("Engine: failed to enqueue delayed job %s: %v", d.JobID, err)
				}
			}
			e.dispatcher.DispatchAll(ctx)
		}
	}
}

// runReclaim returns jobs abandoned by a dead instance to their queues.
// The advisory lock keeps one instance per database scanning at a time.
func (e *Engine) runReclaim(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clk.After(e.cfg.ReclaimInterval):
			acquired, err := e.lockMgr.TryAcquire(constants.ReclaimLock)
			if err != nil || !acquired {
				continue
			}
			e.reclaimStale(ctx)
			e.lockMgr.Release(constants.ReclaimLock)
		}
	}
}

// reclaimStale requeues active jobs whose dispatch predates the TTL.
// A job in flight on this instance is never reclaimed; the pool's
// health loop settles local tasks long before the TTL elapses.
func (e *Engine) reclaimStale(ctx context.Context) int {
	cutoff := e.clk.Now().Add(-e.cfg.StaleJobTTL)
	stale, err := e.jobs.FindStaleActive(ctx, cutoff)
	if err != nil {
		log.Printf("Engine: stale job scan failed: %v", err)
		return 0
	}

	reclaimed := 0
	for _, job := range stale {
		if e.dispatcher.Inflight(job.ID) {
			continue
		}
		if err := e.jobs.UpdateStatus(ctx, job.ID, state.StatusQueued); err != nil {
			log.Printf("Engine: failed to reclaim job %s: %v", job.ID, err)
			continue
		}
		e.appendHistory(ctx, job.ID, state.StatusQueued, "reclaimed from unresponsive instance")
		if err := e.queue.EnqueueID(ctx, job.Type, job.Tier, job.ID); err != nil {
			log.Printf("Engine: failed to enqueue reclaimed job %s: %v", job.ID, err)
			continue
		}
		reclaimed++
	}

	if reclaimed > 0 {
		log.Printf("Engine: reclaimed %d stale jobs", reclaimed)
		e.dispatcher.DispatchAll(ctx)
	}
	return reclaimed
}

// runPruning deletes terminal jobs and history entries older than the
// retention window. The advisory lock keeps co-located instances from
// pruning concurrently.
func (e *Engine) runPruning(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clk.After(e.cfg.PruneInterval):
			acquired, err := e.lockMgr.TryAcquire(constants.PruneLock)
			if err != nil || !acquired {
				continue
			}
			cutoff := e.clk.Now().Add(-e.cfg.HistoryRetention)
			if n, err := e.jobs.PruneOlderThan(ctx, cutoff); err != nil {
				log.Printf("Engine: job prune failed: %v", err)
			} else if n > 0 {
				log.Printf("Engine: pruned %d terminal jobs", n)
			}
			if _, err := e.history.PruneOlderThan(ctx, cutoff); err != nil {
				log.Printf("Engine: history prune failed: %v", err)
			}
			e.lockMgr.Release(constants.PruneLock)
		}
	}
}

func (e *Engine) appendHistory(ctx context.Context, jobID string, status state.JobStatus, summary string) {
	entry := models.HistoryEntry{
		JobID:         jobID,
		Status:        status,
		Timestamp:     e.clk.Now(),
		ResultSummary: summary,
	}
	if err := e.history.Append(ctx, entry); err != nil {
		log.Printf("Engine: failed to append history for job %s: %v", jobID, err)
	}
}

// Close releases storage and broker connections.
func (e *Engine) Close() error {
	e.coordinator.Close()
	if e.rdb != nil {
		if err := e.rdb.Close(); err != nil {
			log.Printf("Engine: redis close: %v", err)
		}
	}
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

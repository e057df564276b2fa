// Package recurring maintains cron-triggered job templates and feeds the
// standard submission path on every trigger.
package recurring

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"genforge/internal/clock"
	"genforge/internal/constants"
	"genforge/internal/errs"
	"genforge/internal/lock"
	"genforge/internal/models"
	"genforge/internal/store"
)

// five-field expressions: minute, hour, day-of-month, month, day-of-week
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun computes the next trigger time strictly after from.
func NextRun(expression string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}
	return schedule.Next(from), nil
}

// SubmitFunc is the standard job-submission path. Triggered jobs pass
// through the governor and tracker like any other submission.
type SubmitFunc func(ctx context.Context, jobType string, tier models.PriorityTier, payload json.RawMessage) (string, error)

type Scheduler struct {
	store    store.RecurringJobStore
	lockMgr  lock.DistributedLockManager
	clk      clock.Clock
	submit   SubmitFunc
	instance string

	batchSize int
	fanOut    int64
}

func NewScheduler(st store.RecurringJobStore, lockMgr lock.DistributedLockManager, clk clock.Clock, submit SubmitFunc, instance string, batchSize, fanOut int) *Scheduler {
	if batchSize < 1 {
		batchSize = 100
	}
	if fanOut < 1 {
		fanOut = 5
	}
	return &Scheduler{
		store:     st,
		lockMgr:   lockMgr,
		clk:       clk,
		submit:    submit,
		instance:  instance,
		batchSize: batchSize,
		fanOut:    int64(fanOut),
	}
}

// Add registers a template. The expression is validated before anything
// is stored; a bad expression is a synchronous ValidationError.
func (s *Scheduler) Add(ctx context.Context, jobType string, tier models.PriorityTier, payload json.RawMessage, expression string) (int64, error) {
	next, err := NextRun(expression, s.clk.Now())
	if err != nil {
		verr := &errs.ValidationError{}
		verr.Add(err)
		return 0, verr
	}

	return s.store.AddOrUpdate(ctx, &models.RecurringJob{
		JobType:    jobType,
		Tier:       tier,
		Payload:    payload,
		Expression: expression,
		NextRunAt:  next,
	})
}

// Remove stops future triggers. Jobs already produced are unaffected.
func (s *Scheduler) Remove(ctx context.Context, id int64) error {
	return s.store.Remove(ctx, id)
}

func (s *Scheduler) Get(ctx context.Context, id int64) (*models.RecurringJob, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Scheduler) List(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error) {
	return s.store.GetAll(ctx, page, pageSize)
}

// Run evaluates due templates every interval until the context ends.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			log.Println("RecurringScheduler stopped")
			return
		case <-s.clk.After(interval):
			s.ProcessDue(ctx)
		}
	}
}

// ProcessDue triggers every template whose next run has arrived. One
// instance at a time evaluates the registry; others skip the cycle.
func (s *Scheduler) ProcessDue(ctx context.Context) {
	acquired, err := s.lockMgr.TryAcquire(constants.RecurringLock)
	if err != nil {
		log.Println("RecurringScheduler: lock error:", err)
		return
	}
	if !acquired {
		return
	}
	defer s.lockMgr.Release(constants.RecurringLock)

	sem := semaphore.NewWeighted(s.fanOut)
	var wg sync.WaitGroup

	page := 1
	for {
		result, err := s.store.FetchDue(ctx, s.clk.Now(), page, s.batchSize)
		if err != nil {
			log.Printf("RecurringScheduler: failed to fetch due templates: %v", err)
			break
		}

		for _, rj := range result.Items {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return
			}
			wg.Add(1)

			go func(rj models.RecurringJob) {
				defer sem.Release(1)
				defer wg.Done()
				s.trigger(ctx, rj)
			}(rj)
		}

		if !result.HasNextPage {
			break
		}
		page++
	}

	wg.Wait()
}

func (s *Scheduler) trigger(ctx context.Context, rj models.RecurringJob) {
	now := s.clk.Now()
	next, err := NextRun(rj.Expression, now)
	if err != nil {
		// expression went bad after registration; park the template
		log.Printf("RecurringScheduler: template %d has invalid expression: %v", rj.ID, err)
		if err := s.store.MarkTriggerError(ctx, rj.ID, err.Error()); err != nil {
			log.Printf("RecurringScheduler: failed to record error for %d: %v", rj.ID, err)
		}
		return
	}

	// the template advances first so one bad cycle is never replayed
	if err := s.store.UpdateRunTimes(ctx, rj.ID, now, next); err != nil {
		log.Printf("RecurringScheduler: failed to update run times for %d: %v", rj.ID, err)
	}

	if _, err := s.submit(ctx, rj.JobType, rj.Tier, rj.Payload); err != nil {
		// admission rejections (governor, validation) surface here
		log.Printf("RecurringScheduler: trigger of template %d rejected: %v", rj.ID, err)
		if err := s.store.MarkTriggerError(ctx, rj.ID, err.Error()); err != nil {
			log.Printf("RecurringScheduler: failed to record error for %d: %v", rj.ID, err)
		}
	}
}

package pool

import (
	"context"
	"log"

	"genforge/internal/errs"
	"genforge/internal/models"
	"genforge/internal/state"
)

// Processor executes one job inside a worker. Implementations are the
// external content generators; they report progress periodically and
// should honor context cancellation.
type Processor func(ctx context.Context, job *models.Job, progress func(pct int)) (string, error)

type assignment struct {
	job      *models.Job
	proc     Processor
	progress func(jobID string, pct int)
}

// worker is one isolated execution unit: a goroutine receiving
// assignments over a channel and reporting results back. It executes at
// most one task at a time.
type worker struct {
	inst  *models.WorkerInstance
	tasks chan assignment
	quit  chan struct{}
}

func (m *Manager) runWorker(ctx context.Context, w *worker) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.markExited(w, "engine shutdown")
			return
		case <-w.quit:
			// report any assignment that raced the teardown
			select {
			case a := <-w.tasks:
				m.results <- models.TaskResult{
					JobID:    a.job.ID,
					WorkerID: w.inst.ID,
					JobType:  a.job.Type,
					Err:      &errs.WorkerCrashError{WorkerID: w.inst.ID, JobID: a.job.ID},
				}
			default:
			}
			return
		case a := <-w.tasks:
			if timedOut := m.executeTask(ctx, w, a); timedOut {
				// forcible termination: the processor goroutine is
				// abandoned and this worker is replaced, guaranteeing
				// the execution slot is reclaimed
				m.replaceAfterTimeout(w)
				return
			}
		}
	}
}

// executeTask runs one assignment under the task timeout. Returns true
// when the task timed out and the worker must be torn down.
func (m *Manager) executeTask(ctx context.Context, w *worker, a assignment) bool {
	timeout := m.taskTimeout(w.inst.Type, a.job)
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := m.clk.Now()
	done := make(chan struct{})
	var summary string
	var procErr error

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				procErr = &errs.WorkerCrashError{WorkerID: w.inst.ID, JobID: a.job.ID}
				log.Printf("WorkerPool: worker %s panicked running job %s: %v", w.inst.ID, a.job.ID, r)
			}
		}()
		summary, procErr = a.proc(taskCtx, a.job, func(pct int) {
			a.progress(a.job.ID, pct)
		})
	}()

	select {
	case <-done:
		m.results <- models.TaskResult{
			JobID:    a.job.ID,
			WorkerID: w.inst.ID,
			JobType:  a.job.Type,
			Summary:  summary,
			Err:      procErr,
			Duration: m.clk.Now().Sub(start),
		}
		return false

	case <-taskCtx.Done():
		if ctx.Err() != nil {
			// engine shutdown, not a task timeout
			m.results <- models.TaskResult{
				JobID:    a.job.ID,
				WorkerID: w.inst.ID,
				JobType:  a.job.Type,
				Err:      ctx.Err(),
				Duration: m.clk.Now().Sub(start),
			}
			return false
		}
		m.results <- models.TaskResult{
			JobID:    a.job.ID,
			WorkerID: w.inst.ID,
			JobType:  a.job.Type,
			Err:      &errs.WorkerTimeoutError{WorkerID: w.inst.ID, JobID: a.job.ID, Timeout: timeout},
			Duration: m.clk.Now().Sub(start),
		}
		return true
	}
}

func (m *Manager) markExited(w *worker, reason string) {
	m.mu.Lock()
	if w.inst.State != state.WorkerTerminated {
		w.inst.State = state.WorkerTerminated
	}
	delete(m.workers, w.inst.ID)
	m.mu.Unlock()

	m.publish(models.EventWorkerExited, map[string]any{
		"workerId": w.inst.ID,
		"type":     w.inst.Type,
		"reason":   reason,
	})
}

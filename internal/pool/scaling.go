package pool

import (
	"context"
	"log"
	"time"

	"genforge/internal/errs"
	"genforge/internal/models"
	"genforge/internal/state"
)

// RunScaling evaluates pool size against queue backlog every interval.
func (m *Manager) RunScaling(ctx context.Context, interval time.Duration, queueLen func(jobType string) (int, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clk.After(interval):
			m.ScaleCycle(queueLen)
		}
	}
}

// ScaleCycle applies the scaling policy to every worker type. Scale
// decisions take a best-effort advisory lock so co-located instances
// usually do not double-scale; when the lock is unavailable the cycle is
// skipped for that type.
func (m *Manager) ScaleCycle(queueLen func(jobType string) (int, error)) {
	for jobType, cfg := range m.configs {
		acquired, err := m.lockMgr.TryAcquire(scaleLockID(jobType))
		if err != nil {
			log.Printf("WorkerPool: scale lock error for %s: %v", jobType, err)
			continue
		}
		if !acquired {
			continue
		}

		m.scaleType(jobType, cfg, queueLen)
		m.lockMgr.Release(scaleLockID(jobType))
	}

	m.publishPoolStatus()
}

func (m *Manager) scaleType(jobType string, cfg models.WorkerTypeConfig, queueLen func(jobType string) (int, error)) {
	backlog, err := queueLen(jobType)
	if err != nil {
		log.Printf("WorkerPool: queue length for %s unavailable: %v", jobType, err)
		return
	}

	available := m.AvailableCount(jobType)
	total := m.TotalCount(jobType)

	if backlog > available && total < cfg.MaxConcurrent {
		want := backlog - available
		if room := cfg.MaxConcurrent - total; want > room {
			want = room
		}
		if want > m.scaleBatch {
			want = m.scaleBatch
		}
		created := 0
		for i := 0; i < want; i++ {
			if _, err := m.createWorker(jobType); err != nil {
				log.Printf("WorkerPool: scale-up of %s stopped: %v", jobType, err)
				break
			}
			created++
		}
		if created > 0 {
			m.publish(models.EventScaleUp, map[string]any{
				"type":    jobType,
				"count":   created,
				"backlog": backlog,
			})
		}
		return
	}

	if backlog == 0 && available > cfg.MinWorkers {
		excess := available - cfg.MinWorkers
		if excess > m.scaleBatch {
			excess = m.scaleBatch
		}
		removed := 0
		for _, inst := range m.Workers() {
			if removed >= excess {
				break
			}
			if inst.Type == jobType && inst.State == state.WorkerAvailable {
				m.Terminate(inst.ID, "idle scale-down", false)
				removed++
			}
		}
		if removed > 0 {
			m.publish(models.EventScaleDown, map[string]any{
				"type":  jobType,
				"count": removed,
			})
		}
	}
}

func (m *Manager) publishPoolStatus() {
	status := make(map[string]any)
	for _, jobType := range m.Types() {
		status[jobType] = map[string]any{
			"total":     m.TotalCount(jobType),
			"available": m.AvailableCount(jobType),
		}
	}
	m.publish(models.EventPoolStatus, status)
}

// RunResourceMonitor polls worker resource usage every interval.
func (m *Manager) RunResourceMonitor(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clk.After(interval):
			m.MonitorCycle()
		}
	}
}

// MonitorCycle samples each worker. A successful sample refreshes the
// worker's resource snapshot and health ping; a failed sample counts as
// a missed ping, and two consecutive misses restart the worker.
func (m *Manager) MonitorCycle() {
	for _, inst := range m.Workers() {
		usage, err := m.sampler.Sample(inst.ID)

		m.mu.Lock()
		w, ok := m.workers[inst.ID]
		if !ok {
			m.mu.Unlock()
			continue
		}
		if err != nil {
			w.inst.MissedPings++
			missed := w.inst.MissedPings
			m.mu.Unlock()
			if missed >= 2 {
				log.Printf("WorkerPool: worker %s missed %d health pings, restarting", inst.ID, missed)
				m.Terminate(inst.ID, "unresponsive", true)
			}
			continue
		}
		w.inst.MissedPings = 0
		w.inst.Resources = usage
		w.inst.LastSeen = m.clk.Now()
		m.mu.Unlock()
	}
}

// RunHealthChecks evaluates worker health every interval.
func (m *Manager) RunHealthChecks(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clk.After(interval):
			m.HealthCycle()
		}
	}
}

// HealthCycle scores each worker from resource overage and the type's
// recent failure rate, terminating and replacing workers that fall below
// the threshold. Busy workers whose task has outlived its timeout are
// force-terminated with a WorkerTimeout failure.
func (m *Manager) HealthCycle() {
	for _, inst := range m.Workers() {
		cfg, ok := m.configs[inst.Type]
		if !ok {
			continue
		}

		if inst.State == state.WorkerBusy && m.taskInfo != nil {
			if startedAt, ok := m.taskInfo.TaskStartedAt(inst.ID); ok {
				timeout := cfg.Timeout
				if timeout > 0 && m.clk.Now().Sub(startedAt) > timeout {
					log.Printf("WorkerPool: worker %s stuck on job %s, terminating", inst.ID, inst.CurrentJobID)
					m.results <- models.TaskResult{
						JobID:    inst.CurrentJobID,
						WorkerID: inst.ID,
						JobType:  inst.Type,
						Err:      &errs.WorkerTimeoutError{WorkerID: inst.ID, JobID: inst.CurrentJobID, Timeout: timeout},
						Duration: m.clk.Now().Sub(startedAt),
					}
					m.Terminate(inst.ID, "stuck task", true)
					continue
				}
			}
		}

		failureRate := 0.0
		if m.taskInfo != nil {
			failureRate = m.taskInfo.FailureRate(inst.Type)
		}
		score := healthScore(inst.Resources, cfg, failureRate)

		m.mu.Lock()
		if w, ok := m.workers[inst.ID]; ok {
			w.inst.HealthScore = score
			if score < m.healthThreshold && state.IsValidWorkerTransition(w.inst.State, state.WorkerUnhealthy) {
				w.inst.State = state.WorkerUnhealthy
			}
		}
		m.mu.Unlock()

		if score < m.healthThreshold {
			log.Printf("WorkerPool: worker %s health %d below threshold %d, replacing", inst.ID, score, m.healthThreshold)
			m.Terminate(inst.ID, "unhealthy", true)
		}
	}
}

// healthScore derives a 0-100 score from resource overage and failure rate.
func healthScore(usage models.ResourceUsage, cfg models.WorkerTypeConfig, failureRate float64) int {
	score := 100

	if cfg.CPUThreshold > 0 && usage.CPUPercent > cfg.CPUThreshold {
		over := usage.CPUPercent - cfg.CPUThreshold
		if over > 50 {
			over = 50
		}
		score -= int(over)
	}
	if cfg.MemoryLimitMB > 0 && usage.MemoryMB > cfg.MemoryLimitMB {
		score -= 30
	}
	score -= int(failureRate * 50)

	if score < 0 {
		score = 0
	}
	return score
}

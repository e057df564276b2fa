// Package pool manages the fleet of typed worker execution units:
// lifecycle within [minWorkers, maxConcurrent] bounds, auto-scaling,
// resource monitoring and health-driven replacement.
package pool

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"genforge/internal/clock"
	"genforge/internal/constants"
	"genforge/internal/lock"
	"genforge/internal/models"
	"genforge/internal/state"
)

// EventPublisher receives pool lifecycle events.
type EventPublisher interface {
	Publish(name string, data map[string]any)
}

// ResourceSampler polls a live worker's resource usage. Sampling also
// doubles as the health ping: a failed sample counts as a missed ping.
type ResourceSampler interface {
	Sample(workerID string) (models.ResourceUsage, error)
}

// NullSampler reports zero usage and never fails. Used when workers run
// in-process and no external telemetry is attached.
type NullSampler struct{}

func (NullSampler) Sample(string) (models.ResourceUsage, error) {
	return models.ResourceUsage{}, nil
}

type Manager struct {
	mu      sync.Mutex
	configs map[string]models.WorkerTypeConfig
	workers map[string]*worker

	clk      clock.Clock
	events   EventPublisher
	sampler  ResourceSampler
	lockMgr  lock.DistributedLockManager
	results  chan<- models.TaskResult
	taskInfo TaskInfo

	healthThreshold int
	scaleBatch      int

	baseCtx context.Context
	wg      sync.WaitGroup
}

// TaskInfo lets the pool ask the dispatcher about in-flight work when
// evaluating health and stuck workers.
type TaskInfo interface {
	// TaskStartedAt reports when the worker's current task began.
	TaskStartedAt(workerID string) (time.Time, bool)
	// FailureRate is the recent task failure rate for a job type, 0..1.
	FailureRate(jobType string) float64
}

func NewManager(
	configs []models.WorkerTypeConfig,
	clk clock.Clock,
	events EventPublisher,
	sampler ResourceSampler,
	lockMgr lock.DistributedLockManager,
	results chan<- models.TaskResult,
	healthThreshold, scaleBatch int,
) *Manager {
	if healthThreshold <= 0 {
		healthThreshold = 30
	}
	if scaleBatch <= 0 {
		scaleBatch = constants.ScaleBatchSize
	}
	byType := make(map[string]models.WorkerTypeConfig, len(configs))
	for _, cfg := range configs {
		byType[cfg.Type] = cfg
	}
	return &Manager{
		configs:         byType,
		workers:         make(map[string]*worker),
		clk:             clk,
		events:          events,
		sampler:         sampler,
		lockMgr:         lockMgr,
		results:         results,
		healthThreshold: healthThreshold,
		scaleBatch:      scaleBatch,
	}
}

// SetTaskInfo wires the dispatcher in after construction; pool and
// dispatcher reference each other.
func (m *Manager) SetTaskInfo(info TaskInfo) {
	m.taskInfo = info
}

// Start brings each type up to min(minWorkers, maxConcurrent) workers.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx = ctx
	for _, cfg := range m.configs {
		target := cfg.MinWorkers
		if target > cfg.MaxConcurrent {
			target = cfg.MaxConcurrent
		}
		for i := 0; i < target; i++ {
			if _, err := m.createWorker(cfg.Type); err != nil {
				log.Printf("WorkerPool: failed to create %s worker: %v", cfg.Type, err)
			}
		}
	}
}

func (m *Manager) createWorker(jobType string) (string, error) {
	cfg, ok := m.configs[jobType]
	if !ok {
		return "", fmt.Errorf("no worker config for type %q", jobType)
	}

	m.mu.Lock()
	if m.countLocked(jobType) >= cfg.MaxConcurrent {
		m.mu.Unlock()
		return "", fmt.Errorf("type %q already at maxConcurrent %d", jobType, cfg.MaxConcurrent)
	}

	now := m.clk.Now()
	inst := &models.WorkerInstance{
		ID:          uuid.NewString(),
		Type:        jobType,
		State:       state.WorkerCreated,
		HealthScore: 100,
		CreatedAt:   now,
		LastUsed:    now,
		LastSeen:    now,
	}
	inst.State = state.WorkerReady
	inst.State = state.WorkerAvailable

	w := &worker{
		inst:  inst,
		tasks: make(chan assignment, 1),
		quit:  make(chan struct{}),
	}
	m.workers[inst.ID] = w
	m.wg.Add(1)
	m.mu.Unlock()

	go m.runWorker(m.baseCtx, w)

	m.publish(models.EventWorkerCreated, map[string]any{
		"workerId": inst.ID,
		"type":     jobType,
	})
	return inst.ID, nil
}

// Dispatch binds a job to an available worker of its type and starts
// execution. Returns false when no worker is free.
func (m *Manager) Dispatch(job *models.Job, proc Processor, progress func(jobID string, pct int)) (string, bool) {
	m.mu.Lock()
	var target *worker
	for _, w := range m.workers {
		if w.inst.Type == job.Type && w.inst.State == state.WorkerAvailable {
			target = w
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return "", false
	}
	target.inst.State = state.WorkerBusy
	target.inst.CurrentJobID = job.ID
	target.inst.LastUsed = m.clk.Now()
	m.mu.Unlock()

	target.tasks <- assignment{job: job, proc: proc, progress: progress}
	return target.inst.ID, true
}

// Release returns a worker to the available set after its task ends.
func (m *Manager) Release(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return
	}
	if state.IsValidWorkerTransition(w.inst.State, state.WorkerAvailable) {
		w.inst.State = state.WorkerAvailable
	}
	w.inst.CurrentJobID = ""
	w.inst.LastUsed = m.clk.Now()
}

// Terminate tears a worker down. With replace set, a fresh worker is
// created when the type would otherwise drop below minWorkers.
func (m *Manager) Terminate(workerID, reason string, replace bool) {
	m.mu.Lock()
	w, ok := m.workers[workerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	w.inst.State = state.WorkerTerminated
	delete(m.workers, workerID)
	jobType := w.inst.Type
	below := m.countLocked(jobType) < m.configs[jobType].MinWorkers
	m.mu.Unlock()

	close(w.quit)

	m.publish(models.EventWorkerExited, map[string]any{
		"workerId": workerID,
		"type":     jobType,
		"reason":   reason,
	})

	if replace && below {
		if _, err := m.createWorker(jobType); err != nil {
			log.Printf("WorkerPool: failed to replace %s worker: %v", jobType, err)
		}
	}
}

func (m *Manager) replaceAfterTimeout(w *worker) {
	m.mu.Lock()
	delete(m.workers, w.inst.ID)
	w.inst.State = state.WorkerTerminated
	jobType := w.inst.Type
	below := m.countLocked(jobType) < m.configs[jobType].MinWorkers
	m.mu.Unlock()

	m.publish(models.EventWorkerExited, map[string]any{
		"workerId": w.inst.ID,
		"type":     jobType,
		"reason":   "task timeout",
	})

	if below {
		if _, err := m.createWorker(jobType); err != nil {
			log.Printf("WorkerPool: failed to replace %s worker: %v", jobType, err)
		}
	}
}

func (m *Manager) countLocked(jobType string) int {
	n := 0
	for _, w := range m.workers {
		if w.inst.Type == jobType {
			n++
		}
	}
	return n
}

func (m *Manager) TotalCount(jobType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(jobType)
}

func (m *Manager) AvailableCount(jobType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.workers {
		if w.inst.Type == jobType && w.inst.State == state.WorkerAvailable {
			n++
		}
	}
	return n
}

// Workers returns a snapshot of all worker instances.
func (m *Manager) Workers() []models.WorkerInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WorkerInstance, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, *w.inst)
	}
	return out
}

func (m *Manager) Config(jobType string) (models.WorkerTypeConfig, bool) {
	cfg, ok := m.configs[jobType]
	return cfg, ok
}

func (m *Manager) Types() []string {
	types := make([]string, 0, len(m.configs))
	for t := range m.configs {
		types = append(types, t)
	}
	return types
}

func (m *Manager) taskTimeout(jobType string, job *models.Job) time.Duration {
	if job.Timeout > 0 {
		return job.Timeout
	}
	if cfg, ok := m.configs[jobType]; ok && cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 10 * time.Minute
}

// Shutdown waits up to grace for in-flight tasks, then abandons the rest.
func (m *Manager) Shutdown(grace time.Duration) {
	m.mu.Lock()
	for _, w := range m.workers {
		if w.inst.State == state.WorkerAvailable {
			w.inst.State = state.WorkerTerminated
			close(w.quit)
			delete(m.workers, w.inst.ID)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("WorkerPool: all workers drained")
	case <-time.After(grace):
		log.Println("WorkerPool: grace period elapsed, force-terminating remaining workers")
		m.mu.Lock()
		for id, w := range m.workers {
			w.inst.State = state.WorkerTerminated
			close(w.quit)
			delete(m.workers, id)
		}
		m.mu.Unlock()
	}
}

func (m *Manager) publish(name string, data map[string]any) {
	if m.events != nil {
		m.events.Publish(name, data)
	}
}

func scaleLockID(jobType string) int {
	h := fnv.New32a()
	h.Write([]byte(jobType))
	return constants.ScaleLockBase + int(h.Sum32()%1000)
}

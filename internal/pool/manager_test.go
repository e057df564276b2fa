package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/clock"
	"genforge/internal/errs"
	"genforge/internal/lock"
	"genforge/internal/models"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) Publish(name string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *eventRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

type scriptedSampler struct {
	mu    sync.Mutex
	usage models.ResourceUsage
	err   error
}

func (s *scriptedSampler) Sample(string) (models.ResourceUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, s.err
}

func (s *scriptedSampler) set(usage models.ResourceUsage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = usage
	s.err = err
}

type stubTaskInfo struct {
	mu      sync.Mutex
	started map[string]time.Time
	rate    float64
}

func (s *stubTaskInfo) TaskStartedAt(workerID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.started[workerID]
	return at, ok
}

func (s *stubTaskInfo) FailureRate(string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

func testConfig(min, max int) models.WorkerTypeConfig {
	return models.WorkerTypeConfig{
		Type:          "image-generation",
		MinWorkers:    min,
		MaxConcurrent: max,
		MemoryLimitMB: 2048,
		CPUThreshold:  80,
		Timeout:       time.Minute,
	}
}

func newTestManager(t *testing.T, cfg models.WorkerTypeConfig, clk clock.Clock) (*Manager, *eventRecorder, *scriptedSampler, chan models.TaskResult) {
	t.Helper()
	events := &eventRecorder{}
	sampler := &scriptedSampler{}
	results := make(chan models.TaskResult, 16)
	m := NewManager([]models.WorkerTypeConfig{cfg}, clk, events, sampler, lock.NewMockLockManager(), results, 30, 2)
	return m, events, sampler, results
}

// waitFor polls cond until it holds or the deadline passes. Worker
// teardown and replacement happen on their own goroutines.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not reached within %v", d)
}

func TestManager_StartCreatesMinWorkers(t *testing.T) {
	m, events, _, _ := newTestManager(t, testConfig(2, 4), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)

	assert.Equal(t, 2, m.TotalCount("image-generation"))
	assert.Equal(t, 2, m.AvailableCount("image-generation"))
	assert.Equal(t, 2, events.count(models.EventWorkerCreated))
}

func TestManager_DispatchRunsProcessor(t *testing.T) {
	m, _, _, results := newTestManager(t, testConfig(1, 2), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	job := &models.Job{ID: "j1", Type: "image-generation"}
	proc := func(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
		progress(50)
		return "rendered 1 image", nil
	}

	var pcts []int
	workerID, ok := m.Dispatch(job, proc, func(jobID string, pct int) {
		pcts = append(pcts, pct)
	})
	require.True(t, ok)
	require.NotEmpty(t, workerID)

	res := <-results
	assert.Equal(t, "j1", res.JobID)
	assert.Equal(t, workerID, res.WorkerID)
	assert.Equal(t, "rendered 1 image", res.Summary)
	assert.NoError(t, res.Err)
	assert.Equal(t, []int{50}, pcts)

	m.Release(workerID)
	assert.Equal(t, 1, m.AvailableCount("image-generation"))
}

func TestManager_DispatchNoAvailableWorker(t *testing.T) {
	m, _, _, results := newTestManager(t, testConfig(1, 2), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	release := make(chan struct{})
	blocking := func(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
		<-release
		return "", nil
	}

	_, ok := m.Dispatch(&models.Job{ID: "j1", Type: "image-generation"}, blocking, func(string, int) {})
	require.True(t, ok)

	_, ok = m.Dispatch(&models.Job{ID: "j2", Type: "image-generation"}, blocking, func(string, int) {})
	assert.False(t, ok)

	close(release)
	<-results
}

func TestManager_DispatchUnknownType(t *testing.T) {
	m, _, _, _ := newTestManager(t, testConfig(1, 2), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	_, ok := m.Dispatch(&models.Job{ID: "j1", Type: "text-generation"}, nil, nil)
	assert.False(t, ok)
}

func TestManager_TaskTimeoutReplacesWorker(t *testing.T) {
	m, events, _, results := newTestManager(t, testConfig(1, 2), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	stuck := func(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
		select {} // never returns; the pool must reclaim the slot
	}

	job := &models.Job{ID: "j1", Type: "image-generation", Timeout: 30 * time.Millisecond}
	workerID, ok := m.Dispatch(job, stuck, func(string, int) {})
	require.True(t, ok)

	res := <-results
	var timeoutErr *errs.WorkerTimeoutError
	require.ErrorAs(t, res.Err, &timeoutErr)
	assert.Equal(t, "j1", timeoutErr.JobID)

	waitFor(t, time.Second, func() bool {
		return m.AvailableCount("image-generation") == 1
	})
	for _, inst := range m.Workers() {
		assert.NotEqual(t, workerID, inst.ID)
	}
	assert.Equal(t, 1, events.count(models.EventWorkerExited))
}

func TestManager_ProcessorPanicReportedAsCrash(t *testing.T) {
	m, _, _, results := newTestManager(t, testConfig(1, 2), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	panicking := func(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
		panic("gpu driver fault")
	}

	workerID, ok := m.Dispatch(&models.Job{ID: "j1", Type: "image-generation"}, panicking, func(string, int) {})
	require.True(t, ok)

	res := <-results
	var crashErr *errs.WorkerCrashError
	require.ErrorAs(t, res.Err, &crashErr)
	assert.Equal(t, workerID, crashErr.WorkerID)

	// the worker survives a processor panic
	m.Release(workerID)
	assert.Equal(t, 1, m.AvailableCount("image-generation"))
}

func TestManager_ScaleCycleUp(t *testing.T) {
	m, events, _, _ := newTestManager(t, testConfig(1, 4), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	queueLen := func(string) (int, error) { return 5, nil }
	m.ScaleCycle(queueLen)

	// one cycle adds at most the scale batch
	assert.Equal(t, 3, m.TotalCount("image-generation"))
	assert.Equal(t, 1, events.count(models.EventScaleUp))

	m.ScaleCycle(queueLen)
	assert.Equal(t, 4, m.TotalCount("image-generation"))

	// at maxConcurrent, further backlog changes nothing
	m.ScaleCycle(queueLen)
	assert.Equal(t, 4, m.TotalCount("image-generation"))
}

func TestManager_ScaleCycleDown(t *testing.T) {
	m, events, _, _ := newTestManager(t, testConfig(1, 4), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	m.ScaleCycle(func(string) (int, error) { return 5, nil })
	require.Equal(t, 3, m.TotalCount("image-generation"))

	empty := func(string) (int, error) { return 0, nil }
	m.ScaleCycle(empty)
	assert.Equal(t, 1, m.TotalCount("image-generation"))
	assert.Equal(t, 1, events.count(models.EventScaleDown))

	// never below minWorkers
	m.ScaleCycle(empty)
	assert.Equal(t, 1, m.TotalCount("image-generation"))
}

func TestManager_ScaleCycleSkipsWhenLockHeld(t *testing.T) {
	events := &eventRecorder{}
	lockMgr := lock.NewMockLockManager()
	results := make(chan models.TaskResult, 16)
	m := NewManager([]models.WorkerTypeConfig{testConfig(1, 4)}, clock.New(), events, &scriptedSampler{}, lockMgr, results, 30, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	require.NoError(t, lockMgr.Acquire(scaleLockID("image-generation")))
	m.ScaleCycle(func(string) (int, error) { return 5, nil })
	assert.Equal(t, 1, m.TotalCount("image-generation"))

	require.NoError(t, lockMgr.Release(scaleLockID("image-generation")))
	m.ScaleCycle(func(string) (int, error) { return 5, nil })
	assert.Equal(t, 3, m.TotalCount("image-generation"))
}

func TestManager_MonitorCycleRestartsUnresponsive(t *testing.T) {
	m, _, sampler, _ := newTestManager(t, testConfig(1, 2), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	original := m.Workers()[0].ID
	sampler.set(models.ResourceUsage{}, errors.New("sample: connection refused"))

	m.MonitorCycle()
	assert.Equal(t, original, m.Workers()[0].ID, "one missed ping is tolerated")

	m.MonitorCycle()
	waitFor(t, time.Second, func() bool {
		workers := m.Workers()
		return len(workers) == 1 && workers[0].ID != original
	})
}

func TestManager_MonitorCycleRecordsUsage(t *testing.T) {
	m, _, sampler, _ := newTestManager(t, testConfig(1, 2), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	sampler.set(models.ResourceUsage{CPUPercent: 42, MemoryMB: 512}, nil)
	m.MonitorCycle()

	inst := m.Workers()[0]
	assert.Equal(t, 42.0, inst.Resources.CPUPercent)
	assert.Equal(t, int64(512), inst.Resources.MemoryMB)
	assert.Zero(t, inst.MissedPings)
}

func TestManager_HealthCycleReplacesUnhealthy(t *testing.T) {
	m, _, sampler, _ := newTestManager(t, testConfig(1, 2), clock.New())
	m.SetTaskInfo(&stubTaskInfo{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	original := m.Workers()[0].ID

	// over CPU threshold and over the memory limit: 100 - 50 - 30 = 20
	sampler.set(models.ResourceUsage{CPUPercent: 150, MemoryMB: 4096}, nil)
	m.MonitorCycle()
	m.HealthCycle()

	waitFor(t, time.Second, func() bool {
		workers := m.Workers()
		return len(workers) == 1 && workers[0].ID != original
	})
}

func TestManager_HealthCycleKeepsHealthyWorker(t *testing.T) {
	m, _, sampler, _ := newTestManager(t, testConfig(1, 2), clock.New())
	m.SetTaskInfo(&stubTaskInfo{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	original := m.Workers()[0].ID
	sampler.set(models.ResourceUsage{CPUPercent: 40, MemoryMB: 256}, nil)
	m.MonitorCycle()
	m.HealthCycle()

	workers := m.Workers()
	require.Len(t, workers, 1)
	assert.Equal(t, original, workers[0].ID)
	assert.Equal(t, 100, workers[0].HealthScore)
}

func TestManager_HealthCycleTerminatesStuckWorker(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewVirtual(start)
	m, _, _, results := newTestManager(t, testConfig(1, 2), clk)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	blocking := func(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	workerID, ok := m.Dispatch(&models.Job{ID: "j1", Type: "image-generation"}, blocking, func(string, int) {})
	require.True(t, ok)

	m.SetTaskInfo(&stubTaskInfo{started: map[string]time.Time{workerID: start}})

	// well past the one minute type timeout
	clk.Advance(20 * time.Minute)
	m.HealthCycle()

	res := <-results
	var timeoutErr *errs.WorkerTimeoutError
	require.ErrorAs(t, res.Err, &timeoutErr)
	assert.Equal(t, "j1", res.JobID)

	waitFor(t, time.Second, func() bool {
		workers := m.Workers()
		return len(workers) == 1 && workers[0].ID != workerID
	})
}

func TestHealthScore(t *testing.T) {
	cfg := testConfig(1, 2)

	tests := []struct {
		name        string
		usage       models.ResourceUsage
		failureRate float64
		expected    int
	}{
		{name: "idle", usage: models.ResourceUsage{}, expected: 100},
		{name: "under thresholds", usage: models.ResourceUsage{CPUPercent: 79, MemoryMB: 2048}, expected: 100},
		{name: "cpu overage", usage: models.ResourceUsage{CPUPercent: 90}, expected: 90},
		{name: "cpu overage capped", usage: models.ResourceUsage{CPUPercent: 200}, expected: 50},
		{name: "memory overage", usage: models.ResourceUsage{MemoryMB: 4096}, expected: 70},
		{name: "failure rate", failureRate: 0.5, expected: 75},
		{name: "everything wrong", usage: models.ResourceUsage{CPUPercent: 200, MemoryMB: 4096}, failureRate: 1, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, healthScore(tt.usage, cfg, tt.failureRate))
		})
	}
}

func TestManager_ShutdownDrainsWorkers(t *testing.T) {
	m, _, _, results := newTestManager(t, testConfig(2, 4), clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	proc := func(ctx context.Context, job *models.Job, progress func(pct int)) (string, error) {
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	}
	_, ok := m.Dispatch(&models.Job{ID: "j1", Type: "image-generation"}, proc, func(string, int) {})
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		m.Shutdown(time.Second)
		close(done)
	}()

	res := <-results
	assert.Equal(t, "done", res.Summary)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.Zero(t, m.TotalCount("image-generation"))
}

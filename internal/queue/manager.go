package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"genforge/internal/errs"
	"genforge/internal/models"
)

// Delayed is a job held back until its delay elapses.
type Delayed struct {
	JobID   string
	JobType string
	Tier    models.PriorityTier
	Until   time.Time
}

// Stats describes one job type's queues.
type Stats struct {
	Waiting int
	Delayed int
	ByTier  map[models.PriorityTier]int
	Paused  map[models.PriorityTier]bool
}

// Manager owns queue lifecycle and the (jobType, tier) -> queue mapping.
// Queues exist for every registered job type from engine start and are
// never destroyed while the engine runs.
type Manager struct {
	mu      sync.Mutex
	backend Backend
	types   map[string]bool
	paused  map[string]bool
	delayed []Delayed
}

func NewManager(backend Backend, jobTypes []string) *Manager {
	types := make(map[string]bool, len(jobTypes))
	for _, t := range jobTypes {
		types[t] = true
	}
	return &Manager{
		backend: backend,
		types:   types,
		paused:  make(map[string]bool),
	}
}

func key(jobType string, tier models.PriorityTier) string {
	return jobType + ":" + string(tier)
}

// Enqueue appends a job at the back of its (type, tier) queue.
func (m *Manager) Enqueue(ctx context.Context, job *models.Job) error {
	return m.enqueueID(ctx, job.Type, job.Tier, job.ID, false)
}

// EnqueueID appends by id, for jobs the caller already owns (released
// dependents, due delayed jobs).
func (m *Manager) EnqueueID(ctx context.Context, jobType string, tier models.PriorityTier, jobID string) error {
	return m.enqueueID(ctx, jobType, tier, jobID, false)
}

// EnqueueFront inserts a job at the front of its tier queue. Used for
// retries so a failing job does not fall behind newer submissions.
func (m *Manager) EnqueueFront(ctx context.Context, jobType string, tier models.PriorityTier, jobID string) error {
	return m.enqueueID(ctx, jobType, tier, jobID, true)
}

func (m *Manager) enqueueID(ctx context.Context, jobType string, tier models.PriorityTier, jobID string, front bool) error {
	m.mu.Lock()
	known := m.types[jobType]
	m.mu.Unlock()

	if !known {
		verr := &errs.ValidationError{}
		verr.Add(fmt.Errorf("unknown job type: %q", jobType))
		return verr
	}
	if !tier.Valid() {
		verr := &errs.ValidationError{}
		verr.Add(fmt.Errorf("invalid priority tier: %q", tier))
		return verr
	}

	if front {
		return m.backend.PushFront(ctx, key(jobType, tier), jobID)
	}
	return m.backend.Push(ctx, key(jobType, tier), jobID)
}

// DequeueNext pops the next dispatchable job id for a type. Tiers are
// scanned high to normal to low; within a tier the backend preserves
// enqueue order. Paused tiers are skipped.
func (m *Manager) DequeueNext(ctx context.Context, jobType string) (string, bool, error) {
	for _, tier := range models.Tiers {
		k := key(jobType, tier)
		m.mu.Lock()
		paused := m.paused[k]
		m.mu.Unlock()
		if paused {
			continue
		}

		jobID, ok, err := m.backend.Pop(ctx, k)
		if err != nil {
			return "", false, err
		}
		if ok {
			return jobID, true, nil
		}
	}
	return "", false, nil
}

// Pause stops dispatch from the given tiers of a type. With no tiers
// given, every tier is paused.
func (m *Manager) Pause(jobType string, tiers ...models.PriorityTier) {
	m.setPaused(jobType, true, tiers)
}

func (m *Manager) Resume(jobType string, tiers ...models.PriorityTier) {
	m.setPaused(jobType, false, tiers)
}

func (m *Manager) setPaused(jobType string, paused bool, tiers []models.PriorityTier) {
	if len(tiers) == 0 {
		tiers = models.Tiers
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tier := range tiers {
		m.paused[key(jobType, tier)] = paused
	}
}

// Clear drops all waiting jobs from the given tiers of a type and returns
// how many were removed. With no tiers given, every tier is cleared.
func (m *Manager) Clear(ctx context.Context, jobType string, tiers ...models.PriorityTier) (int, error) {
	if len(tiers) == 0 {
		tiers = models.Tiers
	}
	removed := 0
	for _, tier := range tiers {
		k := key(jobType, tier)
		n, err := m.backend.Len(ctx, k)
		if err != nil {
			return removed, err
		}
		if err := m.backend.Clear(ctx, k); err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// Len returns the total number of waiting jobs for a type across tiers.
func (m *Manager) Len(ctx context.Context, jobType string) (int, error) {
	total := 0
	for _, tier := range models.Tiers {
		n, err := m.backend.Len(ctx, key(jobType, tier))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (m *Manager) Stats(ctx context.Context, jobType string) (*Stats, error) {
	stats := &Stats{
		ByTier: make(map[models.PriorityTier]int),
		Paused: make(map[models.PriorityTier]bool),
	}
	for _, tier := range models.Tiers {
		k := key(jobType, tier)
		n, err := m.backend.Len(ctx, k)
		if err != nil {
			return nil, err
		}
		stats.ByTier[tier] = n
		stats.Waiting += n

		m.mu.Lock()
		stats.Paused[tier] = m.paused[k]
		m.mu.Unlock()
	}

	m.mu.Lock()
	for _, d := range m.delayed {
		if d.JobType == jobType {
			stats.Delayed++
		}
	}
	m.mu.Unlock()
	return stats, nil
}

func (m *Manager) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.types))
	for t := range m.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (m *Manager) Known(jobType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[jobType]
}

// AddDelayed holds a job out of its queue until the given time.
func (m *Manager) AddDelayed(d Delayed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayed = append(m.delayed, d)
}

// PopDue removes and returns delayed jobs whose hold has elapsed.
func (m *Manager) PopDue(now time.Time) []Delayed {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Delayed
	remaining := m.delayed[:0]
	for _, d := range m.delayed {
		if !d.Until.After(now) {
			due = append(due, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	m.delayed = remaining
	return due
}

// RemoveDelayed drops a held job, returning true if it was held.
func (m *Manager) RemoveDelayed(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.delayed {
		if d.JobID == jobID {
			m.delayed = append(m.delayed[:i], m.delayed[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) Close() error {
	return m.backend.Close()
}

package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"genforge/internal/models"
	"genforge/internal/state"
)

type MockJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func NewMockJobStore() *MockJobStore {
	return &MockJobStore{jobs: make(map[string]*models.Job)}
}

func (m *MockJobStore) Insert(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *MockJobStore) FindByID(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	copied := *job
	return &copied, nil
}

func (m *MockJobStore) UpdateStatus(ctx context.Context, jobID string, status state.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = status
	}
	return nil
}

func (m *MockJobStore) MarkActive(ctx context.Context, jobID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = state.StatusActive
		job.StartedAt = &startedAt
		job.AttemptsMade++
	}
	return nil
}

func (m *MockJobStore) MarkCompleted(ctx context.Context, jobID string, resultSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		now := time.Now()
		job.Status = state.StatusCompleted
		job.CompletedAt = &now
		job.Progress = 100
		job.ResultSummary = resultSummary
	}
	return nil
}

func (m *MockJobStore) MarkFailed(ctx context.Context, jobID string, errMsg string, attempts, maxAttempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.LastError = errMsg
		job.AttemptsMade = attempts
		if attempts >= maxAttempts {
			now := time.Now()
			job.Status = state.StatusFailed
			job.CompletedAt = &now
		} else {
			job.Status = state.StatusRetrying
		}
	}
	return nil
}

func (m *MockJobStore) MarkCancelled(ctx context.Context, jobID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		now := time.Now()
		job.Status = state.StatusCancelled
		job.CompletedAt = &now
		job.LastError = reason
	}
	return nil
}

func (m *MockJobStore) UpdateProgress(ctx context.Context, jobID string, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Progress = pct
	}
	return nil
}

func (m *MockJobStore) CountAllByStatus(ctx context.Context) (map[state.JobStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[state.JobStatus]int)
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *MockJobStore) FindStaleActive(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []*models.Job
	for _, job := range m.jobs {
		if job.Status == state.StatusActive && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			copied := *job
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

func (m *MockJobStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			pruned++
		}
	}
	return pruned, nil
}

func (m *MockJobStore) Close() error { return nil }

package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"genforge/internal/models"
)

type MockRecurringJobStore struct {
	mu    sync.Mutex
	specs map[int64]*models.RecurringJob
	idSeq int64
}

func NewMockRecurringJobStore() *MockRecurringJobStore {
	return &MockRecurringJobStore{specs: make(map[int64]*models.RecurringJob)}
}

func (m *MockRecurringJobStore) AddOrUpdate(ctx context.Context, rj *models.RecurringJob) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.specs {
		if existing.JobType == rj.JobType && existing.Expression == rj.Expression {
			existing.Tier = rj.Tier
			existing.Payload = rj.Payload
			existing.NextRunAt = rj.NextRunAt
			existing.IsActive = true
			return existing.ID, nil
		}
	}

	m.idSeq++
	copied := *rj
	copied.ID = m.idSeq
	copied.IsActive = true
	copied.CreatedAt = time.Now()
	m.specs[copied.ID] = &copied
	return copied.ID, nil
}

func (m *MockRecurringJobStore) FindByID(ctx context.Context, id int64) (*models.RecurringJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rj, ok := m.specs[id]
	if !ok || !rj.IsActive {
		return nil, errors.New("recurring job not found")
	}
	copied := *rj
	return &copied, nil
}

func (m *MockRecurringJobStore) FetchDue(ctx context.Context, now time.Time, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []models.RecurringJob
	for _, rj := range m.specs {
		if rj.IsActive && !rj.NextRunAt.After(now) {
			due = append(due, *rj)
		}
	}
	return paginate(due, page, pageSize), nil
}

func (m *MockRecurringJobStore) UpdateRunTimes(ctx context.Context, id int64, lastRunAt, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rj, ok := m.specs[id]; ok {
		rj.LastRunAt = lastRunAt
		rj.NextRunAt = nextRunAt
		rj.LastError = ""
	}
	return nil
}

func (m *MockRecurringJobStore) MarkTriggerError(ctx context.Context, id int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rj, ok := m.specs[id]; ok {
		rj.LastError = errMsg
	}
	return nil
}

func (m *MockRecurringJobStore) Remove(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rj, ok := m.specs[id]; ok {
		rj.IsActive = false
	}
	return nil
}

func (m *MockRecurringJobStore) GetAll(ctx context.Context, page, pageSize int) (*models.PaginationResult[models.RecurringJob], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []models.RecurringJob
	for _, rj := range m.specs {
		if rj.IsActive {
			active = append(active, *rj)
		}
	}
	return paginate(active, page, pageSize), nil
}

func (m *MockRecurringJobStore) Close() error { return nil }

func paginate(items []models.RecurringJob, page, pageSize int) *models.PaginationResult[models.RecurringJob] {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	totalPages := (len(items) + pageSize - 1) / pageSize
	return &models.PaginationResult[models.RecurringJob]{
		Items:           items[start:end],
		TotalItems:      len(items),
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

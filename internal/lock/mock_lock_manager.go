package lock

import "sync"

// MockLockManager is an in-process lock manager for tests and single-instance runs.
type MockLockManager struct {
	mu   sync.Mutex
	held map[int]bool
}

func NewMockLockManager() *MockLockManager {
	return &MockLockManager{held: make(map[int]bool)}
}

func (m *MockLockManager) Acquire(lockID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[lockID] = true
	return nil
}

func (m *MockLockManager) TryAcquire(lockID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[lockID] {
		return false, nil
	}
	m.held[lockID] = true
	return true, nil
}

func (m *MockLockManager) Release(lockID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, lockID)
	return nil
}

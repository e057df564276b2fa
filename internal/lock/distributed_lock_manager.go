package lock

// DistributedLockManager guards operations that should normally run on a
// single engine instance at a time. Locks are advisory; holders must
// tolerate best-effort semantics.
type DistributedLockManager interface {
	Acquire(lockID int) error
	// TryAcquire returns false without blocking when the lock is held elsewhere.
	TryAcquire(lockID int) (bool, error)
	Release(lockID int) error
}

package constants

// Advisory lock ids shared by all engine instances on the same database.
const (
	MigrationLock = iota
	RecurringLock
	PruneLock
	ReclaimLock
	ScaleLockBase // per-type scale locks are ScaleLockBase + hash(type)
)

var Locks = []int{
	MigrationLock,
	RecurringLock,
	PruneLock,
	ReclaimLock,
}

const (
	DefaultMaxAttempts = 3
	// ScaleBatchSize caps workers created or destroyed per scaling cycle.
	ScaleBatchSize = 2
)

package config

import "time"

const (
	DefaultStorageDriver = Memory
	DefaultQueueDriver   = MemoryQueue

	DefaultMaxAttempts    = 3
	DefaultRetryBaseDelay = 2 * time.Second
	DefaultRetryMaxDelay  = 5 * time.Minute

	DefaultDispatchInterval    = time.Second
	DefaultScheduleInterval    = 15 * time.Second
	DefaultScalingInterval     = time.Minute
	DefaultMonitorInterval     = 10 * time.Second
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultPruneInterval       = time.Hour

	DefaultHistoryRetention = 7 * 24 * time.Hour
	DefaultShutdownGrace    = 30 * time.Second

	DefaultStaleJobTTL     = 10 * time.Minute
	DefaultReclaimInterval = time.Minute

	DefaultWorkerHealthThreshold = 30
	DefaultScaleBatchSize        = 2

	DefaultScheduleBatchSize = 100
	DefaultScheduleFanOut    = 5
)

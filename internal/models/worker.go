package models

import (
	"time"

	"genforge/internal/state"
)

// ResourceUsage is a point-in-time snapshot of a worker's resource consumption.
type ResourceUsage struct {
	CPUPercent float64
	MemoryMB   int64
	GPUPercent float64
}

type WorkerInstance struct {
	ID           string
	Type         string
	State        state.WorkerState
	Resources    ResourceUsage
	HealthScore  int
	CurrentJobID string
	MissedPings  int
	CreatedAt    time.Time
	LastUsed     time.Time
	LastSeen     time.Time
}

// WorkerTypeConfig is the static resource and behavior profile for one
// job type's workers. Loaded at startup, never mutated.
type WorkerTypeConfig struct {
	Type           string
	MinWorkers     int
	MaxConcurrent  int
	MemoryLimitMB  int64
	CPUThreshold   float64
	GPURequired    bool
	Timeout        time.Duration
	PriorityWeight int
}

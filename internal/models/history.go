package models

import (
	"time"

	"genforge/internal/state"
)

// HistoryEntry is an immutable audit record of one job status transition.
type HistoryEntry struct {
	JobID         string
	Status        state.JobStatus
	Timestamp     time.Time
	DurationMs    int64
	ResultSummary string
}

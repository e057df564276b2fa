package models

import "time"

// Task is the runtime binding of one job to one worker.
type Task struct {
	JobID      string
	WorkerID   string
	JobType    string
	UserID     string
	StartedAt  time.Time
	Timeout    time.Duration
	RetryCount int
}

// TaskResult is reported by a worker when a task ends.
type TaskResult struct {
	JobID    string
	WorkerID string
	JobType  string
	Summary  string
	Err      error
	Duration time.Duration
}

// Package queue implements the type-and-tier scoped FIFO queues jobs wait
// in between admission and dispatch. The ordered storage is pluggable: a
// process-local backend for single-instance runs and tests, and a redis
// backend when the queue must survive restarts and be shared across
// instances.
package queue

import "context"

// Backend is an ordered job-id store keyed by (jobType, tier).
type Backend interface {
	// Push appends a job id at the back of the queue.
	Push(ctx context.Context, key, jobID string) error
	// PushFront inserts a job id at the front of the queue. Retries use
	// this to bound worst-case latency.
	PushFront(ctx context.Context, key, jobID string) error
	// Pop removes and returns the id at the front. ok is false when empty.
	Pop(ctx context.Context, key string) (jobID string, ok bool, err error)
	Len(ctx context.Context, key string) (int, error)
	Clear(ctx context.Context, key string) error
	Close() error
}

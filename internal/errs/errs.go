package errs

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError collects one or more submission-time validation failures.
// It is always returned synchronously and never retried.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (v *ValidationError) Add(err error) {
	v.Errors = append(v.Errors, err)
}

func (v *ValidationError) HasError() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", errors.Join(v.Errors...))
}

// ConcurrencyLimitError is returned by the governor when admitting a job
// would exceed a per-user or per-type activity ceiling. It carries the
// observed and configured values so the caller can decide when to resubmit.
type ConcurrencyLimitError struct {
	Scope   string // "user" or "type"
	Key     string // user id or job type
	Current int
	Limit   int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit exceeded for %s %q: %d active, limit %d", e.Scope, e.Key, e.Current, e.Limit)
}

// DependencyFailedError marks a job cancelled because one of its
// prerequisites reached a terminal failure state.
type DependencyFailedError struct {
	JobID        string
	DependencyID string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("job %s cancelled: dependency %s failed", e.JobID, e.DependencyID)
}

// WorkerTimeoutError marks a task whose worker exceeded the configured
// execution timeout and was force-terminated.
type WorkerTimeoutError struct {
	WorkerID string
	JobID    string
	Timeout  time.Duration
}

func (e *WorkerTimeoutError) Error() string {
	return fmt.Sprintf("worker %s timed out after %s running job %s", e.WorkerID, e.Timeout, e.JobID)
}

// WorkerCrashError marks a task whose worker exited before reporting a result.
type WorkerCrashError struct {
	WorkerID string
	JobID    string
}

func (e *WorkerCrashError) Error() string {
	return fmt.Sprintf("worker %s crashed while running job %s", e.WorkerID, e.JobID)
}

type nonRetriable struct {
	err error
}

func (n *nonRetriable) Error() string { return n.err.Error() }
func (n *nonRetriable) Unwrap() error { return n.err }

// NonRetriable wraps a processor error so the dispatcher fails the job
// permanently instead of applying the retry policy.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriable{err: err}
}

func IsNonRetriable(err error) bool {
	var n *nonRetriable
	return errors.As(err, &n)
}

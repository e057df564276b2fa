// Package deps holds jobs whose prerequisite jobs have not resolved yet
// and releases or cancels them as prerequisites complete or fail.
package deps

import "sync"

// Tracker maps waiting jobs to their unresolved prerequisite sets and
// prerequisites to their direct dependents.
type Tracker struct {
	mu      sync.Mutex
	waiting map[string]map[string]bool // jobID -> unresolved dep ids
	rdeps   map[string][]string        // dep id -> dependent job ids
}

func NewTracker() *Tracker {
	return &Tracker{
		waiting: make(map[string]map[string]bool),
		rdeps:   make(map[string][]string),
	}
}

// Register holds a job until every listed prerequisite resolves. An empty
// dep list registers nothing and returns false.
func (t *Tracker) Register(jobID string, depIDs []string) bool {
	if len(depIDs) == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	set := make(map[string]bool, len(depIDs))
	for _, dep := range depIDs {
		set[dep] = true
		t.rdeps[dep] = append(t.rdeps[dep], jobID)
	}
	t.waiting[jobID] = set
	return true
}

// Resolve records the outcome of a finished job. On success, dependents
// whose waiting sets empty out are returned as released. On failure,
// every direct dependent is returned as cancelled; a dependent never
// proceeds past a failed prerequisite.
func (t *Tracker) Resolve(jobID string, success bool) (released, cancelled []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dependents := t.rdeps[jobID]
	delete(t.rdeps, jobID)

	for _, dep := range dependents {
		set, ok := t.waiting[dep]
		if !ok {
			continue
		}
		if !success {
			delete(t.waiting, dep)
			cancelled = append(cancelled, dep)
			continue
		}
		delete(set, jobID)
		if len(set) == 0 {
			delete(t.waiting, dep)
			released = append(released, dep)
		}
	}
	return released, cancelled
}

// Drop removes a waiting job, e.g. when it is cancelled by an operator.
func (t *Tracker) Drop(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.waiting[jobID]; !ok {
		return false
	}
	delete(t.waiting, jobID)
	return true
}

// Pending returns the unresolved prerequisite ids of a waiting job.
func (t *Tracker) Pending(jobID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.waiting[jobID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for dep := range set {
		out = append(out, dep)
	}
	return out
}

// WaitingCount returns how many jobs are currently held on dependencies.
func (t *Tracker) WaitingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiting)
}

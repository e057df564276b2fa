// Package metrics aggregates job counts, rates and durations, globally
// and per job type, user and tier, and classifies queue health.
package metrics

import (
	"sync"
	"time"

	"genforge/internal/clock"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
	Error     HealthStatus = "error"
)

// Thresholds drive health classification. These are configuration, not
// hard-coded constants.
type Thresholds struct {
	DegradedErrorRate  float64
	DegradedActive     int
	UnhealthyErrorRate float64
	UnhealthyActive    int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedErrorRate:  0.20,
		DegradedActive:     100,
		UnhealthyErrorRate: 0.50,
		UnhealthyActive:    200,
	}
}

type Snapshot struct {
	Total            int64
	Completed        int64
	Failed           int64
	Active           int64
	AvgProcessingMs  float64
	ErrorRate        float64
	ThroughputPerMin int
}

type bucket struct {
	total         int64
	completed     int64
	failed        int64
	active        int64
	durationMsSum int64
	completions   []time.Time
}

func (b *bucket) snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Total:     b.total,
		Completed: b.completed,
		Failed:    b.failed,
		Active:    b.active,
	}
	if b.completed > 0 {
		s.AvgProcessingMs = float64(b.durationMsSum) / float64(b.completed)
	}
	if finished := b.completed + b.failed; finished > 0 {
		s.ErrorRate = float64(b.failed) / float64(finished)
	}
	cutoff := now.Add(-time.Minute)
	for _, at := range b.completions {
		if at.After(cutoff) {
			s.ThroughputPerMin++
		}
	}
	return s
}

func (b *bucket) trim(now time.Time) {
	cutoff := now.Add(-time.Minute)
	kept := b.completions[:0]
	for _, at := range b.completions {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.completions = kept
}

// Registry is the engine-local metrics store.
type Registry struct {
	mu         sync.Mutex
	clk        clock.Clock
	thresholds Thresholds
	global     *bucket
	byType     map[string]*bucket
	byUser     map[string]*bucket
	byTier     map[string]*bucket
}

func NewRegistry(clk clock.Clock, thresholds Thresholds) *Registry {
	return &Registry{
		clk:        clk,
		thresholds: thresholds,
		global:     &bucket{},
		byType:     make(map[string]*bucket),
		byUser:     make(map[string]*bucket),
		byTier:     make(map[string]*bucket),
	}
}

func (r *Registry) buckets(jobType, user, tier string) []*bucket {
	out := []*bucket{r.global}
	for m, k := range map[*map[string]*bucket]string{&r.byType: jobType, &r.byUser: user, &r.byTier: tier} {
		if k == "" {
			continue
		}
		b, ok := (*m)[k]
		if !ok {
			b = &bucket{}
			(*m)[k] = b
		}
		out = append(out, b)
	}
	return out
}

func (r *Registry) JobSubmitted(jobType, user, tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets(jobType, user, tier) {
		b.total++
	}
}

func (r *Registry) JobStarted(jobType, user, tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets(jobType, user, tier) {
		b.active++
	}
}

// JobRequeued undoes a start without a terminal outcome, e.g. a retriable
// failure that will be dispatched again.
func (r *Registry) JobRequeued(jobType, user, tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets(jobType, user, tier) {
		if b.active > 0 {
			b.active--
		}
	}
}

func (r *Registry) JobCompleted(jobType, user, tier string, duration time.Duration) {
	now := r.clk.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets(jobType, user, tier) {
		if b.active > 0 {
			b.active--
		}
		b.completed++
		b.durationMsSum += duration.Milliseconds()
		b.completions = append(b.completions, now)
		b.trim(now)
	}
}

func (r *Registry) JobFailed(jobType, user, tier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets(jobType, user, tier) {
		if b.active > 0 {
			b.active--
		}
		b.failed++
	}
}

func (r *Registry) Global() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.global.snapshot(r.clk.Now())
}

func (r *Registry) ByType(jobType string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byType[jobType]; ok {
		return b.snapshot(r.clk.Now())
	}
	return Snapshot{}
}

func (r *Registry) ByUser(user string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byUser[user]; ok {
		return b.snapshot(r.clk.Now())
	}
	return Snapshot{}
}

func (r *Registry) ByTier(tier string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byTier[tier]; ok {
		return b.snapshot(r.clk.Now())
	}
	return Snapshot{}
}

// Classify maps an error rate and active-job count onto a health status.
func (r *Registry) Classify(errorRate float64, active int) HealthStatus {
	t := r.thresholds
	if errorRate > t.UnhealthyErrorRate || active > t.UnhealthyActive {
		return Unhealthy
	}
	if errorRate > t.DegradedErrorRate || active > t.DegradedActive {
		return Degraded
	}
	return Healthy
}

// Health classifies a job type's queue from its own snapshot.
func (r *Registry) Health(jobType string) HealthStatus {
	s := r.ByType(jobType)
	return r.Classify(s.ErrorRate, int(s.Active))
}

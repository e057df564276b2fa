package recurring

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/clock"
	"genforge/internal/errs"
	"genforge/internal/lock"
	"genforge/internal/models"
	"genforge/internal/store/mocks"
)

type capturedSubmit struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (c *capturedSubmit) submit(ctx context.Context, jobType string, tier models.PriorityTier, payload json.RawMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return "", c.fail
	}
	c.calls = append(c.calls, jobType)
	return "job-id", nil
}

func (c *capturedSubmit) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestScheduler(clk clock.Clock, submit SubmitFunc) (*Scheduler, *mocks.MockRecurringJobStore) {
	st := mocks.NewMockRecurringJobStore()
	return NewScheduler(st, lock.NewMockLockManager(), clk, submit, "test-instance", 100, 5), st
}

func TestNextRun_CronSemantics(t *testing.T) {
	from := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name       string
		expression string
		expected   time.Time
	}{
		{name: "daily at midnight", expression: "0 0 * * *", expected: time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
		{name: "every minute", expression: "* * * * *", expected: time.Date(2026, 3, 15, 10, 31, 0, 0, time.UTC)},
		{name: "hourly on the hour", expression: "0 * * * *", expected: time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)},
		{name: "first of month", expression: "0 0 1 * *", expected: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		{name: "sunday 3am", expression: "0 3 * * 0", expected: time.Date(2026, 3, 22, 3, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextRun(tt.expression, from)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, next)
		})
	}
}

func TestNextRun_InvalidExpression(t *testing.T) {
	_, err := NextRun("not a cron", time.Now())
	assert.Error(t, err)
}

func TestScheduler_AddValidatesExpression(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	sub := &capturedSubmit{}
	s, _ := newTestScheduler(clk, sub.submit)

	_, err := s.Add(context.Background(), "image-generation", models.TierNormal, json.RawMessage(`{}`), "61 * * * *")
	require.Error(t, err)

	var verr *errs.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestScheduler_DailySpecFiresOncePerDay(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 30, 0, time.UTC)
	clk := clock.NewVirtual(start)
	sub := &capturedSubmit{}
	s, _ := newTestScheduler(clk, sub.submit)

	_, err := s.Add(context.Background(), "video-generation", models.TierNormal, json.RawMessage(`{"prompt":"daily"}`), "0 0 * * *")
	require.NoError(t, err)

	// simulate 7 days of minute-resolution evaluation cycles
	for day := 0; day < 7; day++ {
		for minute := 0; minute < 24*60; minute += 30 {
			clk.Advance(30 * time.Minute)
			s.ProcessDue(context.Background())
		}
	}

	assert.Equal(t, 7, sub.count())
}

func TestScheduler_RemovedSpecStopsFiring(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 30, 0, time.UTC)
	clk := clock.NewVirtual(start)
	sub := &capturedSubmit{}
	s, _ := newTestScheduler(clk, sub.submit)

	id, err := s.Add(context.Background(), "video-generation", models.TierNormal, json.RawMessage(`{}`), "0 0 * * *")
	require.NoError(t, err)
	require.NoError(t, s.Remove(context.Background(), id))

	for day := 0; day < 7; day++ {
		clk.Advance(24 * time.Hour)
		s.ProcessDue(context.Background())
	}

	assert.Equal(t, 0, sub.count())

	_, err = s.Get(context.Background(), id)
	assert.Error(t, err)
}

func TestScheduler_TriggerAdvancesEvenWhenSubmitRejected(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 30, 0, time.UTC)
	clk := clock.NewVirtual(start)
	sub := &capturedSubmit{fail: errors.New("concurrency limit exceeded")}
	s, st := newTestScheduler(clk, sub.submit)

	id, err := s.Add(context.Background(), "image-generation", models.TierNormal, json.RawMessage(`{}`), "0 0 * * *")
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	s.ProcessDue(context.Background())

	rj, err := st.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, rj.LastError, "concurrency limit")
	assert.True(t, rj.NextRunAt.After(clk.Now()))

	// next cycle does not re-fire the same slot
	s.ProcessDue(context.Background())
	assert.Equal(t, 0, sub.count())
}

func TestScheduler_RunStopsOnContextCancel(t *testing.T) {
	clk := clock.NewVirtual(time.Now())
	sub := &capturedSubmit{}
	s, _ := newTestScheduler(clk, sub.submit)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Minute)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

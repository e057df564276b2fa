package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/errs"
	"genforge/internal/models"
)

func newTestManager() *Manager {
	return NewManager(NewMemoryBackend(), []string{"image-generation", "video-generation"})
}

func job(id, jobType string, tier models.PriorityTier) *models.Job {
	return &models.Job{ID: id, Type: jobType, Tier: tier}
}

func TestManager_TierOrdering(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	// low, high, normal submitted in that order
	require.NoError(t, m.Enqueue(ctx, job("j1", "image-generation", models.TierLow)))
	require.NoError(t, m.Enqueue(ctx, job("j2", "image-generation", models.TierHigh)))
	require.NoError(t, m.Enqueue(ctx, job("j3", "image-generation", models.TierNormal)))

	var order []string
	for {
		id, ok, err := m.DequeueNext(ctx, "image-generation")
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, id)
	}
	assert.Equal(t, []string{"j2", "j3", "j1"}, order)
}

func TestManager_FIFOWithinTier(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.Enqueue(ctx, job(id, "image-generation", models.TierNormal)))
	}

	for _, want := range []string{"a", "b", "c"} {
		id, ok, err := m.DequeueNext(ctx, "image-generation")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, id)
	}
}

func TestManager_EnqueueFrontBeatsOlderJobs(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, job("old", "image-generation", models.TierNormal)))
	require.NoError(t, m.EnqueueFront(ctx, "image-generation", models.TierNormal, "retry"))

	id, ok, err := m.DequeueNext(ctx, "image-generation")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "retry", id)
}

func TestManager_RejectsUnknownType(t *testing.T) {
	m := newTestManager()

	err := m.Enqueue(context.Background(), job("j1", "hologram-generation", models.TierNormal))
	require.Error(t, err)

	var verr *errs.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestManager_PauseAndResume(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, job("j1", "image-generation", models.TierHigh)))
	require.NoError(t, m.Enqueue(ctx, job("j2", "image-generation", models.TierNormal)))

	m.Pause("image-generation", models.TierHigh)

	// high tier paused, normal still flows
	id, ok, err := m.DequeueNext(ctx, "image-generation")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j2", id)

	m.Resume("image-generation", models.TierHigh)
	id, ok, err = m.DequeueNext(ctx, "image-generation")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "j1", id)
}

func TestManager_PauseAllTiers(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, job("j1", "image-generation", models.TierHigh)))
	m.Pause("image-generation")

	_, ok, err := m.DequeueNext(ctx, "image-generation")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_Clear(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, job("j1", "image-generation", models.TierHigh)))
	require.NoError(t, m.Enqueue(ctx, job("j2", "image-generation", models.TierLow)))

	removed, err := m.Clear(ctx, "image-generation")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := m.Len(ctx, "image-generation")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, m.Enqueue(ctx, job("j1", "image-generation", models.TierHigh)))
	require.NoError(t, m.Enqueue(ctx, job("j2", "image-generation", models.TierHigh)))
	require.NoError(t, m.Enqueue(ctx, job("j3", "image-generation", models.TierLow)))
	m.AddDelayed(Delayed{JobID: "j4", JobType: "image-generation", Tier: models.TierNormal, Until: time.Now().Add(time.Hour)})

	stats, err := m.Stats(ctx, "image-generation")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Waiting)
	assert.Equal(t, 1, stats.Delayed)
	assert.Equal(t, 2, stats.ByTier[models.TierHigh])
	assert.Equal(t, 1, stats.ByTier[models.TierLow])
}

func TestManager_DelayedJobs(t *testing.T) {
	m := newTestManager()
	now := time.Now()

	m.AddDelayed(Delayed{JobID: "j1", JobType: "image-generation", Tier: models.TierNormal, Until: now.Add(time.Minute)})
	m.AddDelayed(Delayed{JobID: "j2", JobType: "image-generation", Tier: models.TierNormal, Until: now.Add(time.Hour)})

	assert.Empty(t, m.PopDue(now))

	due := m.PopDue(now.Add(2 * time.Minute))
	require.Len(t, due, 1)
	assert.Equal(t, "j1", due[0].JobID)

	assert.True(t, m.RemoveDelayed("j2"))
	assert.False(t, m.RemoveDelayed("j2"))
	assert.Empty(t, m.PopDue(now.Add(2*time.Hour)))
}

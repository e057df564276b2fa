package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/models"
	"genforge/internal/state"
)

func TestJobStore_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)
	ctx := context.Background()

	job := &models.Job{
		ID:          "j-1",
		Type:        "image-generation",
		Tier:        models.TierHigh,
		Payload:     json.RawMessage(`{"prompt":"fox","width":512,"height":512}`),
		Status:      state.StatusQueued,
		MaxAttempts: 3,
		SubmittedBy: "u-1",
		UserTier:    "pro",
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec("INSERT INTO genforge_schema.jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Insert(ctx, job)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_InsertWithDependencies(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)
	ctx := context.Background()

	job := &models.Job{
		ID:           "j-2",
		Type:         "video-generation",
		Tier:         models.TierNormal,
		Payload:      json.RawMessage(`{"prompt":"fox","durationSec":10}`),
		Status:       state.StatusWaitingDeps,
		MaxAttempts:  3,
		Dependencies: []string{"j-1"},
		SubmittedBy:  "u-1",
		UserTier:     "pro",
		CreatedAt:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO genforge_schema.jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO genforge_schema.job_dependencies").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Insert(ctx, job)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_MarkActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)
	startedAt := time.Now()

	mock.ExpectExec("UPDATE genforge_schema.jobs").
		WithArgs("j-1", state.StatusActive.String(), startedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.MarkActive(context.Background(), "j-1", startedAt)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_MarkFailed_RetryingWhileAttemptsRemain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)

	mock.ExpectExec("UPDATE genforge_schema.jobs").
		WithArgs("j-1", state.StatusRetrying.String(), "gpu oom", 1, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.MarkFailed(context.Background(), "j-1", "gpu oom", 1, 3)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_MarkFailed_PermanentAtMaxAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)

	mock.ExpectExec("UPDATE genforge_schema.jobs").
		WithArgs("j-1", state.StatusFailed.String(), "gpu oom", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.MarkFailed(context.Background(), "j-1", "gpu oom", 3, 3)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_CountAllByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("queued", 4).
		AddRow("active", 2).
		AddRow("failed", 1)
	mock.ExpectQuery("SELECT status, COUNT").WillReturnRows(rows)

	counts, err := store.CountAllByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, counts[state.StatusQueued])
	assert.Equal(t, 2, counts[state.StatusActive])
	assert.Equal(t, 1, counts[state.StatusFailed])
}

func TestJobStore_FindStaleActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)
	cutoff := time.Now().Add(-10 * time.Minute)
	startedAt := time.Now().Add(-time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "type", "tier", "attempts", "max_attempts", "submitted_by", "user_tier", "started_at",
	}).AddRow("j-1", "image-generation", "high", 1, 3, "u-1", "pro", startedAt)
	mock.ExpectQuery("SELECT (.+) FROM genforge_schema.jobs").
		WithArgs(state.StatusActive.String(), cutoff).
		WillReturnRows(rows)

	stale, err := store.FindStaleActive(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "j-1", stale[0].ID)
	assert.Equal(t, models.TierHigh, stale[0].Tier)
	assert.Equal(t, state.StatusActive, stale[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStore_PruneOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewJobStore(db)
	cutoff := time.Now().Add(-24 * time.Hour)

	mock.ExpectExec("DELETE FROM genforge_schema.jobs").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 7))

	pruned, err := store.PruneOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pruned)
}

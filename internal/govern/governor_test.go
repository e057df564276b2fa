package govern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genforge/internal/errs"
	"genforge/internal/models"
)

type fakeCounts struct {
	users map[string]int
	types map[string]int
}

func (f fakeCounts) UserActive(userID string) int  { return f.users[userID] }
func (f fakeCounts) TypeActive(jobType string) int { return f.types[jobType] }

func testGovernor() *Governor {
	return NewGovernor(
		map[string]int{"free": 1, "pro": 5, "enterprise": 10},
		1,
		map[string]int{"video-generation": 3},
	)
}

func TestGovernor_AdmitsUnderLimit(t *testing.T) {
	g := testGovernor()
	job := &models.Job{SubmittedBy: "u-1", UserTier: "pro", Type: "image-generation"}

	err := g.Admit(job, fakeCounts{users: map[string]int{"u-1": 4}, types: map[string]int{}})
	assert.NoError(t, err)
}

func TestGovernor_RejectsAtUserCeiling(t *testing.T) {
	g := testGovernor()
	job := &models.Job{SubmittedBy: "u-1", UserTier: "free", Type: "image-generation"}

	err := g.Admit(job, fakeCounts{users: map[string]int{"u-1": 1}, types: map[string]int{}})
	require.Error(t, err)

	var climit *errs.ConcurrencyLimitError
	require.True(t, errors.As(err, &climit))
	assert.Equal(t, "user", climit.Scope)
	assert.Equal(t, 1, climit.Current)
	assert.Equal(t, 1, climit.Limit)
}

func TestGovernor_RejectsAtTypeCeiling(t *testing.T) {
	g := testGovernor()
	job := &models.Job{SubmittedBy: "u-1", UserTier: "enterprise", Type: "video-generation"}

	err := g.Admit(job, fakeCounts{users: map[string]int{}, types: map[string]int{"video-generation": 3}})
	require.Error(t, err)

	var climit *errs.ConcurrencyLimitError
	require.True(t, errors.As(err, &climit))
	assert.Equal(t, "type", climit.Scope)
	assert.Equal(t, "video-generation", climit.Key)
}

func TestGovernor_UnknownTierFallsBackToDefault(t *testing.T) {
	g := testGovernor()
	job := &models.Job{SubmittedBy: "u-9", UserTier: "trial", Type: "image-generation"}

	err := g.Admit(job, fakeCounts{users: map[string]int{"u-9": 1}, types: map[string]int{}})
	assert.Error(t, err)

	err = g.Admit(job, fakeCounts{users: map[string]int{"u-9": 0}, types: map[string]int{}})
	assert.NoError(t, err)
}

func TestGovernor_TypeWithoutCeilingIsUnlimited(t *testing.T) {
	g := testGovernor()
	job := &models.Job{SubmittedBy: "u-1", UserTier: "enterprise", Type: "image-generation"}

	err := g.Admit(job, fakeCounts{users: map[string]int{}, types: map[string]int{"image-generation": 500}})
	assert.NoError(t, err)
}

package deps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_EmptyDepsNotHeld(t *testing.T) {
	tr := NewTracker()
	assert.False(t, tr.Register("j1", nil))
	assert.Equal(t, 0, tr.WaitingCount())
}

func TestTracker_ReleasedWhenAllDepsSucceed(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Register("j3", []string{"j1", "j2"}))

	released, cancelled := tr.Resolve("j1", true)
	assert.Empty(t, released)
	assert.Empty(t, cancelled)
	assert.ElementsMatch(t, []string{"j2"}, tr.Pending("j3"))

	released, cancelled = tr.Resolve("j2", true)
	assert.Equal(t, []string{"j3"}, released)
	assert.Empty(t, cancelled)
	assert.Equal(t, 0, tr.WaitingCount())
}

func TestTracker_FailedDepCancelsDependents(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Register("j2", []string{"j1"}))
	require.True(t, tr.Register("j3", []string{"j1", "j4"}))

	released, cancelled := tr.Resolve("j1", false)
	assert.Empty(t, released)
	assert.ElementsMatch(t, []string{"j2", "j3"}, cancelled)
	assert.Equal(t, 0, tr.WaitingCount())

	// j4 resolving later finds no dependents left
	released, cancelled = tr.Resolve("j4", true)
	assert.Empty(t, released)
	assert.Empty(t, cancelled)
}

func TestTracker_PartialSuccessStillHolds(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Register("j3", []string{"j1", "j2"}))

	released, _ := tr.Resolve("j1", true)
	assert.Empty(t, released)
	assert.Equal(t, 1, tr.WaitingCount())
}

func TestTracker_SharedDependency(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Register("a", []string{"base"}))
	require.True(t, tr.Register("b", []string{"base"}))

	released, cancelled := tr.Resolve("base", true)
	assert.ElementsMatch(t, []string{"a", "b"}, released)
	assert.Empty(t, cancelled)
}

func TestTracker_Drop(t *testing.T) {
	tr := NewTracker()
	require.True(t, tr.Register("j2", []string{"j1"}))

	assert.True(t, tr.Drop("j2"))
	assert.False(t, tr.Drop("j2"))

	released, cancelled := tr.Resolve("j1", true)
	assert.Empty(t, released)
	assert.Empty(t, cancelled)
}

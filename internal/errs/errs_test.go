package errs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())

	v.Add(errors.New("unknown job type"))
	v.Add(errors.New("malformed payload"))
	assert.True(t, v.HasError())
	assert.Contains(t, v.Error(), "unknown job type")
	assert.Contains(t, v.Error(), "malformed payload")
}

func TestConcurrencyLimitError(t *testing.T) {
	err := &ConcurrencyLimitError{Scope: "user", Key: "u-42", Current: 5, Limit: 5}
	assert.Contains(t, err.Error(), "u-42")
	assert.Contains(t, err.Error(), "5 active, limit 5")

	var target *ConcurrencyLimitError
	assert.True(t, errors.As(fmt.Errorf("admission: %w", err), &target))
	assert.Equal(t, 5, target.Limit)
}

func TestWorkerTimeoutError(t *testing.T) {
	err := &WorkerTimeoutError{WorkerID: "w-1", JobID: "j-1", Timeout: 30 * time.Second}
	assert.Contains(t, err.Error(), "w-1")
	assert.Contains(t, err.Error(), "30s")
}

func TestNonRetriable(t *testing.T) {
	assert.Nil(t, NonRetriable(nil))

	base := errors.New("bad prompt")
	wrapped := NonRetriable(base)
	assert.True(t, IsNonRetriable(wrapped))
	assert.True(t, IsNonRetriable(fmt.Errorf("processor: %w", wrapped)))
	assert.False(t, IsNonRetriable(base))
	assert.True(t, errors.Is(wrapped, base))
}

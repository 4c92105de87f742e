package research

import (
	"context"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError_RetryablePolicy(t *testing.T) {
	assert.True(t, NewError(CategoryNetwork, "net", nil).Retryable)
	assert.True(t, NewError(CategoryAPI, "api", nil).Retryable)
	assert.False(t, NewError(CategoryAuth, "auth", nil).Retryable)
	assert.False(t, NewError(CategoryValidation, "bad", nil).Retryable)
	assert.False(t, NewError(CategoryJob, "job", nil).Retryable)
	assert.False(t, NewError(CategoryDatabase, "db", nil).Retryable)
}

func TestError_Unwrap(t *testing.T) {
	cause := eris.New("connection refused by upstream")
	err := NewError(CategoryNetwork, "research: provider request failed", cause)

	assert.Contains(t, err.Error(), "provider request failed")
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, eris.Is(err, cause))
}

func TestAsError(t *testing.T) {
	inner := NewError(CategoryAuth, "denied", nil)
	wrapped := eris.Wrap(inner, "outer context")

	re := AsError(wrapped)
	require.NotNil(t, re)
	assert.Equal(t, CategoryAuth, re.Category)

	assert.Nil(t, AsError(eris.New("plain")))
	assert.Nil(t, AsError(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))

	assert.True(t, IsRetryable(NewError(CategoryNetwork, "net", nil)))
	assert.False(t, IsRetryable(NewError(CategoryAuth, "auth", nil)))

	// Unclassified errors fall back to transport heuristics.
	assert.True(t, IsRetryable(syscall.ECONNRESET))
	assert.True(t, IsRetryable(eris.New("dial tcp: i/o timeout")))
	assert.False(t, IsRetryable(eris.New("invalid payload")))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil, "noop"))

	// Already categorized errors pass through unchanged.
	original := NewError(CategoryValidation, "bad json", nil)
	assert.Same(t, original, Classify(eris.Wrap(original, "outer"), "ignored"))

	cancelled := Classify(context.Canceled, "query aborted")
	require.NotNil(t, cancelled)
	assert.Equal(t, CategoryNetwork, cancelled.Category)
	assert.False(t, cancelled.Retryable)

	network := Classify(syscall.ECONNREFUSED, "query failed")
	assert.Equal(t, CategoryNetwork, network.Category)
	assert.True(t, network.Retryable)

	generic := Classify(eris.New("something else"), "query failed")
	assert.Equal(t, CategoryJob, generic.Category)
}

func TestCategoryForStatus(t *testing.T) {
	assert.Equal(t, CategoryAuth, CategoryForStatus(401))
	assert.Equal(t, CategoryAuth, CategoryForStatus(403))
	assert.Equal(t, CategoryAPI, CategoryForStatus(404))
	assert.Equal(t, CategoryAPI, CategoryForStatus(429))
	assert.Equal(t, CategoryAPI, CategoryForStatus(500))
	assert.Equal(t, CategoryNetwork, CategoryForStatus(0))
}

package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edusphere/notify-api/pkg/errors"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	var calls int
	attempts, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	var calls int
	attempts, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperrors.NewTransient("EMAIL", assert.AnError)
		}
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	var calls int
	attempts, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context) error {
		calls++
		return apperrors.NewValidation("EMAIL", "missing content")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls, "non-retryable errors must not be re-attempted")
}

func TestDoExhaustsBudget(t *testing.T) {
	var notified []int
	attempts, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		return apperrors.NewTransient("SMS", assert.AnError)
	}, func(attempt int, err error) {
		notified = append(notified, attempt)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	// notify fires for every failure, the terminal one included.
	assert.Equal(t, []int{1, 2, 3}, notified)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	attempts, err := Do(ctx, Policy{MaxAttempts: 5, InitialInterval: time.Hour}, func(ctx context.Context) error {
		calls++
		cancel()
		return apperrors.NewTransient("EMAIL", assert.AnError)
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls, "cancellation must cut the backoff wait short")
}

package timeout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edusphere/notify-api/pkg/errors"
)

func TestForFallsBackToDefault(t *testing.T) {
	c := Config{Email: 2 * time.Second, Default: 7 * time.Second}

	assert.Equal(t, 2*time.Second, c.For("EMAIL"))
	assert.Equal(t, 7*time.Second, c.For("SMS"))
	assert.Equal(t, 7*time.Second, c.For("unknown"))

	var zero Config
	assert.Equal(t, 10*time.Second, zero.For("EMAIL"))
}

func TestGuardReturnsResultWithinDeadline(t *testing.T) {
	err := Guard(context.Background(), "EMAIL", time.Second, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	err = Guard(context.Background(), "EMAIL", time.Second, func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestGuardConvertsHangToTimeout(t *testing.T) {
	start := time.Now()
	err := Guard(context.Background(), "SMS", 30*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Less(t, elapsed, time.Second, "caller must not wait for the hung call")
}

func TestGuardAbandonsLateResult(t *testing.T) {
	released := make(chan struct{})
	err := Guard(context.Background(), "PUSH", 20*time.Millisecond, func(ctx context.Context) error {
		<-released
		return assert.AnError
	})
	require.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))

	// Late completion is discarded, not delivered to anyone.
	close(released)
	time.Sleep(10 * time.Millisecond)
}

func TestGuardReportsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Guard(ctx, "EMAIL", time.Second, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
}

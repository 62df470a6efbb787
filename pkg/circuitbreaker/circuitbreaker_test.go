package circuitbreaker

import (
	"io"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func testRegistry(threshold uint32) *Registry {
	return NewRegistry(Settings{
		FailureThreshold: threshold,
		Cooldown:         50 * time.Millisecond,
	}, testLogger(), nil)
}

func TestExecutePassesThroughWhileClosed(t *testing.T) {
	r := testRegistry(3)

	var calls int
	err := r.Execute("EMAIL", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, gobreaker.StateClosed, r.State("EMAIL"))
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	r := testRegistry(3)

	fail := func() error { return apperrors.NewTransient("EMAIL", assert.AnError) }
	for i := 0; i < 3; i++ {
		require.Error(t, r.Execute("EMAIL", fail))
	}
	assert.Equal(t, gobreaker.StateOpen, r.State("EMAIL"))

	// While open, the function is never invoked.
	var calls int
	err := r.Execute("EMAIL", func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls)
	assert.Equal(t, apperrors.KindCircuitOpen, apperrors.KindOf(err))
}

func TestNonRetryableErrorsDoNotTrip(t *testing.T) {
	r := testRegistry(2)

	for i := 0; i < 10; i++ {
		_ = r.Execute("SMS", func() error {
			return apperrors.NewValidation("SMS", "missing content")
		})
	}
	assert.Equal(t, gobreaker.StateClosed, r.State("SMS"),
		"payload problems are not provider health signals")
}

func TestBreakersAreIsolatedPerChannel(t *testing.T) {
	r := testRegistry(2)

	fail := func() error { return apperrors.NewTransient("SMS", assert.AnError) }
	for i := 0; i < 2; i++ {
		_ = r.Execute("SMS", fail)
	}
	assert.Equal(t, gobreaker.StateOpen, r.State("SMS"))
	assert.Equal(t, gobreaker.StateClosed, r.State("EMAIL"))

	var calls int
	require.NoError(t, r.Execute("EMAIL", func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestHalfOpenProbeClosesBreakerOnSuccess(t *testing.T) {
	r := testRegistry(2)

	fail := func() error { return apperrors.NewTransient("PUSH", assert.AnError) }
	for i := 0; i < 2; i++ {
		_ = r.Execute("PUSH", fail)
	}
	require.Equal(t, gobreaker.StateOpen, r.State("PUSH"))

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, r.Execute("PUSH", func() error { return nil }))
	assert.Equal(t, gobreaker.StateClosed, r.State("PUSH"))
}

func TestStateChangeCallbackFires(t *testing.T) {
	var transitions []gobreaker.State
	r := NewRegistry(Settings{FailureThreshold: 1, Cooldown: time.Minute}, testLogger(),
		func(name string, from, to gobreaker.State) {
			transitions = append(transitions, to)
		})

	_ = r.Execute("EMAIL", func() error {
		return apperrors.NewTransient("EMAIL", assert.AnError)
	})

	require.NotEmpty(t, transitions)
	assert.Equal(t, gobreaker.StateOpen, transitions[len(transitions)-1])
}

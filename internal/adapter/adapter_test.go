package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/timeout"
)

type stubAdapter struct {
	channel    model.Channel
	configured bool
	sendFn     func(ctx context.Context, p *model.NotificationPayload) error
	calls      int
}

func (s *stubAdapter) Channel() model.Channel { return s.channel }
func (s *stubAdapter) IsConfigured() bool     { return s.configured }
func (s *stubAdapter) Send(ctx context.Context, p *model.NotificationPayload) error {
	s.calls++
	if s.sendFn != nil {
		return s.sendFn(ctx, p)
	}
	return nil
}

func dispatcherPayload(ch model.Channel) *model.NotificationPayload {
	return &model.NotificationPayload{
		Recipient:     "user@example.com",
		Channel:       ch,
		Type:          "WELCOME",
		Group:         "ACCOUNT",
		Data:          map[string]interface{}{"content": "hello"},
		CorrelationID: "corr-5",
	}
}

func TestDispatchRoutesToAdapter(t *testing.T) {
	stub := &stubAdapter{channel: model.ChannelEmail, configured: true}
	d := NewDispatcher(timeout.DefaultConfig(), nil, testLogger(), stub)

	err := d.Dispatch(context.Background(), dispatcherPayload(model.ChannelEmail))
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestDispatchUnknownChannel(t *testing.T) {
	d := NewDispatcher(timeout.DefaultConfig(), nil, testLogger())

	err := d.Dispatch(context.Background(), dispatcherPayload(model.ChannelSMS))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestDispatchNotConfiguredDoesNotCallAdapter(t *testing.T) {
	stub := &stubAdapter{channel: model.ChannelSMS, configured: false}
	d := NewDispatcher(timeout.DefaultConfig(), nil, testLogger(), stub)

	err := d.Dispatch(context.Background(), dispatcherPayload(model.ChannelSMS))
	assert.Equal(t, apperrors.KindNotConfigured, apperrors.KindOf(err))
	assert.False(t, apperrors.IsRetryable(err), "misconfiguration must not trigger retry storms")
	assert.Equal(t, 0, stub.calls)
}

func TestDispatchTimeoutGuard(t *testing.T) {
	stub := &stubAdapter{
		channel:    model.ChannelEmail,
		configured: true,
		sendFn: func(ctx context.Context, p *model.NotificationPayload) error {
			// Hang past the guard; the provider call keeps running but
			// its result is discarded.
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}
	cfg := timeout.Config{Email: 20 * time.Millisecond, Default: 20 * time.Millisecond}
	d := NewDispatcher(cfg, nil, testLogger(), stub)

	start := time.Now()
	err := d.Dispatch(context.Background(), dispatcherPayload(model.ChannelEmail))
	assert.Equal(t, apperrors.KindTimeout, apperrors.KindOf(err))
	assert.True(t, apperrors.IsRetryable(err), "timeout is a retryable failure class")
	assert.Less(t, time.Since(start), 150*time.Millisecond, "guard abandons the wait at the deadline")
}

func TestDispatchRateLimiterWaits(t *testing.T) {
	stub := &stubAdapter{channel: model.ChannelSMS, configured: true}
	limits := map[model.Channel]RateLimit{
		model.ChannelSMS: {RPS: 100, Burst: 1},
	}
	d := NewDispatcher(timeout.DefaultConfig(), limits, testLogger(), stub)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(context.Background(), dispatcherPayload(model.ChannelSMS)))
	}
	assert.Equal(t, 3, stub.calls)
}

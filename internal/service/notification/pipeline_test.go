package notification

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusphere/notify-api/internal/dedup"
	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/pkg/circuitbreaker"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
	"github.com/edusphere/notify-api/pkg/metrics"
	"github.com/edusphere/notify-api/pkg/retry"
)

type fakeSender struct {
	mu     sync.Mutex
	calls  map[model.Channel]int
	sendFn func(p *model.NotificationPayload) error
}

func newFakeSender(fn func(p *model.NotificationPayload) error) *fakeSender {
	return &fakeSender{calls: make(map[model.Channel]int), sendFn: fn}
}

func (f *fakeSender) Dispatch(_ context.Context, p *model.NotificationPayload) error {
	f.mu.Lock()
	f.calls[p.Channel]++
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(p)
	}
	return nil
}

func (f *fakeSender) callCount(ch model.Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ch]
}

func (f *fakeSender) setSendFn(fn func(p *model.NotificationPayload) error) {
	f.mu.Lock()
	f.sendFn = fn
	f.mu.Unlock()
}

type fakePrefs struct {
	mu       sync.Mutex
	disabled map[string]bool
	err      error
}

func prefKey(ch model.Channel, group string) string { return string(ch) + "/" + group }

func (f *fakePrefs) disable(ch model.Channel, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled == nil {
		f.disabled = make(map[string]bool)
	}
	f.disabled[prefKey(ch, group)] = true
}

func (f *fakePrefs) IsEnabled(_ context.Context, _ uuid.UUID, ch model.Channel, group string, _ model.PreferenceScope) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return !f.disabled[prefKey(ch, group)], nil
}

type fakeLogRepo struct {
	mu   sync.Mutex
	rows []*model.NotificationLog
}

func (f *fakeLogRepo) Create(_ context.Context, entry *model.NotificationLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	f.rows = append(f.rows, entry)
	return nil
}

func (f *fakeLogRepo) UpdateOutcome(_ context.Context, _ *model.NotificationLog) error {
	return nil
}

func (f *fakeLogRepo) List(_ context.Context, _ model.NotificationLogFilter) ([]*model.NotificationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.NotificationLog(nil), f.rows...), nil
}

func (f *fakeLogRepo) Count(_ context.Context, _ model.NotificationLogFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

func (f *fakeLogRepo) byChannel(ch model.Channel) *model.NotificationLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.Channel == ch {
			return r
		}
	}
	return nil
}

type fakeDLQRepo struct {
	mu      sync.Mutex
	entries []*model.DeadLetterEntry
}

func (f *fakeDLQRepo) Create(_ context.Context, entry *model.DeadLetterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeDLQRepo) Get(_ context.Context, id uuid.UUID) (*model.DeadLetterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (f *fakeDLQRepo) List(_ context.Context, _, _ int) ([]*model.DeadLetterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.DeadLetterEntry(nil), f.entries...), nil
}

func (f *fakeDLQRepo) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries), nil
}

func (f *fakeDLQRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeDLQRepo) DeleteOlderThan(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*model.DeadLetterEntry
	var removed int64
	for _, e := range f.entries {
		if e.CreatedAt.Before(cutoff) && removed < int64(batchSize) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	f.entries = kept
	return removed, nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

type pipelineEnv struct {
	pipeline *Pipeline
	sender   *fakeSender
	prefs    *fakePrefs
	logs     *fakeLogRepo
	dlq      *fakeDLQRepo
	metrics  *metrics.Metrics
}

func newPipelineEnv(t *testing.T, sendFn func(p *model.NotificationPayload) error, policy retry.Policy, breakerThreshold uint32) *pipelineEnv {
	t.Helper()

	env := &pipelineEnv{
		sender:  newFakeSender(sendFn),
		prefs:   &fakePrefs{},
		logs:    &fakeLogRepo{},
		dlq:     &fakeDLQRepo{},
		metrics: metrics.New("test"),
	}
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		FailureThreshold: breakerThreshold,
		Cooldown:         time.Minute,
	}, testLogger(), nil)
	deduper := dedup.New(dedup.NewMemoryStore(), time.Hour, time.Second)

	env.pipeline = NewPipeline(
		env.sender, env.prefs, deduper, breakers, policy,
		env.logs, env.dlq, env.metrics, testLogger(),
		WithMaxConcurrent(8),
	)
	return env
}

func invoiceEvent(channels map[model.Channel]string) *model.NotificationEvent {
	return &model.NotificationEvent{
		ID:            uuid.New(),
		Type:          "INVOICE_DUE",
		Group:         "BILLING",
		CorrelationID: uuid.NewString(),
		Recipients: []model.EventRecipient{
			{
				UserID:    uuid.New(),
				Addresses: channels,
			},
		},
		Data: map[string]interface{}{"content": "Your invoice is due."},
	}
}

func TestDispatchHonorsChannelPreferences(t *testing.T) {
	env := newPipelineEnv(t, nil, fastPolicy(3), 5)
	env.prefs.disable(model.ChannelSMS, "BILLING")

	event := invoiceEvent(map[model.Channel]string{
		model.ChannelEmail: "parent@example.com",
		model.ChannelSMS:   "+15550001111",
	})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))

	assert.Equal(t, 1, env.sender.callCount(model.ChannelEmail))
	assert.Equal(t, 0, env.sender.callCount(model.ChannelSMS), "disabled channel must not reach the provider")

	emailLog := env.logs.byChannel(model.ChannelEmail)
	require.NotNil(t, emailLog)
	assert.Equal(t, model.NotificationStatusSent, emailLog.Status)
	assert.Equal(t, 1, emailLog.AttemptCount)

	smsLog := env.logs.byChannel(model.ChannelSMS)
	require.NotNil(t, smsLog)
	assert.Equal(t, model.NotificationStatusSkipped, smsLog.Status)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(env.metrics.NotificationsSent.WithLabelValues("EMAIL", "INVOICE_DUE")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(env.metrics.NotificationsSkipped.WithLabelValues("SMS", "INVOICE_DUE")))
}

func TestDispatchRejectsMalformedEvent(t *testing.T) {
	env := newPipelineEnv(t, nil, fastPolicy(3), 5)

	event := invoiceEvent(map[model.Channel]string{model.ChannelEmail: "a@b.com"})
	event.Type = ""

	err := env.pipeline.Dispatch(context.Background(), event)
	require.Error(t, err)
	assert.Equal(t, 0, env.sender.callCount(model.ChannelEmail))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.EventsRejected))
}

func TestRetryExhaustionWritesOneDeadLetter(t *testing.T) {
	env := newPipelineEnv(t, func(p *model.NotificationPayload) error {
		return apperrors.NewTransient(p.Channel.String(), assert.AnError)
	}, fastPolicy(3), 10)

	event := invoiceEvent(map[model.Channel]string{model.ChannelEmail: "parent@example.com"})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))

	assert.Equal(t, 3, env.sender.callCount(model.ChannelEmail))

	require.Len(t, env.dlq.entries, 1)
	entry := env.dlq.entries[0]
	assert.Equal(t, model.DeadLetterReasonRetriesExhausted, entry.Reason)
	assert.Equal(t, 3, entry.Attempts)
	require.Len(t, entry.FailureHistory, 3)
	assert.Equal(t, string(apperrors.KindTransient), entry.FailureHistory[0].Kind)

	// The full payload survives for reprocessing.
	payload, err := entry.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, "parent@example.com", payload.Recipient)

	logRow := env.logs.byChannel(model.ChannelEmail)
	require.NotNil(t, logRow)
	assert.Equal(t, model.NotificationStatusFailed, logRow.Status)
	assert.Equal(t, 3, logRow.AttemptCount)
}

func TestNonRetryableFailureIsTerminalWithoutDeadLetter(t *testing.T) {
	env := newPipelineEnv(t, func(p *model.NotificationPayload) error {
		return apperrors.NewValidation(p.Channel.String(), "missing notification content")
	}, fastPolicy(3), 5)

	event := invoiceEvent(map[model.Channel]string{model.ChannelEmail: "parent@example.com"})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))

	assert.Equal(t, 1, env.sender.callCount(model.ChannelEmail), "validation errors must not be retried")
	assert.Empty(t, env.dlq.entries)

	logRow := env.logs.byChannel(model.ChannelEmail)
	require.NotNil(t, logRow)
	assert.Equal(t, model.NotificationStatusFailed, logRow.Status)
	require.NotNil(t, logRow.LastError)
}

func TestOpenBreakerShortCircuitsWithoutProviderCall(t *testing.T) {
	env := newPipelineEnv(t, func(p *model.NotificationPayload) error {
		return apperrors.NewTransient(p.Channel.String(), assert.AnError)
	}, fastPolicy(1), 2)

	// Two consecutive failures trip the SMS breaker.
	for i := 0; i < 2; i++ {
		event := invoiceEvent(map[model.Channel]string{model.ChannelSMS: "+15550001111"})
		require.NoError(t, env.pipeline.Dispatch(context.Background(), event))
	}
	require.Equal(t, 2, env.sender.callCount(model.ChannelSMS))

	event := invoiceEvent(map[model.Channel]string{model.ChannelSMS: "+15550001111"})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))

	assert.Equal(t, 2, env.sender.callCount(model.ChannelSMS), "open breaker must not invoke the provider")

	var circuitOpen int
	for _, e := range env.dlq.entries {
		if e.Reason == model.DeadLetterReasonCircuitOpen {
			circuitOpen++
		}
	}
	assert.Equal(t, 1, circuitOpen)
}

func TestDuplicateDispatchIsSuppressed(t *testing.T) {
	env := newPipelineEnv(t, nil, fastPolicy(3), 5)

	event := invoiceEvent(map[model.Channel]string{model.ChannelEmail: "parent@example.com"})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))

	assert.Equal(t, 1, env.sender.callCount(model.ChannelEmail), "second dispatch of the same correlation must not send")

	var deduped int
	rows, _ := env.logs.List(context.Background(), model.NotificationLogFilter{})
	for _, r := range rows {
		if r.Status == model.NotificationStatusDeduped {
			deduped++
		}
	}
	assert.Equal(t, 1, deduped)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.DedupHits.WithLabelValues("EMAIL")))
}

func TestRedeliverGetsFreshAttemptBudget(t *testing.T) {
	env := newPipelineEnv(t, func(p *model.NotificationPayload) error {
		return apperrors.NewTransient(p.Channel.String(), assert.AnError)
	}, fastPolicy(2), 10)

	event := invoiceEvent(map[model.Channel]string{model.ChannelEmail: "parent@example.com"})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))
	require.Len(t, env.dlq.entries, 1)
	require.Equal(t, 2, env.sender.callCount(model.ChannelEmail))

	// Provider recovers; reprocessing the entry delivers despite the
	// cached failed outcome for the same dedup key.
	env.sender.setSendFn(nil)
	require.NoError(t, env.pipeline.Redeliver(context.Background(), env.dlq.entries[0]))
	assert.Equal(t, 3, env.sender.callCount(model.ChannelEmail))
}

func TestRedeliverFailureLinksNewEntry(t *testing.T) {
	env := newPipelineEnv(t, func(p *model.NotificationPayload) error {
		return apperrors.NewTransient(p.Channel.String(), assert.AnError)
	}, fastPolicy(1), 10)

	event := invoiceEvent(map[model.Channel]string{model.ChannelEmail: "parent@example.com"})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))
	require.Len(t, env.dlq.entries, 1)
	sourceID := env.dlq.entries[0].ID

	require.Error(t, env.pipeline.Redeliver(context.Background(), env.dlq.entries[0]))

	require.Len(t, env.dlq.entries, 2)
	linked := env.dlq.entries[1]
	require.NotNil(t, linked.ReprocessedFrom)
	assert.Equal(t, sourceID, *linked.ReprocessedFrom)
}

func TestPreferenceLookupFailureFailsOpen(t *testing.T) {
	env := newPipelineEnv(t, nil, fastPolicy(3), 5)
	env.prefs.err = assert.AnError

	event := invoiceEvent(map[model.Channel]string{model.ChannelEmail: "parent@example.com"})
	require.NoError(t, env.pipeline.Dispatch(context.Background(), event))

	assert.Equal(t, 1, env.sender.callCount(model.ChannelEmail), "a broken preference store must not drop deliveries")
}

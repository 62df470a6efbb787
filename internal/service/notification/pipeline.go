// Package notification orchestrates the delivery pipeline: preference
// gate, dedup, retry with circuit breaking, terminal logging and
// dead-letter capture.
package notification

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/edusphere/notify-api/internal/adapter"
	"github.com/edusphere/notify-api/internal/dedup"
	"github.com/edusphere/notify-api/internal/model"
	"github.com/edusphere/notify-api/internal/repository"
	"github.com/edusphere/notify-api/pkg/circuitbreaker"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
	"github.com/edusphere/notify-api/pkg/metrics"
	"github.com/edusphere/notify-api/pkg/retry"
)

// Sender performs one delivery attempt for a payload.
type Sender interface {
	Dispatch(ctx context.Context, p *model.NotificationPayload) error
}

var _ Sender = (*adapter.Dispatcher)(nil)

// PreferenceChecker answers the delivery gate question.
type PreferenceChecker interface {
	IsEnabled(ctx context.Context, userID uuid.UUID, channel model.Channel, group string, scope model.PreferenceScope) (bool, error)
}

// RecipientResolver expands an event's recipient list before fan-out.
// The default passes the event's own recipients through unchanged; a
// deployment can plug in a directory lookup instead.
type RecipientResolver interface {
	Resolve(ctx context.Context, event *model.NotificationEvent) ([]model.EventRecipient, error)
}

type passthroughResolver struct{}

func (passthroughResolver) Resolve(_ context.Context, event *model.NotificationEvent) ([]model.EventRecipient, error) {
	return event.Recipients, nil
}

// PassthroughResolver returns the event's embedded recipients as-is.
func PassthroughResolver() RecipientResolver {
	return passthroughResolver{}
}

// Pipeline fans one domain event out to per-(recipient, channel)
// deliveries and drives each to a terminal outcome.
type Pipeline struct {
	sender   Sender
	prefs    PreferenceChecker
	deduper  *dedup.Deduper
	breakers *circuitbreaker.Registry
	policy   retry.Policy
	logs     repository.NotificationLogRepository
	dlq      repository.DeadLetterRepository
	resolver RecipientResolver
	metrics  *metrics.Metrics
	logger   *logger.Logger
	sem      *semaphore.Weighted
}

type Option func(*Pipeline)

// WithResolver replaces the passthrough recipient resolver.
func WithResolver(r RecipientResolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithMaxConcurrent bounds the number of in-flight deliveries across
// all events.
func WithMaxConcurrent(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(n)
		}
	}
}

func NewPipeline(
	sender Sender,
	prefs PreferenceChecker,
	deduper *dedup.Deduper,
	breakers *circuitbreaker.Registry,
	policy retry.Policy,
	logs repository.NotificationLogRepository,
	dlq repository.DeadLetterRepository,
	m *metrics.Metrics,
	log *logger.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		sender:   sender,
		prefs:    prefs,
		deduper:  deduper,
		breakers: breakers,
		policy:   policy,
		logs:     logs,
		dlq:      dlq,
		resolver: passthroughResolver{},
		metrics:  m,
		logger:   log,
		sem:      semaphore.NewWeighted(64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dispatch validates the event, resolves its recipients and delivers
// every (recipient, channel) pair concurrently. It returns after every
// delivery reached a terminal outcome; per-delivery failures are
// recorded, not returned, so one bad recipient never blocks the rest.
func (p *Pipeline) Dispatch(ctx context.Context, event *model.NotificationEvent) error {
	if err := event.Validate(); err != nil {
		p.metrics.EventsRejected.Inc()
		return apperrors.BadRequest("invalid notification event", err)
	}
	p.metrics.EventsReceived.Inc()

	recipients, err := p.resolver.Resolve(ctx, event)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range recipients {
		r := recipients[i]
		for ch, addr := range r.Addresses {
			payload := p.payloadFor(event, r, ch, addr)
			if payload == nil {
				continue
			}
			if err := p.sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer p.sem.Release(1)
				p.metrics.InFlight.Inc()
				defer p.metrics.InFlight.Dec()
				p.deliver(ctx, payload)
			}()
		}
	}
	wg.Wait()
	return nil
}

func (p *Pipeline) payloadFor(event *model.NotificationEvent, r model.EventRecipient, ch model.Channel, addr string) *model.NotificationPayload {
	if addr == "" {
		// In-app delivery addresses the user directly.
		if ch != model.ChannelInApp {
			p.logger.ZL.Warn().
				Str("channel", ch.String()).
				Str("user_id", r.UserID.String()).
				Str("correlation_id", event.CorrelationID).
				Msg("empty address for channel, skipping")
			return nil
		}
		addr = r.UserID.String()
	}

	var kind model.RecipientKind
	if r.Kinds != nil {
		kind = r.Kinds[ch]
	}

	return &model.NotificationPayload{
		Recipient:     addr,
		RecipientKind: kind,
		Channel:       ch,
		Type:          event.Type,
		Group:         event.Group,
		Data:          event.Data,
		Locale:        event.Locale,
		UserID:        r.UserID,
		ProfileType:   r.ProfileType,
		ProfileID:     r.ProfileID,
		CorrelationID: event.CorrelationID,
		Subject:       event.Subject,
		Title:         event.Title,
	}
}

// deliver drives one payload to a terminal outcome.
func (p *Pipeline) deliver(ctx context.Context, payload *model.NotificationPayload) {
	entry := &model.NotificationLog{
		UserID:        payload.UserID,
		Channel:       payload.Channel,
		Type:          payload.Type,
		Recipient:     payload.Recipient,
		Status:        model.NotificationStatusPending,
		CorrelationID: payload.CorrelationID,
		Template:      payload.DataString("template"),
		Content:       payload.Body(),
	}
	if err := p.logs.Create(ctx, entry); err != nil {
		// Delivery matters more than the audit row.
		p.logger.Error(err, "failed to create notification log", "correlation_id", payload.CorrelationID)
	}

	scope := model.PreferenceScope{ProfileType: payload.ProfileType, ProfileID: payload.ProfileID}
	enabled, err := p.prefs.IsEnabled(ctx, payload.UserID, payload.Channel, payload.Group, scope)
	if err != nil {
		// Fail open: a broken preference store must not drop deliveries.
		p.logger.Error(err, "preference lookup failed, delivering anyway",
			"user_id", payload.UserID.String(), "channel", payload.Channel.String())
		enabled = true
	}
	if !enabled {
		entry.Status = model.NotificationStatusSkipped
		p.updateLog(ctx, entry)
		p.metrics.RecordSkipped(payload.Channel.String(), payload.Type)
		p.logger.ZL.Debug().
			Str("user_id", payload.UserID.String()).
			Str("channel", payload.Channel.String()).
			Str("group", payload.Group).
			Msg("delivery skipped by user preference")
		return
	}

	key := dedup.Key(payload.CorrelationID, payload.Channel, payload.Recipient)
	_, replayed, err := p.deduper.Do(ctx, key, func(ctx context.Context) dedup.Outcome {
		return p.attempt(ctx, payload, entry, nil)
	})
	if err != nil {
		p.logger.Error(err, "dedup flight failed", "key", key)
		return
	}
	if replayed {
		// The send belonged to an earlier dispatch; this row only
		// records that the duplicate was suppressed.
		entry.Status = model.NotificationStatusDeduped
		p.updateLog(ctx, entry)
		p.metrics.RecordDedupHit(payload.Channel.String())
	}
}

// attempt runs the retry sequence for one payload, with each individual
// attempt passing through the channel's circuit breaker. It records the
// terminal outcome exactly once: log row, metrics, and the dead-letter
// entry when the failure class escalates. reprocessedFrom links an
// escalation back to the dead-letter entry being reprocessed, nil for a
// first delivery.
func (p *Pipeline) attempt(ctx context.Context, payload *model.NotificationPayload, entry *model.NotificationLog, reprocessedFrom *uuid.UUID) dedup.Outcome {
	channel := payload.Channel.String()
	start := time.Now()
	var history model.AttemptErrors

	attempts, err := retry.Do(ctx, p.policy,
		func(ctx context.Context) error {
			return p.breakers.Execute(channel, func() error {
				return p.sender.Dispatch(ctx, payload)
			})
		},
		func(attempt int, attemptErr error) {
			history = append(history, model.AttemptError{
				Attempt:    attempt,
				Kind:       string(apperrors.KindOf(attemptErr)),
				Error:      attemptErr.Error(),
				OccurredAt: time.Now(),
			})
			p.metrics.RetryAttempts.WithLabelValues(channel).Inc()
			if apperrors.IsRetryable(attemptErr) {
				entry.Status = model.NotificationStatusRetrying
			}
		},
	)

	latency := time.Since(start)
	entry.AttemptCount = attempts
	entry.LatencyMS = latency.Milliseconds()

	if err == nil {
		now := time.Now()
		entry.Status = model.NotificationStatusSent
		entry.SentAt = &now
		entry.LastError = nil
		p.updateLog(ctx, entry)
		p.metrics.RecordSent(channel, payload.Type, latency)
		p.logger.ZL.Info().
			Str("channel", channel).
			Str("type", payload.Type).
			Str("correlation_id", payload.CorrelationID).
			Int("attempts", attempts).
			Dur("latency", latency).
			Msg("notification sent")
		return dedup.Outcome{Status: model.NotificationStatusSent, At: now}
	}

	kind := apperrors.KindOf(err)
	errText := err.Error()
	entry.Status = model.NotificationStatusFailed
	entry.LastError = &errText
	p.updateLog(ctx, entry)
	p.metrics.RecordFailed(channel, payload.Type, string(kind), latency)
	p.logger.ZL.Error().
		Str("channel", channel).
		Str("type", payload.Type).
		Str("correlation_id", payload.CorrelationID).
		Str("kind", string(kind)).
		Int("attempts", attempts).
		Err(err).
		Msg("notification failed")

	// Exhausted retries and breaker rejections escalate to the DLQ;
	// validation, bad recipients and unconfigured channels are final.
	switch kind {
	case apperrors.KindTransient, apperrors.KindTimeout:
		p.writeDeadLetter(ctx, payload, history, model.DeadLetterReasonRetriesExhausted, attempts, reprocessedFrom)
	case apperrors.KindCircuitOpen:
		p.writeDeadLetter(ctx, payload, history, model.DeadLetterReasonCircuitOpen, attempts, reprocessedFrom)
	}

	return dedup.Outcome{Status: model.NotificationStatusFailed, Error: errText, At: time.Now()}
}

func (p *Pipeline) writeDeadLetter(ctx context.Context, payload *model.NotificationPayload, history model.AttemptErrors, reason string, attempts int, reprocessedFrom *uuid.UUID) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error(err, "failed to encode dead-letter payload", "correlation_id", payload.CorrelationID)
		return
	}

	firstFailed := time.Now()
	lastAttempt := firstFailed
	if len(history) > 0 {
		firstFailed = history[0].OccurredAt
		lastAttempt = history[len(history)-1].OccurredAt
	}

	dl := &model.DeadLetterEntry{
		UserID:          payload.UserID,
		Channel:         payload.Channel,
		Type:            payload.Type,
		Recipient:       payload.Recipient,
		CorrelationID:   payload.CorrelationID,
		Payload:         raw,
		Reason:          reason,
		Attempts:        attempts,
		FailureHistory:  history,
		FirstFailedAt:   firstFailed,
		LastAttemptAt:   lastAttempt,
		ReprocessedFrom: reprocessedFrom,
	}
	if err := p.dlq.Create(ctx, dl); err != nil {
		p.logger.Error(err, "failed to write dead-letter entry", "correlation_id", payload.CorrelationID)
		return
	}
	p.metrics.DLQWrites.Inc()
}

// Redeliver re-runs a dead-lettered payload with a fresh attempt budget,
// bypassing dedup so the cached failed outcome does not short-circuit
// the retry. The preference gate still applies. On failure a new
// dead-letter entry linked back to the source is written.
func (p *Pipeline) Redeliver(ctx context.Context, source *model.DeadLetterEntry) error {
	payload, err := source.DecodePayload()
	if err != nil {
		return err
	}

	scope := model.PreferenceScope{ProfileType: payload.ProfileType, ProfileID: payload.ProfileID}
	enabled, err := p.prefs.IsEnabled(ctx, payload.UserID, payload.Channel, payload.Group, scope)
	if err == nil && !enabled {
		return apperrors.NewValidation(payload.Channel.String(), "user has disabled this channel")
	}

	entry := &model.NotificationLog{
		UserID:        payload.UserID,
		Channel:       payload.Channel,
		Type:          payload.Type,
		Recipient:     payload.Recipient,
		Status:        model.NotificationStatusPending,
		CorrelationID: payload.CorrelationID,
		Template:      payload.DataString("template"),
		Content:       payload.Body(),
	}
	if err := p.logs.Create(ctx, entry); err != nil {
		p.logger.Error(err, "failed to create notification log", "correlation_id", payload.CorrelationID)
	}

	outcome := p.attempt(ctx, payload, entry, &source.ID)
	if outcome.Status != model.NotificationStatusSent {
		return apperrors.NewTransient(payload.Channel.String(), nil)
	}
	return nil
}

func (p *Pipeline) updateLog(ctx context.Context, entry *model.NotificationLog) {
	if entry.ID == uuid.Nil {
		return
	}
	if err := p.logs.UpdateOutcome(context.WithoutCancel(ctx), entry); err != nil {
		p.logger.Error(err, "failed to update notification log", "id", entry.ID.String())
	}
}

// Package adapter wraps each external transport SDK behind a uniform
// send contract. Adapters validate before any network call, normalize
// provider errors to the delivery taxonomy, and never let SDK error
// types leak past their boundary.
package adapter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
	"github.com/edusphere/notify-api/pkg/timeout"
)

// Adapter delivers one payload through one channel's provider.
type Adapter interface {
	Channel() model.Channel
	// IsConfigured reports whether the provider has usable credentials.
	// An unconfigured channel degrades gracefully instead of erroring.
	IsConfigured() bool
	Send(ctx context.Context, p *model.NotificationPayload) error
}

// RateLimit bounds outbound calls for one channel. Zero RPS disables
// the limiter.
type RateLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Dispatcher routes a payload to the adapter registered for its channel,
// applying the per-channel rate limiter and timeout guard around the
// provider call.
type Dispatcher struct {
	adapters map[model.Channel]Adapter
	limiters map[model.Channel]*rate.Limiter
	timeouts timeout.Config
	logger   *logger.Logger
}

func NewDispatcher(timeouts timeout.Config, limits map[model.Channel]RateLimit, log *logger.Logger, adapters ...Adapter) *Dispatcher {
	d := &Dispatcher{
		adapters: make(map[model.Channel]Adapter, len(adapters)),
		limiters: make(map[model.Channel]*rate.Limiter),
		timeouts: timeouts,
		logger:   log,
	}
	for _, a := range adapters {
		d.adapters[a.Channel()] = a
	}
	for ch, l := range limits {
		if l.RPS > 0 {
			burst := l.Burst
			if burst <= 0 {
				burst = 1
			}
			d.limiters[ch] = rate.NewLimiter(rate.Limit(l.RPS), burst)
		}
	}
	return d
}

// Dispatch performs one delivery attempt. Failures come back as
// DeliveryErrors; a not-configured channel is reported as such after a
// log line, without touching the provider.
func (d *Dispatcher) Dispatch(ctx context.Context, p *model.NotificationPayload) error {
	a, ok := d.adapters[p.Channel]
	if !ok {
		return apperrors.NewValidation(p.Channel.String(), "no adapter registered for channel")
	}

	if !a.IsConfigured() {
		d.logger.ZL.Warn().
			Str("channel", p.Channel.String()).
			Str("type", p.Type).
			Str("correlation_id", p.CorrelationID).
			Msg("channel provider not configured, skipping send")
		return apperrors.NewNotConfigured(p.Channel.String())
	}

	if limiter, ok := d.limiters[p.Channel]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return apperrors.NewRateLimited(p.Channel.String(), err)
		}
	}

	return timeout.Guard(ctx, p.Channel.String(), d.timeouts.For(p.Channel.String()), func(ctx context.Context) error {
		return a.Send(ctx, p)
	})
}

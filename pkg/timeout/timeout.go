// Package timeout bounds provider calls with a per-channel deadline and
// converts hangs into typed failures the retry layer understands.
package timeout

import (
	"context"
	"time"

	apperrors "github.com/edusphere/notify-api/pkg/errors"
)

// Config holds per-channel timeouts. The channel is the discriminant;
// a zero value falls back to Default.
type Config struct {
	Email    time.Duration `mapstructure:"email"`
	SMS      time.Duration `mapstructure:"sms"`
	WhatsApp time.Duration `mapstructure:"whatsapp"`
	Push     time.Duration `mapstructure:"push"`
	InApp    time.Duration `mapstructure:"in_app"`
	Default  time.Duration `mapstructure:"default"`
}

// DefaultConfig mirrors the providers' observed p99s with headroom.
func DefaultConfig() Config {
	return Config{
		Email:    15 * time.Second,
		SMS:      10 * time.Second,
		WhatsApp: 10 * time.Second,
		Push:     8 * time.Second,
		InApp:    3 * time.Second,
		Default:  10 * time.Second,
	}
}

// For returns the timeout for a channel tag.
func (c Config) For(channel string) time.Duration {
	var d time.Duration
	switch channel {
	case "EMAIL":
		d = c.Email
	case "SMS":
		d = c.SMS
	case "WHATSAPP":
		d = c.WhatsApp
	case "PUSH":
		d = c.Push
	case "IN_APP":
		d = c.InApp
	}
	if d <= 0 {
		d = c.Default
	}
	if d <= 0 {
		d = 10 * time.Second
	}
	return d
}

// Guard runs fn with a deadline. When the deadline fires the wait is
// abandoned and a timeout DeliveryError is returned; fn keeps running in
// its goroutine and its late result is discarded. Cancelling ctx aborts
// the wait the same way without cancelling sibling deliveries.
func Guard(ctx context.Context, channel string, d time.Duration, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return apperrors.NewTransient(channel, ctx.Err())
		}
		return apperrors.NewTimeout(channel, d)
	}
}

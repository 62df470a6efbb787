// Package retry bounds dispatch attempts with exponential backoff. Only
// retryable failure classes are re-attempted; everything else is
// surfaced immediately as terminal.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/edusphere/notify-api/pkg/errors"
)

// Policy configures one retry sequence.
type Policy struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// DefaultPolicy: 3 attempts, 500ms initial backoff doubling up to 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 5 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	return p
}

// Do runs op until it succeeds, fails terminally, or the attempt budget
// is exhausted. Attempts within one call are strictly sequential. notify
// is invoked after every failed attempt with the attempt number (1-based)
// and the error; it fires for terminal failures too, so callers can keep
// a complete failure history. Returns the attempt count and the last
// error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error, notify func(attempt int, err error)) (int, error) {
	p = p.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return attempt, nil
		}
		if notify != nil {
			notify(attempt, err)
		}
		if !apperrors.IsRetryable(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			return attempt, err
		}

		select {
		case <-time.After(b.NextBackOff()):
		case <-ctx.Done():
			return attempt, err
		}
	}
	return p.MaxAttempts, err
}

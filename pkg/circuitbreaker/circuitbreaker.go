// Package circuitbreaker isolates failing channels behind per-channel
// breakers built on github.com/sony/gobreaker.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

// Settings configures every breaker in a registry.
type Settings struct {
	// FailureThreshold is the number of consecutive retryable failures
	// that trips the breaker from closed to open.
	FailureThreshold uint32 `mapstructure:"failure_threshold"`
	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe.
	Cooldown time.Duration `mapstructure:"cooldown"`
	// Interval is the cyclic period of the closed state to clear counts.
	Interval time.Duration `mapstructure:"interval"`
}

func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		Interval:         60 * time.Second,
	}
}

func (s Settings) normalized() Settings {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Interval <= 0 {
		s.Interval = 60 * time.Second
	}
	return s
}

// Registry owns one breaker per channel, created lazily. State lives in
// process memory; the DLQ is the durability backstop when it resets.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings Settings
	logger   *logger.Logger
	onChange func(name string, from, to gobreaker.State)
}

// NewRegistry creates a breaker registry. onChange may be nil; when set
// it observes every state transition (used to export breaker gauges).
func NewRegistry(settings Settings, log *logger.Logger, onChange func(name string, from, to gobreaker.State)) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings.normalized(),
		logger:   log,
		onChange: onChange,
	}
}

func (r *Registry) breaker(name string) *gobreaker.CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	threshold := r.settings.FailureThreshold
	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// Exactly one probe passes through in half-open.
		MaxRequests: 1,
		Interval:    r.settings.Interval,
		Timeout:     r.settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Terminal-by-design outcomes (validation, not-configured) must
		// not trip the breaker; only retryable provider failures count.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.logger != nil {
				r.logger.ZL.Warn().
					Str("channel", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			}
			if r.onChange != nil {
				r.onChange(name, from, to)
			}
		},
	})
	r.breakers[name] = cb
	return cb
}

// Execute runs fn through the channel's breaker. When the breaker is
// open (or the half-open probe slot is taken) it short-circuits without
// invoking fn and returns a circuit-open DeliveryError.
func (r *Registry) Execute(channel string, fn func() error) error {
	_, err := r.breaker(channel).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperrors.NewCircuitOpen(channel)
	}
	return err
}

// State returns the current breaker state for a channel.
func (r *Registry) State(channel string) gobreaker.State {
	return r.breaker(channel).State()
}

// StateValue maps a gobreaker state to the exported gauge value:
// 0 closed, 1 half-open, 2 open.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

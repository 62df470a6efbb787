package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a delivery failure. Adapters normalize provider
// SDK errors to one of these kinds before the pipeline sees them.
type ErrorKind string

const (
	// KindValidation: missing content or malformed recipient for the
	// channel. Terminal, never retried.
	KindValidation ErrorKind = "validation"
	// KindNotConfigured: the provider has no usable credentials. Terminal
	// but non-escalating; the channel degrades instead of retry-storming.
	KindNotConfigured ErrorKind = "not_configured"
	// KindTransient: provider 5xx, quota, network. Retryable.
	KindTransient ErrorKind = "transient"
	// KindInvalidRecipient: the provider rejected the recipient itself
	// (e.g. unregistered push token). Terminal, triggers cleanup side
	// effects instead of retries.
	KindInvalidRecipient ErrorKind = "invalid_recipient"
	// KindTimeout: the per-channel timeout guard fired. Retryable, kept
	// distinct from provider rejections for metrics and diagnosis.
	KindTimeout ErrorKind = "timeout"
	// KindCircuitOpen: the channel breaker short-circuited the attempt.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindRateLimited: the local per-channel limiter could not admit the
	// attempt before its context expired.
	KindRateLimited ErrorKind = "rate_limited"
)

// DeliveryError is the taxonomy type carried across the dispatch path.
type DeliveryError struct {
	Kind    ErrorKind
	Channel string
	Field   string
	Message string
	Err     error
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Channel, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewMissingContent reports a required field absent from the payload,
// identified by channel and field name. Raised before any network call.
func NewMissingContent(channel, field string) *DeliveryError {
	return &DeliveryError{
		Kind:    KindValidation,
		Channel: channel,
		Field:   field,
		Message: fmt.Sprintf("missing notification content: %s", field),
	}
}

func NewValidation(channel, message string) *DeliveryError {
	return &DeliveryError{Kind: KindValidation, Channel: channel, Message: message}
}

func NewNotConfigured(channel string) *DeliveryError {
	return &DeliveryError{Kind: KindNotConfigured, Channel: channel, Message: "provider not configured"}
}

func NewTransient(channel string, err error) *DeliveryError {
	return &DeliveryError{Kind: KindTransient, Channel: channel, Message: "transient provider error", Err: err}
}

func NewInvalidRecipient(channel, reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: KindInvalidRecipient, Channel: channel, Message: reason, Err: err}
}

func NewTimeout(channel string, after time.Duration) *DeliveryError {
	return &DeliveryError{
		Kind:    KindTimeout,
		Channel: channel,
		Message: fmt.Sprintf("provider call timed out after %s", after),
	}
}

func NewCircuitOpen(channel string) *DeliveryError {
	return &DeliveryError{Kind: KindCircuitOpen, Channel: channel, Message: "circuit breaker open"}
}

func NewRateLimited(channel string, err error) *DeliveryError {
	return &DeliveryError{Kind: KindRateLimited, Channel: channel, Message: "rate limit wait aborted", Err: err}
}

// KindOf extracts the taxonomy kind, or "" for unclassified errors.
func KindOf(err error) ErrorKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsRetryable reports whether the retry layer may re-attempt after this
// error. Only transient provider failures and timeouts qualify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	}
	return false
}

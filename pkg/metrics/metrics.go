package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all delivery-engine metrics.
type Metrics struct {
	// Per-channel delivery outcomes
	NotificationsSent    *prometheus.CounterVec
	NotificationsFailed  *prometheus.CounterVec
	NotificationsSkipped *prometheus.CounterVec
	SendLatency          *prometheus.HistogramVec
	DedupHits            *prometheus.CounterVec
	RetryAttempts        *prometheus.CounterVec

	// Circuit breaker
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Dead-letter queue
	DLQWrites prometheus.Counter
	DLQPurged prometheus.Counter
	DLQSize   prometheus.Gauge

	// Pipeline
	InFlight        prometheus.Gauge
	EventsReceived  prometheus.Counter
	EventsRejected  prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics(namespace, subsystem string) *Metrics {
	return build(namespace, subsystem, true)
}

// New creates unregistered metrics, for tests and embedded use.
func New(namespace string) *Metrics {
	return build(namespace, "", false)
}

func build(namespace, subsystem string, register bool) *Metrics {
	counterVec := func(name, help string, labels []string) *prometheus.CounterVec {
		opts := prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
		if register {
			return promauto.NewCounterVec(opts, labels)
		}
		return prometheus.NewCounterVec(opts, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		opts := prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
		if register {
			return promauto.NewCounter(opts)
		}
		return prometheus.NewCounter(opts)
	}
	gauge := func(name, help string) prometheus.Gauge {
		opts := prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
		if register {
			return promauto.NewGauge(opts)
		}
		return prometheus.NewGauge(opts)
	}
	gaugeVec := func(name, help string, labels []string) *prometheus.GaugeVec {
		opts := prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}
		if register {
			return promauto.NewGaugeVec(opts, labels)
		}
		return prometheus.NewGaugeVec(opts, labels)
	}
	histogramVec := func(name, help string, labels []string) *prometheus.HistogramVec {
		opts := prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}
		if register {
			return promauto.NewHistogramVec(opts, labels)
		}
		return prometheus.NewHistogramVec(opts, labels)
	}

	return &Metrics{
		NotificationsSent: counterVec("notifications_sent_total",
			"Total notifications delivered successfully", []string{"channel", "type"}),
		NotificationsFailed: counterVec("notifications_failed_total",
			"Total notifications that reached a terminal failure", []string{"channel", "type", "reason"}),
		NotificationsSkipped: counterVec("notifications_skipped_total",
			"Total notifications skipped because the user disabled the channel", []string{"channel", "type"}),
		SendLatency: histogramVec("notification_send_duration_seconds",
			"Wall time from first attempt to terminal outcome", []string{"channel", "type"}),
		DedupHits: counterVec("notification_dedup_hits_total",
			"Total dispatches replayed from a cached terminal outcome", []string{"channel"}),
		RetryAttempts: counterVec("notification_retry_attempts_total",
			"Total retry attempts per channel", []string{"channel"}),
		BreakerState: gaugeVec("circuit_breaker_state",
			"Breaker state per channel: 0 closed, 1 half-open, 2 open", []string{"channel"}),
		BreakerTransitions: counterVec("circuit_breaker_transitions_total",
			"Breaker state transitions per channel", []string{"channel", "to"}),
		DLQWrites: counter("dead_letter_writes_total",
			"Total entries written to the dead-letter queue"),
		DLQPurged: counter("dead_letter_purged_total",
			"Total entries purged by the cleanup job"),
		DLQSize: gauge("dead_letter_queue_size",
			"Current number of dead-letter entries"),
		InFlight: gauge("pipeline_in_flight_deliveries",
			"Deliveries currently in flight"),
		EventsReceived: counter("pipeline_events_received_total",
			"Domain events accepted by the pipeline"),
		EventsRejected: counter("pipeline_events_rejected_total",
			"Domain events rejected as malformed"),
	}
}

// RecordSent fires exactly once per terminal successful delivery.
func (m *Metrics) RecordSent(channel, notifType string, latency time.Duration) {
	m.NotificationsSent.WithLabelValues(channel, notifType).Inc()
	m.SendLatency.WithLabelValues(channel, notifType).Observe(latency.Seconds())
}

// RecordFailed fires exactly once per terminal failed delivery.
func (m *Metrics) RecordFailed(channel, notifType, reason string, latency time.Duration) {
	m.NotificationsFailed.WithLabelValues(channel, notifType, reason).Inc()
	m.SendLatency.WithLabelValues(channel, notifType).Observe(latency.Seconds())
}

func (m *Metrics) RecordSkipped(channel, notifType string) {
	m.NotificationsSkipped.WithLabelValues(channel, notifType).Inc()
}

func (m *Metrics) RecordDedupHit(channel string) {
	m.DedupHits.WithLabelValues(channel).Inc()
}

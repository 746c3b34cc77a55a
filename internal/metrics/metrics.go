// Package metrics exposes Prometheus instrumentation for the bridge pipeline.
//
// All methods are safe to call on a nil *Metrics, so components can run
// without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mcp_bridge"

// Metrics holds the bridge counters.
type Metrics struct {
	MessagesReceived   prometheus.Counter
	ResponsesEmitted   prometheus.Counter
	Retries            prometheus.Counter
	FatalFailures      prometheus.Counter
	MessagesDropped    prometheus.Counter
	ShutdownEnvelopes  prometheus.Counter
	ExchangeDuration   prometheus.Histogram
	CurrentBackoffSecs prometheus.Gauge
}

// New creates the bridge metrics and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages taken from the inbound queue by the pump",
		}),
		ResponsesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_emitted_total",
			Help:      "Lines handed to the output writer, including error envelopes",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retryable transport failures that led to a backoff wait",
		}),
		FatalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fatal_failures_total",
			Help:      "Messages abandoned after a fatal transport failure",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because shutdown had already fired",
		}),
		ShutdownEnvelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdown_envelopes_total",
			Help:      "Error envelopes emitted because shutdown interrupted a retry",
		}),
		ExchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Duration of single exchanges with the remote endpoint",
			Buckets:   prometheus.DefBuckets,
		}),
		CurrentBackoffSecs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_backoff_seconds",
			Help:      "Backoff wait in progress, 0 when not retrying",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.MessagesReceived,
		m.ResponsesEmitted,
		m.Retries,
		m.FatalFailures,
		m.MessagesDropped,
		m.ShutdownEnvelopes,
		m.ExchangeDuration,
		m.CurrentBackoffSecs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// MessageReceived counts a message taken by the pump.
func (m *Metrics) MessageReceived() {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
}

// ResponseEmitted counts a line sent to the output writer.
func (m *Metrics) ResponseEmitted() {
	if m == nil {
		return
	}
	m.ResponsesEmitted.Inc()
}

// RetryScheduled counts a retry and records the wait about to start.
func (m *Metrics) RetryScheduled(wait time.Duration) {
	if m == nil {
		return
	}
	m.Retries.Inc()
	m.CurrentBackoffSecs.Set(wait.Seconds())
}

// RetryFinished clears the backoff gauge.
func (m *Metrics) RetryFinished() {
	if m == nil {
		return
	}
	m.CurrentBackoffSecs.Set(0)
}

// FatalFailure counts an abandoned message.
func (m *Metrics) FatalFailure() {
	if m == nil {
		return
	}
	m.FatalFailures.Inc()
}

// MessageDropped counts a message dropped after shutdown.
func (m *Metrics) MessageDropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

// ShutdownEnvelope counts a shutdown-during-retry envelope.
func (m *Metrics) ShutdownEnvelope() {
	if m == nil {
		return
	}
	m.ShutdownEnvelopes.Inc()
}

// ObserveExchange records the duration of one exchange.
func (m *Metrics) ObserveExchange(d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeDuration.Observe(d.Seconds())
}

package reqresp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains prometheus metrics for the reqresp service. A nil
// *Metrics records nothing.
type Metrics struct {
	OutgoingRequests        *prometheus.CounterVec
	OutgoingErrors          *prometheus.CounterVec
	OutgoingRequestDuration *prometheus.HistogramVec
	ResponseChunksReceived  *prometheus.CounterVec

	IncomingRequests        *prometheus.CounterVec
	IncomingErrors          *prometheus.CounterVec
	IncomingRequestDuration *prometheus.HistogramVec
	ResponseChunksSent      *prometheus.CounterVec

	RateLimited *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		OutgoingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_requests_total",
				Help:      "Total number of requests sent by method",
			},
			[]string{"method"},
		),
		OutgoingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outgoing_errors_total",
				Help:      "Total number of failed outgoing requests by method and error kind",
			},
			[]string{"method", "kind"},
		),
		OutgoingRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "outgoing_request_duration_seconds",
				Help:      "Duration of outgoing requests by method",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"method"},
		),
		ResponseChunksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_chunks_received_total",
				Help:      "Total number of response chunks received by method",
			},
			[]string{"method"},
		),
		IncomingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_requests_total",
				Help:      "Total number of requests received by method",
			},
			[]string{"method"},
		),
		IncomingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "incoming_errors_total",
				Help:      "Total number of error responses sent by method and result code",
			},
			[]string{"method", "code"},
		),
		IncomingRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "incoming_request_duration_seconds",
				Help:      "Duration of serving incoming requests by method",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"method"},
		),
		ResponseChunksSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_chunks_sent_total",
				Help:      "Total number of response chunks sent by method",
			},
			[]string{"method"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Total number of incoming requests rejected by the rate limiter by method",
			},
			[]string{"method"},
		),
	}
}

// Register registers all metrics with the given prometheus registry.
func (m *Metrics) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.OutgoingRequests,
		m.OutgoingErrors,
		m.OutgoingRequestDuration,
		m.ResponseChunksReceived,
		m.IncomingRequests,
		m.IncomingErrors,
		m.IncomingRequestDuration,
		m.ResponseChunksSent,
		m.RateLimited,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func (m *Metrics) RecordOutgoingRequest(method string) {
	if m != nil {
		m.OutgoingRequests.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) RecordOutgoingError(method, kind string) {
	if m != nil {
		m.OutgoingErrors.WithLabelValues(method, kind).Inc()
	}
}

func (m *Metrics) RecordOutgoingDuration(method string, duration time.Duration) {
	if m != nil {
		m.OutgoingRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordChunkReceived(method string) {
	if m != nil {
		m.ResponseChunksReceived.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) RecordIncomingRequest(method string) {
	if m != nil {
		m.IncomingRequests.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) RecordIncomingError(method string, code ResultCode) {
	if m != nil {
		m.IncomingErrors.WithLabelValues(method, code.String()).Inc()
	}
}

func (m *Metrics) RecordIncomingDuration(method string, duration time.Duration) {
	if m != nil {
		m.IncomingRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
	}
}

func (m *Metrics) RecordChunkSent(method string) {
	if m != nil {
		m.ResponseChunksSent.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) RecordRateLimited(method string) {
	if m != nil {
		m.RateLimited.WithLabelValues(method).Inc()
	}
}

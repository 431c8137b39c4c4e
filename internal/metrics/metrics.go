// Package metrics holds the Prometheus collectors of the voice server and the
// realtime session core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicebridge"

var (
	relaySessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sessions_active",
			Help:      "Number of relay sessions currently bridged to the provider",
		},
	)

	relayMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Messages forwarded by the relay",
		},
		[]string{"direction", "type"}, // direction: upstream, downstream
	)

	brokerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_requests_total",
			Help:      "Ephemeral session requests by HTTP status",
		},
		[]string{"status"},
	)

	brokerRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broker_request_duration_seconds",
			Help:      "Duration of ephemeral session requests to Azure",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	toolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by outcome",
		},
		[]string{"tool", "status"}, // status: success, error, invalid, unknown, timeout
	)

	toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	malformedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_events_total",
			Help:      "Inbound events that could not be decoded and were dropped",
		},
		[]string{"source"}, // source: session, relay
	)

	speakingTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaking_transitions_total",
			Help:      "Speaking state transitions by target state",
		},
		[]string{"state"},
	)

	allMetrics = []prometheus.Collector{
		relaySessionsActive,
		relayMessagesTotal,
		brokerRequestsTotal,
		brokerRequestDuration,
		toolCallsTotal,
		toolCallDuration,
		malformedEventsTotal,
		speakingTransitionsTotal,
	}
)

// NewRegistry returns a registry carrying every voicebridge collector plus
// the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func RelaySessionStarted() { relaySessionsActive.Inc() }
func RelaySessionEnded()   { relaySessionsActive.Dec() }

// RecordRelayMessage counts one forwarded message.
func RecordRelayMessage(direction, eventType string) {
	relayMessagesTotal.WithLabelValues(direction, eventType).Inc()
}

// RecordBrokerRequest records one POST /session outcome.
func RecordBrokerRequest(status int, durationSeconds float64) {
	brokerRequestsTotal.WithLabelValues(http.StatusText(status)).Inc()
	brokerRequestDuration.Observe(durationSeconds)
}

// RecordToolCall records one tool invocation.
func RecordToolCall(tool, status string, durationSeconds float64) {
	toolCallsTotal.WithLabelValues(tool, status).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
}

func RecordMalformedEvent(source string) {
	malformedEventsTotal.WithLabelValues(source).Inc()
}

func RecordSpeakingTransition(state string) {
	speakingTransitionsTotal.WithLabelValues(state).Inc()
}

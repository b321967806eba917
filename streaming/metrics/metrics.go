// Package metrics exposes Prometheus metrics for streaming sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thejuampi/force-streaming-go/streaming"
)

const namespace = "force_streaming"

// Collector holds the session metrics. Register it once per registry and
// attach it to sessions with Options.
type Collector struct {
	requests    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	state       prometheus.Gauge
	messages    *prometheus.CounterVec
	errors      *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with registerer. A nil
// registerer leaves them unregistered.
func NewCollector(registerer prometheus.Registerer) *Collector {
	collector := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_events_total",
			Help:      "Request lifecycle events by stage and kind.",
		}, []string{"stage", "event"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions by target state.",
		}, []string{"state"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (0=INIT .. 5=CLOSED).",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dispatched_total",
			Help:      "Data messages handed to subscription handlers.",
		}, []string{"channel"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors and diagnostics reported by the session, by code.",
		}, []string{"code"}),
	}
	if registerer != nil {
		registerer.MustRegister(collector.requests, collector.transitions, collector.state, collector.messages, collector.errors)
	}
	return collector
}

// Options returns the session options that feed this collector.
func (collector *Collector) Options() []streaming.Option {
	return []streaming.Option{
		streaming.WithObserver(collector.ObserveRequest),
		streaming.WithStateListener(collector.ObserveState),
	}
}

// ObserveRequest counts one request lifecycle event.
func (collector *Collector) ObserveRequest(event streaming.RequestEvent) {
	collector.requests.WithLabelValues(event.Stage, string(event.Kind)).Inc()
}

// ObserveState records a state transition.
func (collector *Collector) ObserveState(from streaming.State, to streaming.State) {
	collector.transitions.WithLabelValues(to.String()).Inc()
	collector.state.Set(float64(to))
}

// ObserveError counts an error passed to the session error handler.
func (collector *Collector) ObserveError(err error) {
	if err == nil {
		return
	}
	var code string
	switch streaming.ErrorCode(err) {
	case streaming.TransportError:
		code = "transport"
	case streaming.MalformedResponseError:
		code = "malformed_response"
	case streaming.AuthRejectedError:
		code = "auth_rejected"
	case streaming.HandshakeTimeoutError:
		code = "handshake_timeout"
	case streaming.ProtocolError:
		code = "protocol"
	case streaming.TransientRetryError:
		code = "transient_retry"
	case streaming.MessageHandlerError:
		code = "message_handler"
	default:
		code = "other"
	}
	collector.errors.WithLabelValues(code).Inc()
}

// CountMessages wraps handler so every delivered message is counted under
// its channel.
func (collector *Collector) CountMessages(handler streaming.MessageHandler) streaming.MessageHandler {
	return func(message *streaming.Message) error {
		collector.messages.WithLabelValues(message.Channel).Inc()
		return handler(message)
	}
}

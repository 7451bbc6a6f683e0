// Package metrics exposes pipeline and connection counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"cloudpico-viewer/internal/hub"
)

const namespace = "viewer"

var states = []hub.State{hub.Disconnected, hub.Connecting, hub.Connected, hub.Stopped}

// Metrics implements dispatch.Recorder and hub.Observer.
type Metrics struct {
	messages       prometheus.Counter
	decodeFailures prometheus.Counter
	readings       prometheus.Counter
	sinkUpdates    *prometheus.CounterVec

	state        *prometheus.GaugeVec
	stateChanges prometheus.Counter

	negotiations     *prometheus.CounterVec
	negotiateLatency prometheus.Histogram
	sessions         *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound live messages handed to the decoder.",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Messages dropped because they could not be decoded.",
		}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dispatched_total",
			Help:      "Readings appended to the series.",
		}),
		sinkUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_updates_total",
			Help:      "Chart sink updates by metric.",
		}, []string{"metric"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current live connection state, 0 otherwise.",
		}, []string{"state"}),
		stateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_state_changes_total",
			Help:      "Live connection state transitions.",
		}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiations_total",
			Help:      "Negotiation requests by result.",
		}, []string{"result"}),
		negotiateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiate_duration_seconds",
			Help:      "Latency of the negotiation request.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Live sessions ended by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.messages, m.decodeFailures, m.readings, m.sinkUpdates,
		m.state, m.stateChanges,
		m.negotiations, m.negotiateLatency, m.sessions,
	)
	m.setState(hub.Disconnected)
	return m
}

func (m *Metrics) MessageReceived()   { m.messages.Inc() }
func (m *Metrics) DecodeFailed()      { m.decodeFailures.Inc() }
func (m *Metrics) ReadingDispatched() { m.readings.Inc() }

func (m *Metrics) SinkUpdated(metric string) {
	m.sinkUpdates.WithLabelValues(metric).Inc()
}

func (m *Metrics) StateChanged(s hub.State) {
	m.stateChanges.Inc()
	m.setState(s)
}

func (m *Metrics) setState(current hub.State) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}

// NegotiationFinished records one negotiation round.
func (m *Metrics) NegotiationFinished(d time.Duration, err error) {
	m.negotiateLatency.Observe(d.Seconds())
	if err != nil {
		m.negotiations.WithLabelValues("error").Inc()
		return
	}
	m.negotiations.WithLabelValues("ok").Inc()
}

// SessionEnded records how a live session ended.
func (m *Metrics) SessionEnded(err error) {
	if err != nil {
		m.sessions.WithLabelValues("failed").Inc()
		return
	}
	m.sessions.WithLabelValues("stopped").Inc()
}

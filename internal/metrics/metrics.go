// Package metrics exposes Prometheus collectors for the realtime core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	connections   prometheus.Gauge
	events        *prometheus.CounterVec
	eventErrors   *prometheus.CounterVec
	framesDropped prometheus.Counter
	kicks         prometheus.Counter
	relayMisses   prometheus.Counter
	persistDrops  prometheus.Counter
	persistFails  *prometheus.CounterVec
	unknownSignal prometheus.Counter
	presence      *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vidtalk", Name: "connections",
			Help: "Live signal connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "events_total",
			Help: "Inbound events handled, by type.",
		}, []string{"type"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "event_errors_total",
			Help: "Inbound events that failed, by error code.",
		}, []string{"code"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "frames_dropped_total",
			Help: "Outbound frames dropped under back-pressure.",
		}),
		kicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "slow_consumer_kicks_total",
			Help: "Connections closed by the back-pressure policy.",
		}),
		relayMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "signal_relay_misses_total",
			Help: "Signals dropped because the target was offline.",
		}),
		persistDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "persist_dropped_total",
			Help: "Persistence jobs dropped because the queue was full.",
		}),
		persistFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "persist_failed_total",
			Help: "Persistence jobs that returned an error, by job.",
		}, []string{"job"}),
		unknownSignal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "signal_unrecognized_total",
			Help: "Relayed signals whose shape is not a known WebRTC message.",
		}),
		presence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtalk", Name: "presence_changes_total",
			Help: "Broadcast presence transitions, by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.connections, m.events, m.eventErrors, m.framesDropped,
		m.kicks, m.relayMisses, m.persistDrops, m.persistFails,
		m.unknownSignal, m.presence,
	)
	return m
}

// Gauges registers gauge functions sampled at scrape time.
func (m *Metrics) Gauges(rooms, voiceChannels func() int) {
	if m == nil {
		return
	}
	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vidtalk", Name: "rooms",
			Help: "Non-empty broadcast rooms.",
		}, func() float64 { return float64(rooms()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "vidtalk", Name: "voice_channels",
			Help: "Voice channels with at least one participant.",
		}, func() float64 { return float64(voiceChannels()) }),
	)
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Event(typ string) {
	if m != nil {
		m.events.WithLabelValues(typ).Inc()
	}
}

func (m *Metrics) EventError(code string) {
	if m != nil {
		m.eventErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) Kicked() {
	if m != nil {
		m.kicks.Inc()
	}
}

func (m *Metrics) RelayMiss() {
	if m != nil {
		m.relayMisses.Inc()
	}
}

func (m *Metrics) PersistDropped() {
	if m != nil {
		m.persistDrops.Inc()
	}
}

func (m *Metrics) Presence(status string) {
	if m != nil {
		m.presence.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) PersistFailed(job string) {
	if m != nil {
		m.persistFails.WithLabelValues(job).Inc()
	}
}

// SignalUnrecognized counts signals relayed despite an unfamiliar shape.
func (m *Metrics) SignalUnrecognized() {
	if m != nil {
		m.unknownSignal.Inc()
	}
}

// Package metrics exposes the process-wide counters named in spec §5
// ("Global counters (metrics) are incremented with relaxed atomics").
// prometheus's counter/gauge types are internally atomic, which satisfies
// that requirement without hand-rolled atomics in callers. This package
// intentionally does not serve an HTTP endpoint itself — that would stray
// into the administrative-RPC Non-goal from spec §1; it only registers
// into a Registry an external scraper (owned by the surrounding shell) can
// read.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set is the bundle of counters/gauges the h2 and quic packages increment.
type Set struct {
	ConnectionsOpened   prometheus.Counter
	ConnectionsClosed   prometheus.Counter
	StreamsOpened       prometheus.Counter
	StreamsClosed       prometheus.Counter
	StreamErrors        prometheus.Counter
	GoAwaySent          prometheus.Counter
	SlowConnections     prometheus.Counter
	CongestionEvents    prometheus.Counter
	BytesInFlight       prometheus.Gauge
	CongestionWindow    prometheus.Gauge
	HandshakesCompleted prometheus.Counter
	Healthy             prometheus.Gauge
}

// NewSet registers a fresh Set into reg (pass prometheus.NewRegistry() in
// tests to avoid collisions with the default global registry).
func NewSet(reg prometheus.Registerer) *Set {
	s := &Set{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_connections_opened_total",
			Help: "Connections accepted or initiated.",
		}),
		ConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_connections_closed_total",
			Help: "Connections fully closed.",
		}),
		StreamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_streams_opened_total",
			Help: "Streams created.",
		}),
		StreamsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_streams_closed_total",
			Help: "Streams released.",
		}),
		StreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_stream_errors_total",
			Help: "Stream-level protocol errors.",
		}),
		GoAwaySent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_goaway_sent_total",
			Help: "GOAWAY frames sent.",
		}),
		SlowConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_slow_connections_total",
			Help: "Connections whose open-to-close time exceeded the slow threshold.",
		}),
		CongestionEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_congestion_events_total",
			Help: "Congestion window reductions.",
		}),
		BytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "h2quic_bytes_in_flight",
			Help: "Aggregate unacknowledged bytes across tracked QUIC connections.",
		}),
		CongestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "h2quic_congestion_window_bytes",
			Help: "Most recently observed congestion window.",
		}),
		HandshakesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "h2quic_handshakes_completed_total",
			Help: "QUIC/TLS handshakes completed.",
		}),
		Healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "h2quic_healthy",
			Help: "1 if the process considers itself healthy; probed by the external supervisor.",
		}),
	}
	reg.MustRegister(
		s.ConnectionsOpened, s.ConnectionsClosed, s.StreamsOpened, s.StreamsClosed,
		s.StreamErrors, s.GoAwaySent, s.SlowConnections, s.CongestionEvents,
		s.BytesInFlight, s.CongestionWindow, s.HandshakesCompleted, s.Healthy,
	)
	s.Healthy.Set(1)
	return s
}

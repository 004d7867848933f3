package conn

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for a connection. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	connected     prometheus.Gauge
	connects      prometheus.Counter
	disconnects   *prometheus.CounterVec
	bytesReceived prometheus.Counter
	bytesSent     prometheus.Counter
	linesReceived prometheus.Counter
	linesSent     prometheus.Counter
	messages      *prometheus.CounterVec
}

// NewMetrics creates the connection collectors and registers them with reg
// when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mudrelay_connected",
			Help: "1 while the game connection is up.",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudrelay_connects_total",
			Help: "Successful connections since start.",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudrelay_disconnects_total",
			Help: "Disconnects by cause.",
		}, []string{"cause"}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudrelay_bytes_received_total",
			Help: "Raw bytes read from the game server.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudrelay_bytes_sent_total",
			Help: "Raw bytes written to the game server.",
		}),
		linesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudrelay_lines_received_total",
			Help: "Decoded lines delivered to the line listener.",
		}),
		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mudrelay_lines_sent_total",
			Help: "Lines queued for the game server.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mudrelay_gmcp_messages_total",
			Help: "GMCP messages received by top-level package.",
		}, []string{"name"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.connected,
			m.connects,
			m.disconnects,
			m.bytesReceived,
			m.bytesSent,
			m.linesReceived,
			m.linesSent,
			m.messages,
		)
	}
	return m
}

func (m *Metrics) onConnect() {
	if m == nil {
		return
	}
	m.connected.Set(1)
	m.connects.Inc()
}

func (m *Metrics) onDisconnect(cause string) {
	if m == nil {
		return
	}
	m.connected.Set(0)
	m.disconnects.WithLabelValues(cause).Inc()
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) sent(n int) {
	if m != nil {
		m.bytesSent.Add(float64(n))
	}
}

func (m *Metrics) line() {
	if m != nil {
		m.linesReceived.Inc()
	}
}

func (m *Metrics) queued(n int) {
	if m != nil {
		m.linesSent.Add(float64(n))
	}
}

// gmcpPackages are the top-level GMCP packages counted under their own
// label. Anything else the server sends is counted as "other".
var gmcpPackages = map[string]bool{
	"core": true, "char": true, "room": true, "comm": true, "group": true,
	"client": true, "external": true, "ire": true, "mud": true,
}

// messageLabel reduces a GMCP message name to a bounded label value.
func messageLabel(name string) string {
	pkg, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(name)), ".")
	if gmcpPackages[pkg] {
		return pkg
	}
	return "other"
}

func (m *Metrics) message(name string) {
	if m != nil {
		m.messages.WithLabelValues(messageLabel(name)).Inc()
	}
}

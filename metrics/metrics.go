// Package metrics exposes Prometheus collectors for the presence hub.
//
// A nil *Metrics is valid and records nothing, which keeps tests and tools
// free of registry plumbing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "locshare"

// Metrics groups the hub's collectors.
type Metrics struct {
	reg prometheus.Registerer

	connections     prometheus.Gauge
	framesReceived  *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	framesSent      prometheus.Counter
	sessionsCreated *prometheus.CounterVec
	sessionsReaped  prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by message type.",
		}, []string{"type"}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped or outbound frames not queued, by reason.",
		}, []string{"reason"}),
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames queued for delivery.",
		}),
		sessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created, by how (create or implicit join).",
		}, []string{"how"}),
		sessionsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Sessions deleted after their last participant went offline.",
		}),
	}
}

// WatchSessions exports count as the live session gauge.
func (m *Metrics) WatchSessions(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Live sessions.",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) FrameReceived(msgType string) {
	if m != nil {
		m.framesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) FrameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) SessionCreated(implicit bool) {
	if m == nil {
		return
	}
	how := "create"
	if implicit {
		how = "implicit_join"
	}
	m.sessionsCreated.WithLabelValues(how).Inc()
}

func (m *Metrics) SessionReaped() {
	if m != nil {
		m.sessionsReaped.Inc()
	}
}

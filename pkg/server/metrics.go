package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parleychat/parley/pkg/protocol"
)

// Metrics holds the server's Prometheus instruments. Packet counters are
// labeled with the wire type name.
type Metrics struct {
	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter
	liveChannels         prometheus.Gauge
	broadcastFanout      prometheus.Histogram
	packetsReceived      *prometheus.CounterVec
	packetsSent          *prometheus.CounterVec
}

// NewMetrics registers the server instruments with the given registerer.
// Tests pass their own registry so repeated registration never collides.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "The number of currently connected users",
		}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_created_total",
			Help: "The total number of accepted connections",
		}),
		sessionsDisconnected: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_sessions_disconnected_total",
			Help: "The total number of closed connections",
		}),
		liveChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_live_channels",
			Help: "The number of live channels, the Global channel included",
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_broadcast_fanout",
			Help:    "The number of members each broadcast was delivered to",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_packets_received_total",
			Help: "Packets received from clients, by wire type",
		}, []string{"type"}),
		packetsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_packets_sent_total",
			Help: "Packets sent to clients, by wire type",
		}, []string{"type"}),
	}
}

// RecordActiveSessions sets the connected-user gauge.
func (m *Metrics) RecordActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// RecordSessionCreated counts an accepted connection.
func (m *Metrics) RecordSessionCreated() {
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected counts a closed connection.
func (m *Metrics) RecordSessionDisconnected() {
	m.sessionsDisconnected.Inc()
}

// RecordLiveChannels sets the live-channel gauge.
func (m *Metrics) RecordLiveChannels(n int) {
	m.liveChannels.Set(float64(n))
}

// RecordBroadcast observes the fan-out size of one broadcast.
func (m *Metrics) RecordBroadcast(fanout int) {
	m.broadcastFanout.Observe(float64(fanout))
}

// RecordPacketReceived counts one inbound packet.
func (m *Metrics) RecordPacketReceived(typ protocol.PacketType) {
	m.packetsReceived.WithLabelValues(typ.String()).Inc()
}

// RecordPacketSent counts one outbound packet.
func (m *Metrics) RecordPacketSent(typ protocol.PacketType) {
	m.packetsSent.WithLabelValues(typ.String()).Inc()
}

package host

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the peers of a Node. A nil *Metrics records nothing.
type Metrics struct {
	Peers                *prometheus.GaugeVec
	PeerConnectsTotal    prometheus.Counter
	PeerDisconnectsTotal prometheus.Counter
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Peers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "libp2p_peers",
			Help:      "Number of connections to peers by direction",
		}, []string{"direction"}),
		PeerConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_connects_total",
			Help:      "Total number of peer connections opened",
		}),
		PeerDisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_disconnects_total",
			Help:      "Total number of peer connections closed",
		}),
	}
}

// Register registers all metrics with the given prometheus registry.
func (m *Metrics) Register(registry *prometheus.Registry) error {
	for _, collector := range []prometheus.Collector{
		m.Peers,
		m.PeerConnectsTotal,
		m.PeerDisconnectsTotal,
	} {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

func (m *Metrics) SetPeers(direction string, value int) {
	if m == nil {
		return
	}

	m.Peers.WithLabelValues(direction).Set(float64(value))
}

func (m *Metrics) RecordConnect() {
	if m == nil {
		return
	}

	m.PeerConnectsTotal.Inc()
}

func (m *Metrics) RecordDisconnect() {
	if m == nil {
		return
	}

	m.PeerDisconnectsTotal.Inc()
}

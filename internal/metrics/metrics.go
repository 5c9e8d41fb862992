// Package metrics exposes Prometheus counters and gauges describing the
// capture pipeline's health: store size, decoder throughput, queue
// depth, and dropped/truncated record counts. None of the example pack
// wires prometheus/client_golang for its own exposition (only as a
// client querying someone else's Prometheus), so this package follows
// the library's own canonical registration/promhttp idiom rather than a
// pack-specific pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the counters/gauges one capture session updates. A
// fresh Registry should be created per process; it is safe for
// concurrent use because the underlying prometheus collectors are.
type Registry struct {
	PacketsDecoded    prometheus.Counter
	PacketsMalformed  prometheus.Counter
	TransfersClosed   *prometheus.CounterVec // labeled by status
	QueueDepth        prometheus.Gauge
	StorePackets      prometheus.Gauge
	StoreTransactions prometheus.Gauge
	StoreTransfers    prometheus.Gauge
}

// New registers all collectors against reg and returns the handles used
// to update them. Pass prometheus.NewRegistry() for an isolated registry
// (tests) or prometheus.DefaultRegisterer for the process-wide one.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		PacketsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "packetry_packets_decoded_total",
			Help: "Total packets appended to the capture store.",
		}),
		PacketsMalformed: factory.NewCounter(prometheus.CounterOpts{
			Name: "packetry_packets_malformed_total",
			Help: "Total packets that failed CRC or length validation.",
		}),
		TransfersClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "packetry_transfers_closed_total",
			Help: "Total transfers closed, labeled by final status.",
		}, []string{"status"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "packetry_capture_queue_depth",
			Help: "Events pulled from the capture source but not yet decoded.",
		}),
		StorePackets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "packetry_store_packets",
			Help: "Current packet count in the capture store.",
		}),
		StoreTransactions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "packetry_store_transactions",
			Help: "Current transaction count in the capture store.",
		}),
		StoreTransfers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "packetry_store_transfers",
			Help: "Current transfer count in the capture store.",
		}),
	}
}

// Handler returns the HTTP handler serving this registry's metrics in
// the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Package telemetry exposes the hub's Prometheus metrics.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	MessagesIngested  prometheus.Counter
	PaidPersisted     prometheus.Counter
	ProtocolErrors    prometheus.Counter
	ValidationErrors  prometheus.Counter
	EnvelopesDropped  prometheus.Counter
	ClientsEvicted    prometheus.Counter
	PersistRetries    prometheus.Counter

	// Gauges
	ConnectedClients *prometheus.GaugeVec
	DegradedMode     prometheus.Gauge
	TotalViewers     prometheus.Gauge
)

// Init registers all metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "chathub_messages_ingested_total", Help: "Chat messages accepted from producers"})
		PaidPersisted = promauto.NewCounter(prometheus.CounterOpts{Name: "chathub_paid_messages_persisted_total", Help: "Paid messages written to the durable log"})
		ProtocolErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chathub_protocol_errors_total", Help: "Malformed or misdirected inbound frames rejected"})
		ValidationErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "chathub_validation_errors_total", Help: "Messages dropped for missing identity information"})
		EnvelopesDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chathub_envelopes_dropped_total", Help: "Non-critical envelopes dropped for slow viewers"})
		ClientsEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "chathub_clients_evicted_total", Help: "Connections evicted for liveness timeout or backlog"})
		PersistRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "chathub_persist_retries_total", Help: "Paid message write attempts that needed a retry"})
		ConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "chathub_connected_clients", Help: "Currently registered connections"}, []string{"role"})
		DegradedMode = promauto.NewGauge(prometheus.GaugeOpts{Name: "chathub_degraded_mode", Help: "1 while paid message persistence is failing"})
		TotalViewers = promauto.NewGauge(prometheus.GaugeOpts{Name: "chathub_viewers_total", Help: "Sum of reported viewer counts across channels"})
	})
}

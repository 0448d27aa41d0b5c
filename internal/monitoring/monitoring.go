package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide set of Prometheus collectors the
// executor and adapters update as they dispatch commands and move
// bytes over the wire.
type Metrics struct {
	MessagesSent          *prometheus.CounterVec
	MessagesReceived      *prometheus.CounterVec
	BytesSent             prometheus.Counter
	BytesReceived         prometheus.Counter
	ReassemblyFailures    prometheus.Counter
	SyncRequests          prometheus.Counter
	EphemeralBroadcasts   prometheus.Counter
	PermissionDenials     prometheus.Counter
	EstablishedChannels   prometheus.Gauge
	SubscribedPeers       prometheus.Gauge
	PendingReassembly     prometheus.Gauge
	SyncResponseLatency   prometheus.Histogram
	CommandDispatchLatency prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		MessagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncbase_messages_sent_total",
			Help: "Total number of channel messages sent, by message type",
		}, []string{"type"}),
		MessagesReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "syncbase_messages_received_total",
			Help: "Total number of channel messages received, by message type",
		}, []string{"type"}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncbase_bytes_sent_total",
			Help: "Total number of wire bytes sent",
		}),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncbase_bytes_received_total",
			Help: "Total number of wire bytes received",
		}),
		ReassemblyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncbase_reassembly_failures_total",
			Help: "Total number of fragment groups that failed to reassemble",
		}),
		SyncRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncbase_sync_requests_total",
			Help: "Total number of sync requests handled",
		}),
		EphemeralBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncbase_ephemeral_broadcasts_total",
			Help: "Total number of ephemeral presence broadcasts sent",
		}),
		PermissionDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "syncbase_permission_denials_total",
			Help: "Total number of reveal/sync operations denied by a permission rule",
		}),
		EstablishedChannels: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncbase_established_channels",
			Help: "Number of channels currently in the established state",
		}),
		SubscribedPeers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncbase_subscribed_peers",
			Help: "Number of distinct peers with at least one established channel",
		}),
		PendingReassembly: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "syncbase_pending_reassembly_groups",
			Help: "Number of fragment groups awaiting completion",
		}),
		SyncResponseLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncbase_sync_response_latency_seconds",
			Help:    "Time from a sync request to its response being sent",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		CommandDispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "syncbase_command_dispatch_duration_seconds",
			Help:    "Time taken by the executor to carry out one Cmd",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

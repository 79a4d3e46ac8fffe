package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/cdpsession/pkg/breaker"
)

// Metrics holds the core session-layer metrics shared across components
type Metrics struct {
	// Command round-trips
	CommandsSent    *prometheus.CounterVec
	RepliesMatched  *prometheus.CounterVec
	RequestTimeouts *prometheus.CounterVec
	ProtocolErrors  *prometheus.CounterVec

	// Unsolicited protocol events passed through unconsumed
	EventsReceived prometheus.Counter

	// Connection lifecycle
	ConnectionState prometheus.Gauge
	Reconnects      prometheus.Counter
	HeartbeatRTT    prometheus.Histogram

	// Resilience policy
	BreakerState *prometheus.GaugeVec

	// Target discovery
	DiscoveryAttempts prometheus.Counter
}

// NewMetrics creates the core session metrics
func NewMetrics() *Metrics {
	return &Metrics{
		CommandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpsession",
			Subsystem: "session",
			Name:      "commands_sent_total",
			Help:      "Total protocol commands written to the channel",
		}, []string{"method"}),

		RepliesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpsession",
			Subsystem: "session",
			Name:      "replies_matched_total",
			Help:      "Total replies matched to a pending request by id",
		}, []string{"method"}),

		RequestTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpsession",
			Subsystem: "session",
			Name:      "request_timeouts_total",
			Help:      "Total per-request timeouts",
		}, []string{"method"}),

		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdpsession",
			Subsystem: "session",
			Name:      "protocol_errors_total",
			Help:      "Total remote-reported command failures",
		}, []string{"method"}),

		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdpsession",
			Subsystem: "session",
			Name:      "events_received_total",
			Help:      "Total unsolicited protocol events received",
		}),

		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cdpsession",
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state (0=connecting 1=open 2=degraded 3=reconnecting 4=closed)",
		}),

		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdpsession",
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total successful reconnections",
		}),

		HeartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdpsession",
			Subsystem: "connection",
			Name:      "heartbeat_rtt_seconds",
			Help:      "Round-trip time of heartbeat ping/pong probes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdpsession",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Circuit breaker state per operation (0=closed 1=open 2=half-open)",
		}, []string{"operation"}),

		DiscoveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdpsession",
			Subsystem: "discovery",
			Name:      "attempts_total",
			Help:      "Total target discovery attempts",
		}),
	}
}

// ObserveBreakerState records a breaker state transition on the gauge vector.
// Intended for use as a breaker.StateChangeCallback.
func (m *Metrics) ObserveBreakerState(name string, _, to breaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
}

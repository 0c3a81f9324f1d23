package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors maintained by the engine.
// Every counter mirrors state the core already tracks; nothing here is
// consulted by engine logic.
type Metrics struct {
	// Discovery metrics
	RadiosDiscovered prometheus.Counter // Announcements that created a new descriptor
	RadiosEvicted    prometheus.Counter // Descriptors dropped by the staleness sweep
	RadiosKnown      prometheus.Gauge   // Current size of the descriptor table
	MalformedPackets prometheus.Counter // Dropped discovery datagrams

	// Session metrics
	CommandsSent     prometheus.Counter // Commands written to the wire
	CommandTimeouts  prometheus.Counter // Commands resolved by their deadline
	CommandsRejected prometheus.Counter // Non-zero result codes
	CommandsCanceled prometheus.Counter // Commands canceled by session closure
	StatusLines      prometheus.Counter // Unsolicited status lines received
	MalformedLines   prometheus.Counter // Dropped unparseable session lines

	// Stream metrics (by kind: audio, iq, spectrum)
	StreamPackets   *prometheus.CounterVec // Decoded packets delivered
	StreamLost      *prometheus.CounterVec // Packets lost to sequence gaps
	StreamStale     *prometheus.CounterVec // Stale/duplicate packets discarded
	StreamMalformed *prometheus.CounterVec // Packets dropped by header validation
}

// New creates the engine's collectors on the given registerer. A nil
// registerer gets a private registry, which keeps tests that build several
// engines from tripping duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RadiosDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_radios_discovered_total",
			Help: "Discovery announcements that created a new descriptor",
		}),
		RadiosEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_radios_evicted_total",
			Help: "Descriptors evicted after missing their refresh window",
		}),
		RadiosKnown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flexlink_radios_known",
			Help: "Current number of descriptors in the discovery table",
		}),
		MalformedPackets: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_discovery_malformed_total",
			Help: "Discovery datagrams dropped as malformed",
		}),
		CommandsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_commands_sent_total",
			Help: "Commands written to the command session",
		}),
		CommandTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_command_timeouts_total",
			Help: "Commands that expired without a matching response",
		}),
		CommandsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_commands_rejected_total",
			Help: "Commands answered with a non-zero result code",
		}),
		CommandsCanceled: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_commands_canceled_total",
			Help: "Pending commands canceled by session closure",
		}),
		StatusLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_status_lines_total",
			Help: "Unsolicited status lines received",
		}),
		MalformedLines: factory.NewCounter(prometheus.CounterOpts{
			Name: "flexlink_session_malformed_lines_total",
			Help: "Session lines dropped as unparseable",
		}),
		StreamPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_stream_packets_total",
			Help: "Stream packets decoded and delivered",
		}, []string{"kind"}),
		StreamLost: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_stream_lost_total",
			Help: "Stream packets lost, estimated from sequence gaps",
		}, []string{"kind"}),
		StreamStale: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_stream_stale_total",
			Help: "Stale or duplicate stream packets discarded",
		}, []string{"kind"}),
		StreamMalformed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "flexlink_stream_malformed_total",
			Help: "Stream packets dropped by header validation",
		}, []string{"kind"}),
	}
}

// Package metrics exposes Prometheus instrumentation for the RTP session
// and ICE agent. The engine never starts an HTTP listener itself — exporting
// metrics is a host-application concern — it only registers collectors
// against a prometheus.Registerer the host supplies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric the engine produces. Construct one per
// process with New and pass it down to RTP sessions / the ICE agent; a nil
// *Collectors is valid and every method becomes a no-op, so instrumentation
// is opt-in.
type Collectors struct {
	PacketsSent     *prometheus.CounterVec // labels: mid, kind(rtp|rtcp)
	PacketsReceived *prometheus.CounterVec
	BytesSent       *prometheus.CounterVec
	BytesReceived   *prometheus.CounterVec
	PacketsLost     *prometheus.CounterVec
	Jitter          *prometheus.GaugeVec // labels: mid
	NacksSent       *prometheus.CounterVec
	RetransmitsSent *prometheus.CounterVec
	HandshakeTime   prometheus.Histogram
	IceGatherTime   prometheus.Histogram
	ConnectionState *prometheus.GaugeVec // labels: state; 1 for current state, 0 otherwise
}

// New constructs collectors under the given namespace/subsystem and
// registers them with reg. Pass prometheus.DefaultRegisterer to use the
// global registry, or nil to skip registration (metrics are still
// updated, just not exported).
func New(namespace, subsystem string, reg prometheus.Registerer) *Collectors {
	factory := promauto(reg)

	c := &Collectors{
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "packets_sent_total",
			Help: "RTP/RTCP packets sent, by mid and kind.",
		}, []string{"mid", "kind"}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "packets_received_total",
			Help: "RTP/RTCP packets received, by mid and kind.",
		}, []string{"mid", "kind"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bytes_sent_total",
			Help: "Payload bytes sent, by mid.",
		}, []string{"mid"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "bytes_received_total",
			Help: "Payload bytes received, by mid.",
		}, []string{"mid"}),
		PacketsLost: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "packets_lost_total",
			Help: "Packets reported lost by the jitter buffer or NACK handler, by mid.",
		}, []string{"mid"}),
		Jitter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "jitter_timestamp_units",
			Help: "RFC 3550 interarrival jitter estimate, by mid.",
		}, []string{"mid"}),
		NacksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "nacks_sent_total",
			Help: "Generic NACK feedback packets sent, by mid.",
		}, []string{"mid"}),
		RetransmitsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "retransmits_sent_total",
			Help: "Packets retransmitted (RTX or plain) in response to a NACK, by mid.",
		}, []string{"mid"}),
		HandshakeTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "dtls_handshake_seconds",
			Help:    "Time from first ClientHello to a completed DTLS handshake.",
			Buckets: prometheus.DefBuckets,
		}),
		IceGatherTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "ice_gather_seconds",
			Help:    "Time spent gathering local ICE candidates.",
			Buckets: prometheus.DefBuckets,
		}),
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "connection_state",
			Help: "1 for the peer connection's current state, 0 otherwise.",
		}, []string{"state"}),
	}
	return c
}

// promauto mirrors github.com/prometheus/client_golang/prometheus/promauto's
// factory, parameterized on an explicit Registerer (including nil) so
// construction never panics when the host opts out of a global registry.
type factory struct{ reg prometheus.Registerer }

func promautoFunc(reg prometheus.Registerer) factory { return factory{reg} }

// kept as a function value so New reads naturally; see promautoFunc above.
var promauto = promautoFunc

func (f factory) register(c prometheus.Collector) {
	if f.reg == nil {
		return
	}
	_ = f.reg.Register(c)
}

func (f factory) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	v := prometheus.NewCounterVec(opts, labels)
	f.register(v)
	return v
}

func (f factory) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) *prometheus.GaugeVec {
	v := prometheus.NewGaugeVec(opts, labels)
	f.register(v)
	return v
}

func (f factory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	v := prometheus.NewHistogram(opts)
	f.register(v)
	return v
}

// IncPacketsSent is a nil-safe helper so call sites don't need to guard
// every metrics update with `if c != nil`.
func (c *Collectors) IncPacketsSent(mid, kind string, n int) {
	if c == nil {
		return
	}
	c.PacketsSent.WithLabelValues(mid, kind).Add(float64(n))
}

func (c *Collectors) IncPacketsReceived(mid, kind string, n int) {
	if c == nil {
		return
	}
	c.PacketsReceived.WithLabelValues(mid, kind).Add(float64(n))
}

func (c *Collectors) AddBytesSent(mid string, n int) {
	if c == nil {
		return
	}
	c.BytesSent.WithLabelValues(mid).Add(float64(n))
}

func (c *Collectors) AddBytesReceived(mid string, n int) {
	if c == nil {
		return
	}
	c.BytesReceived.WithLabelValues(mid).Add(float64(n))
}

func (c *Collectors) AddPacketsLost(mid string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.PacketsLost.WithLabelValues(mid).Add(float64(n))
}

func (c *Collectors) SetJitter(mid string, jitter float64) {
	if c == nil {
		return
	}
	c.Jitter.WithLabelValues(mid).Set(jitter)
}

func (c *Collectors) IncNacksSent(mid string) {
	if c == nil {
		return
	}
	c.NacksSent.WithLabelValues(mid).Inc()
}

func (c *Collectors) IncRetransmitsSent(mid string) {
	if c == nil {
		return
	}
	c.RetransmitsSent.WithLabelValues(mid).Inc()
}

func (c *Collectors) SetConnectionState(previous, current string) {
	if c == nil {
		return
	}
	if previous != "" {
		c.ConnectionState.WithLabelValues(previous).Set(0)
	}
	c.ConnectionState.WithLabelValues(current).Set(1)
}

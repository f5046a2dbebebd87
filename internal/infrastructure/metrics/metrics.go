// Package metrics exposes node counters to Prometheus.
//
// Components keep their own atomic counters; Collector reads them at scrape
// time through CounterFunc and GaugeFunc, so no component imports Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/meshlink/internal/mesh"
	"github.com/nerrad567/meshlink/internal/subscription"
	"github.com/nerrad567/meshlink/internal/uplink"
)

const namespace = "meshlink"

// QueueSource is the outbound publish queue.
type QueueSource interface {
	Len() int
	Cap() int
	Enqueued() uint64
	Dropped() uint64
}

// UplinkSource is the broker connection manager.
type UplinkSource interface {
	Stats() uplink.Stats
	IsConnected() bool
}

// RegistrySource is the inbound subscription registry.
type RegistrySource interface {
	Stats() subscription.Stats
}

// RoutingSource is the routing-table synchroniser.
type RoutingSource interface {
	Stats() mesh.Stats
	Table() []mesh.Address
}

// Sources lists what a Collector reads. Nil sources are skipped.
type Sources struct {
	Queue    QueueSource
	Uplink   UplinkSource
	Registry RegistrySource
	Routing  RoutingSource
}

// Collector is a prometheus.Collector over the node's components.
type Collector struct {
	metrics []prometheus.Collector
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds the metric set for src.
func NewCollector(src Sources) *Collector {
	c := &Collector{}

	if q := src.Queue; q != nil {
		c.gauge("queue", "length", "Messages waiting in the publish queue.", func() float64 { return float64(q.Len()) })
		c.gauge("queue", "capacity", "Capacity of the publish queue.", func() float64 { return float64(q.Cap()) })
		c.counter("queue", "enqueued_total", "Messages accepted by the publish queue.", func() float64 { return float64(q.Enqueued()) })
		c.counter("queue", "dropped_total", "Messages rejected because the publish queue was full.", func() float64 { return float64(q.Dropped()) })
	}

	if u := src.Uplink; u != nil {
		c.gauge("uplink", "connected", "1 while the broker session is up.", func() float64 {
			if u.IsConnected() {
				return 1
			}
			return 0
		})
		c.gauge("uplink", "inflight", "Publish slots awaiting acknowledgement.", func() float64 { return float64(u.Stats().Inflight) })
		c.counter("uplink", "published_total", "Messages handed to the broker session.", func() float64 { return float64(u.Stats().Published) })
		c.counter("uplink", "acked_total", "Publishes acknowledged by the broker.", func() float64 { return float64(u.Stats().Acked) })
		c.counter("uplink", "dropped_total", "In-flight publishes discarded by a clean session.", func() float64 { return float64(u.Stats().Dropped) })
		c.counter("uplink", "reconnects_total", "Broker sessions opened after the first.", func() float64 { return float64(u.Stats().Reconnects) })
	}

	if r := src.Registry; r != nil {
		c.counter("inbound", "delivered_total", "Inbound messages handled.", func() float64 { return float64(r.Stats().Delivered) })
		c.counter("inbound", "dropped_total", "Inbound messages dropped on a full topic queue.", func() float64 { return float64(r.Stats().Dropped) })
		c.counter("inbound", "unknown_topic_total", "Inbound messages for unregistered topics.", func() float64 { return float64(r.Stats().Unknown) })
		c.counter("inbound", "rejected_total", "Dispatches refused by the saturated handler pool.", func() float64 { return float64(r.Stats().Rejected) })
		c.counter("inbound", "handler_failures_total", "Handler invocations that returned an error.", func() float64 { return float64(r.Stats().Failed) })
		c.counter("inbound", "handler_panics_total", "Handler invocations that panicked.", func() float64 { return float64(r.Stats().Panics) })
	}

	if m := src.Routing; m != nil {
		c.gauge("routing", "peers", "Entries in the routing table.", func() float64 { return float64(len(m.Table())) })
		c.counter("routing", "broadcasts_total", "Routing table broadcasts by the root.", func() float64 { return float64(m.Stats().Broadcasts) })
		c.counter("routing", "frames_sent_total", "Routing frames sent to peers.", func() float64 { return float64(m.Stats().FramesSent) })
		c.counter("routing", "send_failures_total", "Routing frames that failed to send.", func() float64 { return float64(m.Stats().SendFailures) })
		c.counter("routing", "frames_received_total", "Routing frames accepted.", func() float64 { return float64(m.Stats().FramesReceived) })
		c.counter("routing", "invalid_frames_total", "Routing frames discarded as malformed.", func() float64 { return float64(m.Stats().InvalidFrames) })
	}

	return c
}

func (c *Collector) counter(subsystem, name, help string, fn func() float64) {
	c.metrics = append(c.metrics, prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (c *Collector) gauge(subsystem, name, help string, fn func() float64) {
	c.metrics = append(c.metrics, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.metrics {
		m.Collect(ch)
	}
}

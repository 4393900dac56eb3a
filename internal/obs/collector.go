package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "skstream"

// Collector exposes Metrics to a prometheus registry.
type Collector struct {
	metrics *Metrics

	frames        *prometheus.Desc
	payloadBytes  *prometheus.Desc
	truncated     *prometheus.Desc
	values        *prometheus.Desc
	skipped       *prometheus.Desc
	textMessages  *prometheus.Desc
	nonDelta      *prometheus.Desc
	errors        *prometheus.Desc
	readTimeouts  *prometheus.Desc
	connects      *prometheus.Desc
	disconnects   *prometheus.Desc
	linkDrops     *prometheus.Desc
	queueDrops    *prometheus.Desc
	state         *prometheus.Desc
	signal        *prometheus.Desc
	frameInterval *prometheus.Desc
}

// NewCollector wraps m.
func NewCollector(m *Metrics) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		metrics:       m,
		frames:        desc("frames_total", "Frames received by opcode.", "opcode"),
		payloadBytes:  desc("payload_bytes_total", "Declared payload bytes received."),
		truncated:     desc("frames_truncated_total", "Frames whose payload exceeded the cap."),
		values:        desc("values_total", "Delta path/value entries received."),
		skipped:       desc("values_skipped_total", "Delta entries suppressed as duplicates."),
		textMessages:  desc("text_messages_total", "Text frames handed to the delta parser."),
		nonDelta:      desc("non_delta_messages_total", "JSON messages without updates."),
		errors:        desc("errors_total", "Errors by kind.", "kind"),
		readTimeouts:  desc("read_timeouts_total", "Frame read phases that saw no data."),
		connects:      desc("connects_total", "Sessions opened."),
		disconnects:   desc("disconnects_total", "Sessions torn down."),
		linkDrops:     desc("link_drops_total", "Link down transitions."),
		queueDrops:    desc("sink_queue_drops_total", "Records dropped by full sink queues."),
		state:         desc("connection_state", "Connection state: 0 link down, 1 disconnected, 2 handshaking, 3 open, 4 closing."),
		signal:        desc("link_signal_dbm", "Link signal level."),
		frameInterval: desc("frame_interval_seconds", "Gap between frames.", "stat"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.frames, c.payloadBytes, c.truncated, c.values, c.skipped, c.textMessages,
		c.nonDelta, c.errors, c.readTimeouts, c.connects, c.disconnects, c.linkDrops,
		c.queueDrops, c.state, c.signal, c.frameInterval,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.metrics.Snapshot()
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	for op, n := range s.Frames {
		counter(c.frames, n, op.String())
	}
	counter(c.payloadBytes, s.PayloadBytes)
	counter(c.truncated, s.Truncated)
	counter(c.values, s.ValuesReceived)
	counter(c.skipped, s.ValuesSkipped)
	counter(c.textMessages, s.TextMessages)
	counter(c.nonDelta, s.NonDelta)
	counter(c.errors, s.DecodeErrors, "decode")
	counter(c.errors, s.ProtocolErrors, "protocol")
	counter(c.errors, s.TransportErrors, "transport")
	counter(c.readTimeouts, s.ReadTimeouts)
	counter(c.connects, s.Connects)
	counter(c.disconnects, s.Disconnects)
	counter(c.linkDrops, s.LinkDrops)
	counter(c.queueDrops, s.QueueDrops)

	ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(s.State))
	if s.SignalKnown {
		ch <- prometheus.MustNewConstMetric(c.signal, prometheus.GaugeValue, s.Signal)
	}
	if s.FrameInterval.Count > 0 {
		ch <- prometheus.MustNewConstMetric(c.frameInterval, prometheus.GaugeValue, s.FrameInterval.Min.Seconds(), "min")
		ch <- prometheus.MustNewConstMetric(c.frameInterval, prometheus.GaugeValue, s.FrameInterval.Max.Seconds(), "max")
		ch <- prometheus.MustNewConstMetric(c.frameInterval, prometheus.GaugeValue, s.FrameInterval.Avg.Seconds(), "avg")
	}
}

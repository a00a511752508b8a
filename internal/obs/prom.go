package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"main/internal/schema"
)

// PromCollector exposes the atomic counters as prometheus metrics without
// putting prometheus types on the hot path.
type PromCollector struct {
	metrics *Metrics

	events       *prometheus.Desc
	riskReasons  *prometheus.Desc
	queueDrops   *prometheus.Desc
	decodeErrors *prometheus.Desc
	eventLatency *prometheus.Desc
}

var _ prometheus.Collector = (*PromCollector)(nil)

// NewPromCollector wraps a metrics container.
func NewPromCollector(m *Metrics) *PromCollector {
	return &PromCollector{
		metrics: m,
		events: prometheus.NewDesc(
			"mmcore_events_total",
			"Ledger events observed by type.",
			[]string{"type"}, nil),
		riskReasons: prometheus.NewDesc(
			"mmcore_risk_rejections_total",
			"Risk gate rejections by reason.",
			[]string{"reason"}, nil),
		queueDrops: prometheus.NewDesc(
			"mmcore_queue_drops_total",
			"Events dropped on a full bus queue.",
			nil, nil),
		decodeErrors: prometheus.NewDesc(
			"mmcore_decode_errors_total",
			"Payloads that failed to decode.",
			nil, nil),
		eventLatency: prometheus.NewDesc(
			"mmcore_event_latency_nanoseconds",
			"Event receive latency.",
			[]string{"stat"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.events
	ch <- c.riskReasons
	ch <- c.queueDrops
	ch <- c.decodeErrors
	ch <- c.eventLatency
}

// Collect implements prometheus.Collector.
func (c *PromCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	for t, v := range snap.EventCounts {
		ch <- prometheus.MustNewConstMetric(c.events, prometheus.CounterValue, float64(v), t.String())
	}
	for r, v := range snap.RiskReasonCounts {
		if r == schema.RiskReasonNone {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.riskReasons, prometheus.CounterValue, float64(v), r.String())
	}
	ch <- prometheus.MustNewConstMetric(c.queueDrops, prometheus.CounterValue, float64(snap.QueueDrops))
	ch <- prometheus.MustNewConstMetric(c.decodeErrors, prometheus.CounterValue, float64(snap.DecodeErrors))

	lat := snap.EventLatency
	ch <- prometheus.MustNewConstMetric(c.eventLatency, prometheus.GaugeValue, float64(lat.Min), "min")
	ch <- prometheus.MustNewConstMetric(c.eventLatency, prometheus.GaugeValue, float64(lat.Max), "max")
	ch <- prometheus.MustNewConstMetric(c.eventLatency, prometheus.GaugeValue, float64(lat.Avg), "avg")
}

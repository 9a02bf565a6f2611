package stats

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recstatus"

var (
	sessionDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "events_total"),
		"Session events by kind (polls, commands, relay publishes)",
		[]string{"event"}, nil,
	)
	sinkDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "preview", "events_total"),
		"Preview loop events by kind and sink",
		[]string{"event", "sink"}, nil,
	)
	cycleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "preview", "cycle_seconds"),
		"Preview cycle latency percentiles over the recent window",
		[]string{"sink", "quantile"}, nil,
	)
	uptimeDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "uptime_seconds"),
		"Seconds since the tracker was created",
		nil, nil,
	)
)

// Describe implements prometheus.Collector.
func (t *Tracker) Describe(ch chan<- *prometheus.Desc) {
	ch <- sessionDesc
	ch <- sinkDesc
	ch <- cycleDesc
	ch <- uptimeDesc
}

// Collect implements prometheus.Collector. Values are read lock-free from the
// same counters the dashboard uses.
func (t *Tracker) Collect(ch chan<- prometheus.Metric) {
	if t == nil {
		return
	}
	t.counters.Range(func(key, value any) bool {
		ch <- prometheus.MustNewConstMetric(sessionDesc, prometheus.CounterValue,
			float64(value.(*atomic.Uint64).Load()), key.(string))
		return true
	})
	t.sinkCounters.Range(func(key, value any) bool {
		event, sink, ok := strings.Cut(key.(string), "|")
		if !ok {
			return true
		}
		ch <- prometheus.MustNewConstMetric(sinkDesc, prometheus.CounterValue,
			float64(value.(*atomic.Uint64).Load()), event, sink)
		return true
	})
	t.latency.Range(func(key, value any) bool {
		snap := value.(*LatencyTracker).Snapshot()
		if snap.N == 0 {
			return true
		}
		sink := key.(string)
		ch <- prometheus.MustNewConstMetric(cycleDesc, prometheus.GaugeValue, snap.P50.Seconds(), sink, "0.5")
		ch <- prometheus.MustNewConstMetric(cycleDesc, prometheus.GaugeValue, snap.P99.Seconds(), sink, "0.99")
		return true
	})
	ch <- prometheus.MustNewConstMetric(uptimeDesc, prometheus.GaugeValue, t.GetUptime().Seconds())
}

// Registry returns a private registry with this tracker registered, ready for promhttp.
func (t *Tracker) Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(t)
	return r
}

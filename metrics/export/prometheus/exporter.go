package prometheus

import (
	"net/http"
	"strconv"

	"github.com/MrEthical07/charityauth"
	"github.com/MrEthical07/charityauth/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSource is satisfied by *charityauth.Engine.
type MetricsSource interface {
	MetricsSnapshot() charityauth.MetricsSnapshot
	AuditDropped() uint64
}

// Collector is a prometheus.Collector over an engine's counters. Values are
// read from the source on every scrape.
type Collector struct {
	source     MetricsSource
	counters   []*prometheus.Desc
	histograms []*prometheus.Desc
	bounds     []float64
	dropped    *prometheus.Desc
}

// NewCollector builds a collector for source. Register it on a registry of
// your choice or use Handler.
func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histograms: make([]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		dropped: prometheus.NewDesc(
			"charityauth_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.",
			nil, nil,
		),
	}
	for i, def := range internaldefs.CounterDefs {
		c.counters[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		c.histograms[i] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	// The last bound is +Inf, which const histograms add implicitly.
	for _, le := range internaldefs.HistogramBounds[:len(internaldefs.HistogramBounds)-1] {
		v, err := strconv.ParseFloat(le, 64)
		if err != nil {
			panic("internaldefs: bad histogram bound " + le)
		}
		c.bounds = append(c.bounds, v)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for i, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(c.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		buckets := make(map[float64]uint64, len(c.bounds))
		for j, le := range c.bounds {
			buckets[le] = cumulative[j]
		}
		// Sum is not tracked by the engine.
		ch <- prometheus.MustNewConstHistogram(c.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler serves source on a private registry, leaving the global registry
// untouched.
func Handler(source MetricsSource) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(source))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

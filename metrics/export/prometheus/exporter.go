package prometheus

import (
	"net/http"

	"github.com/MrEthical07/templock"
	"github.com/MrEthical07/templock/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() templock.MetricsSnapshot
	EventsDropped() uint64
}

type counterDesc struct {
	id   templock.MetricID
	desc *prom.Desc
}

type histogramDesc struct {
	id   templock.MetricID
	desc *prom.Desc
}

// Exporter is a prom.Collector over engine metric snapshots. Each scrape
// takes one snapshot.
type Exporter struct {
	source     metricsSource
	counters   []counterDesc
	histograms []histogramDesc
	dropped    *prom.Desc
}

var _ prom.Collector = (*Exporter)(nil)

// NewExporter reads metrics from engine.
func NewExporter(engine *templock.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource reads metrics from any snapshot source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:     source,
		counters:   make([]counterDesc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]histogramDesc, 0, len(internaldefs.HistogramDefs)),
		dropped:    prom.NewDesc(internaldefs.EventsDroppedName, internaldefs.EventsDroppedHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, counterDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, histogramDesc{id: def.ID, desc: prom.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return e
}

// Describe implements prom.Collector.
func (e *Exporter) Describe(ch chan<- *prom.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	for _, h := range e.histograms {
		ch <- h.desc
	}
	ch <- e.dropped
}

// Collect implements prom.Collector. A disabled metrics set yields nothing.
func (e *Exporter) Collect(ch chan<- prom.Metric) {
	if e == nil || e.source == nil {
		return
	}

	snapshot := e.source.MetricsSnapshot()
	dropped := e.source.EventsDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for _, c := range e.counters {
		ch <- prom.MustNewConstMetric(c.desc, prom.CounterValue, float64(snapshot.Counters[c.id]))
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(cumulative)-1)
		for i := 0; i < len(cumulative)-1; i++ {
			buckets[internaldefs.HistogramBounds[i]] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]
		ch <- prom.MustNewConstHistogram(h.desc, count, snapshot.HistogramSums[h.id], buckets)
	}

	ch <- prom.MustNewConstMetric(e.dropped, prom.CounterValue, float64(dropped))
}

// Handler serves the exporter's metrics from a private registry, so nothing
// leaks into prom.DefaultRegisterer.
func (e *Exporter) Handler() http.Handler {
	registry := prom.NewRegistry()
	registry.MustRegister(e)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

package prometheus

import (
	"errors"
	"net/http"
	"sync"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrNilSource = errors.New("nil metrics source")

// Source is anything that exposes engine counters. *portalAuth.Engine satisfies it.
type Source interface {
	MetricsSnapshot() portalAuth.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter is a prometheus.Collector summing the counters of every attached
// source. A server with one engine per client attaches each engine on creation
// and detaches it on close; detached counts are retained.
type Exporter struct {
	mu       sync.Mutex
	sources  map[Source]struct{}
	retained portalAuth.MetricsSnapshot
	dropped  uint64

	counters     map[portalAuth.MetricID]*prometheus.Desc
	histograms   map[portalAuth.MetricID]*prometheus.Desc
	auditDropped *prometheus.Desc
	sourcesDesc  *prometheus.Desc
}

func NewExporter() *Exporter {
	e := &Exporter{
		sources:    make(map[Source]struct{}),
		retained:   emptySnapshot(),
		counters:   make(map[portalAuth.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histograms: make(map[portalAuth.MetricID]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(
			internaldefs.AuditDroppedName,
			"Audit events dropped because the dispatcher buffer was full.",
			nil, nil,
		),
		sourcesDesc: prometheus.NewDesc(
			internaldefs.EnginesActiveName,
			"Engines currently attached to the exporter.",
			nil, nil,
		),
	}
	for _, def := range internaldefs.CounterDefs {
		e.counters[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return e
}

// NewExporterFromSource returns an exporter with src already attached.
func NewExporterFromSource(src Source) (*Exporter, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	e := NewExporter()
	e.Add(src)
	return e, nil
}

func (e *Exporter) Add(src Source) {
	if src == nil {
		return
	}
	e.mu.Lock()
	e.sources[src] = struct{}{}
	e.mu.Unlock()
}

// Remove detaches src and folds its final counts into the retained totals.
func (e *Exporter) Remove(src Source) {
	if src == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sources[src]; !ok {
		return
	}
	delete(e.sources, src)
	addSnapshot(&e.retained, src.MetricsSnapshot())
	e.dropped += src.AuditDropped()
}

// Snapshot returns the summed counters of retained and attached sources.
func (e *Exporter) Snapshot() (portalAuth.MetricsSnapshot, uint64, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := emptySnapshot()
	addSnapshot(&out, e.retained)
	dropped := e.dropped
	for src := range e.sources {
		addSnapshot(&out, src.MetricsSnapshot())
		dropped += src.AuditDropped()
	}
	return out, dropped, len(e.sources)
}

// MetricsSnapshot returns the summed counters, so the exporter can feed other
// exporters as a single source.
func (e *Exporter) MetricsSnapshot() portalAuth.MetricsSnapshot {
	snap, _, _ := e.Snapshot()
	return snap
}

// AuditDropped returns the summed audit drops of retained and attached sources.
func (e *Exporter) AuditDropped() uint64 {
	_, dropped, _ := e.Snapshot()
	return dropped
}

// Active reports how many sources are attached.
func (e *Exporter) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sources)
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.counters {
		ch <- d
	}
	for _, d := range e.histograms {
		ch <- d
	}
	ch <- e.auditDropped
	ch <- e.sourcesDesc
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap, dropped, active := e.Snapshot()

	for _, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(e.counters[def.ID], prometheus.CounterValue, float64(snap.Counters[def.ID]))
	}
	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		count, sum, buckets := histogram(raw)
		ch <- prometheus.MustNewConstHistogram(e.histograms[def.ID], count, sum, buckets)
	}
	ch <- prometheus.MustNewConstMetric(e.auditDropped, prometheus.CounterValue, float64(dropped))
	ch <- prometheus.MustNewConstMetric(e.sourcesDesc, prometheus.GaugeValue, float64(active))
}

// Handler serves the exporter from a private registry, so nothing is added to
// the global default registry.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func histogram(raw []uint64) (uint64, float64, map[float64]uint64) {
	nonCumulative := internaldefs.NormalizeBuckets(raw)
	cumulative := internaldefs.CumulativeBuckets(nonCumulative)

	buckets := make(map[float64]uint64, len(internaldefs.HistogramBoundValues))
	for i, bound := range internaldefs.HistogramBoundValues {
		buckets[bound] = cumulative[i]
	}
	var sum float64
	for i, n := range nonCumulative {
		sum += float64(n) * internaldefs.BucketMidpoint(i)
	}
	return cumulative[len(cumulative)-1], sum, buckets
}

func emptySnapshot() portalAuth.MetricsSnapshot {
	return portalAuth.MetricsSnapshot{
		Counters:   map[portalAuth.MetricID]uint64{},
		Histograms: map[portalAuth.MetricID][]uint64{},
	}
}

func addSnapshot(dst *portalAuth.MetricsSnapshot, src portalAuth.MetricsSnapshot) {
	for id, v := range src.Counters {
		dst.Counters[id] += v
	}
	for id, buckets := range src.Histograms {
		cur := dst.Histograms[id]
		if len(cur) < len(buckets) {
			grown := make([]uint64, len(buckets))
			copy(grown, cur)
			cur = grown
		}
		for i, v := range buckets {
			cur[i] += v
		}
		dst.Histograms[id] = cur
	}
}

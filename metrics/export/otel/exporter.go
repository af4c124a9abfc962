package otel

import (
	"context"
	"errors"
	"fmt"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source exposes portal counters. Both *portalAuth.Engine and the Prometheus
// exporter, which sums a fleet of engines, satisfy it.
type Source interface {
	MetricsSnapshot() portalAuth.MetricsSnapshot
	AuditDropped() uint64
}

// activeSource is a Source that also counts the engines behind it.
type activeSource interface {
	Active() int
}

type latencyInstruments struct {
	id      portalAuth.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter observes a Source on every collection cycle of its meter.
type Exporter struct {
	source       Source
	registration metric.Registration

	counters     map[portalAuth.MetricID]metric.Int64ObservableCounter
	latency      []latencyInstruments
	bucketAttrs  []metric.ObserveOption
	auditDropped metric.Int64ObservableCounter
	engines      metric.Int64ObservableUpDownCounter
}

// NewExporter creates the instruments on meter and registers one callback that
// reads src. Latency buckets are reported as a cumulative gauge with an "le"
// attribute per upper bound.
func NewExporter(meter metric.Meter, src Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if src == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   src,
		counters: make(map[portalAuth.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = ins
		observables = append(observables, ins)
	}

	for _, bound := range internaldefs.HistogramBounds {
		e.bucketAttrs = append(e.bucketAttrs, metric.WithAttributes(attribute.String("le", bound)))
	}
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s_bucket: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s_count: %w", def.Name, err)
		}
		e.latency = append(e.latency, latencyInstruments{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription("Audit events dropped because the dispatcher buffer was full."))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	if _, ok := src.(activeSource); ok {
		engines, err := meter.Int64ObservableUpDownCounter(internaldefs.EnginesActiveName,
			metric.WithDescription("Engines currently attached to the exporter."))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s: %w", internaldefs.EnginesActiveName, err)
		}
		e.engines = engines
		observables = append(observables, engines)
	}

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snap.Counters[id]))
	}
	for _, l := range e.latency {
		raw, ok := snap.Histograms[l.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, n := range cumulative {
			o.ObserveInt64(l.buckets, int64(n), e.bucketAttrs[i])
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	if e.engines != nil {
		o.ObserveInt64(e.engines, int64(e.source.(activeSource).Active()))
	}
	return nil
}

// Close unregisters the callback. The meter provider stays with the caller.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

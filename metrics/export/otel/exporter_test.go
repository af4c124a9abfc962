package otel

import (
	"context"
	"testing"

	portalAuth "github.com/MrEthical07/portalAuth"
	promexport "github.com/MrEthical07/portalAuth/metrics/export/prometheus"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type staticSource struct {
	snap    portalAuth.MetricsSnapshot
	dropped uint64
}

func (s staticSource) MetricsSnapshot() portalAuth.MetricsSnapshot { return s.snap }
func (s staticSource) AuditDropped() uint64                       { return s.dropped }

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

type collected struct {
	values  map[string]int64
	buckets map[string]int64
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) collected {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := collected{values: map[string]int64{}, buckets: map[string]int64{}}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			}
			for _, p := range points {
				if le, ok := p.Attributes.Value(attribute.Key("le")); ok {
					out.buckets[le.AsString()] = p.Value
					continue
				}
				out.values[m.Name] = p.Value
			}
		}
	}
	return out
}

func TestExporterObservesSource(t *testing.T) {
	reader, provider := newReader()
	src := staticSource{
		snap: portalAuth.MetricsSnapshot{
			Counters: map[portalAuth.MetricID]uint64{portalAuth.MetricSignInSuccess: 3},
			Histograms: map[portalAuth.MetricID][]uint64{
				portalAuth.MetricResolutionLatency: {2, 0, 1, 0, 0, 0, 0, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(provider.Meter("portal-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if got.values["portal_sign_in_success_total"] != 3 {
		t.Fatalf("expected sign-in success 3, got %d", got.values["portal_sign_in_success_total"])
	}
	if got.values["portal_resolution_latency_seconds_count"] != 4 {
		t.Fatalf("expected 4 latency samples, got %d", got.values["portal_resolution_latency_seconds_count"])
	}
	if got.buckets["0.005"] != 2 || got.buckets["0.025"] != 3 || got.buckets["+Inf"] != 4 {
		t.Fatalf("expected cumulative buckets, got %v", got.buckets)
	}
	if got.values["portal_audit_dropped_total"] != 1 {
		t.Fatalf("expected audit dropped 1, got %d", got.values["portal_audit_dropped_total"])
	}
	if _, ok := got.values["portal_engines_active"]; ok {
		t.Fatal("expected no engine gauge for a single source")
	}
}

func TestExporterOverPrometheusFleet(t *testing.T) {
	reader, provider := newReader()
	fleet := promexport.NewExporter()
	a := &staticSource{snap: portalAuth.MetricsSnapshot{Counters: map[portalAuth.MetricID]uint64{portalAuth.MetricSignOut: 2}}}
	b := &staticSource{snap: portalAuth.MetricsSnapshot{Counters: map[portalAuth.MetricID]uint64{portalAuth.MetricSignOut: 5}}}
	fleet.Add(a)
	fleet.Add(b)

	exp, err := NewExporter(provider.Meter("portal-test"), fleet)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	defer exp.Close()

	got := collect(t, reader)
	if got.values["portal_sign_out_total"] != 7 {
		t.Fatalf("expected summed sign-outs 7, got %d", got.values["portal_sign_out_total"])
	}
	if got.values["portal_engines_active"] != 2 {
		t.Fatalf("expected 2 active engines, got %d", got.values["portal_engines_active"])
	}

	fleet.Remove(a)
	got = collect(t, reader)
	if got.values["portal_sign_out_total"] != 7 || got.values["portal_engines_active"] != 1 {
		t.Fatalf("expected retained counts with one engine left, got %v", got.values)
	}
}

func TestExporterCloseStopsObservation(t *testing.T) {
	reader, provider := newReader()
	src := staticSource{snap: portalAuth.MetricsSnapshot{Counters: map[portalAuth.MetricID]uint64{portalAuth.MetricSignInSuccess: 1}}}

	exp, err := NewExporter(provider.Meter("portal-test"), src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
	}
	if err := exp.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := collect(t, reader); got.values["portal_sign_in_success_total"] != 0 {
		t.Fatalf("expected no observation after Close, got %d", got.values["portal_sign_in_success_total"])
	}
}

func TestNewExporterRejectsNil(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporter(nil, staticSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("portal-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

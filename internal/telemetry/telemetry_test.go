package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if p.tracerProvider != nil || p.meterProvider != nil {
		t.Error("providers installed without an endpoint")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestMissionMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewMissionMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMissionMetrics: %v", err)
	}
	ctx := context.Background()
	m.Record(ctx, "message.received", "dispatched", 20*time.Millisecond)
	m.Record(ctx, "message.received", "dispatched", 30*time.Millisecond)
	m.Record(ctx, "bogus", "unknown_event", time.Millisecond)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	counts := counterValues(t, rm, "missiond.missions.routed")
	if got := counts["message.received/dispatched"]; got != 2 {
		t.Errorf("message.received/dispatched = %d, want 2", got)
	}
	if got := counts["bogus/unknown_event"]; got != 1 {
		t.Errorf("bogus/unknown_event = %d, want 1", got)
	}
}

// counterValues flattens an int64 sum into "event/status" keys.
func counterValues(t *testing.T, rm metricdata.ResourceMetrics, name string) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s data = %T, want Sum[int64]", name, md.Data)
			}
			for _, dp := range sum.DataPoints {
				ev, _ := dp.Attributes.Value(attribute.Key("event"))
				st, _ := dp.Attributes.Value(attribute.Key("status"))
				out[ev.AsString()+"/"+st.AsString()] = dp.Value
			}
		}
	}
	return out
}

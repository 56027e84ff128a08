package otel

import (
	"errors"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/gatewarden/gatewarden"
)

type fakeSource struct {
	snapshot gatewarden.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() gatewarden.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestNewExporterValidation(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")

	if _, err := NewExporterFromSource(nil, &fakeSource{}); !errors.Is(err, ErrNilMeter) {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporterFromSource(meter, nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
}

func TestExporterRegistersAndCloses(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("test")
	source := &fakeSource{
		snapshot: gatewarden.MetricsSnapshot{
			Counters: map[gatewarden.MetricID]uint64{
				gatewarden.MetricLoginSuccess: 3,
			},
		},
		dropped: 1,
	}

	exporter, err := NewExporterFromSource(meter, source)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	if len(exporter.counters) != len(counterDefs) {
		t.Fatalf("registered %d counters, want %d", len(exporter.counters), len(counterDefs))
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := exporter.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestCounterNamesUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, def := range counterDefs {
		if seen[def.Name] {
			t.Fatalf("duplicate counter name %s", def.Name)
		}
		seen[def.Name] = true
	}
}

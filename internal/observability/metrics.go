package observability

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Metrics owns the process meter provider. Instruments created from it are
// collected on demand and served in the Prometheus text format.
type Metrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

func NewMetrics() *Metrics {
	reader := sdkmetric.NewManualReader()
	return &Metrics{
		reader:   reader,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

func (m *Metrics) Provider() metric.MeterProvider {
	return m.provider
}

func (m *Metrics) Meter(name string) metric.Meter {
	return m.provider.Meter(name)
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// Render collects every sum and gauge. Histograms are not exported.
func (m *Metrics) Render(ctx context.Context) (string, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return "", fmt.Errorf("collect metrics: %w", err)
	}

	var b strings.Builder
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				writeFamily(&b, md.Name, md.Description, sumKind(data.IsMonotonic), data.DataPoints)
			case metricdata.Sum[float64]:
				writeFamily(&b, md.Name, md.Description, sumKind(data.IsMonotonic), data.DataPoints)
			case metricdata.Gauge[int64]:
				writeFamily(&b, md.Name, md.Description, "gauge", data.DataPoints)
			case metricdata.Gauge[float64]:
				writeFamily(&b, md.Name, md.Description, "gauge", data.DataPoints)
			}
		}
	}
	return b.String(), nil
}

func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := m.Render(r.Context())
		if err != nil {
			CaptureError(err)
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}

func sumKind(monotonic bool) string {
	if monotonic {
		return "counter"
	}
	return "gauge"
}

func writeFamily[N int64 | float64](b *strings.Builder, name, help, kind string, points []metricdata.DataPoint[N]) {
	if len(points) == 0 {
		return
	}

	name = promName(name)
	if help != "" {
		fmt.Fprintf(b, "# HELP %s %s\n", name, strings.ReplaceAll(help, "\n", " "))
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)

	lines := make([]string, 0, len(points))
	for _, dp := range points {
		lines = append(lines, fmt.Sprintf("%s%s %v\n", name, promLabels(dp.Attributes), dp.Value))
	}
	sort.Strings(lines)
	for _, line := range lines {
		b.WriteString(line)
	}
}

func promLabels(set attribute.Set) string {
	if set.Len() == 0 {
		return ""
	}

	parts := make([]string, 0, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		parts = append(parts, fmt.Sprintf("%s=%q", promName(string(kv.Key)), kv.Value.Emit()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func promName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}

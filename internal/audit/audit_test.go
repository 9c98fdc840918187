package audit

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"profile-gate/internal/observability"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *recordingSink) Emit(_ context.Context, e Event) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(16, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{Type: EventDenied, ProfileID: "p1"})
	}
	d.Close()

	assert.Equal(t, 10, sink.count())
	assert.Zero(t, d.Dropped())

	d.Emit(context.Background(), Event{Type: EventDenied})
	assert.Equal(t, 10, sink.count(), "closed dispatcher ignores events")
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewDispatcher(1, sink)

	for i := 0; i < 20; i++ {
		d.Emit(context.Background(), Event{Type: EventUnlocked})
	}
	assert.Positive(t, d.Dropped())

	close(sink.block)
	d.Close()
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Emit(context.Background(), Event{})
	d.Close()
	assert.Zero(t, d.Dropped())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	NewLogSink(observability.NewLoggerTo(&buf)).Emit(context.Background(), Event{
		Type: EventLocked, ProfileID: "p1", OriginHash: "abc", At: time.Unix(0, 0),
	})

	out := buf.String()
	assert.Contains(t, out, `"event":"pin.locked"`)
	assert.Contains(t, out, `"origin_hash":"abc"`)
	assert.NotContains(t, out, "page_id")
}

func TestMetricsSinkCountsByType(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sink, err := NewMetricsSink(provider.Meter("profile-gate-test"))
	require.NoError(t, err)

	ctx := context.Background()
	MultiSink{NoOpSink{}, sink}.Emit(ctx, Event{Type: EventDenied})
	sink.Emit(ctx, Event{Type: EventDenied})
	sink.Emit(ctx, Event{Type: EventUnlocked})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "profile_gate_pin_events_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("type")
				got[v.AsString()] = dp.Value
			}
		}
	}

	assert.Equal(t, map[string]int64{EventDenied: 2, EventUnlocked: 1}, got)
}

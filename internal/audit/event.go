// Package audit forwards best-effort security events to sinks. Emitting never
// blocks or fails the request that produced the event.
package audit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"profile-gate/internal/observability"
)

const (
	EventUnlocked           = "pin.unlocked"
	EventDenied             = "pin.denied"
	EventLocked             = "pin.locked"
	EventRemembered         = "pin.remembered"
	EventSecretRotated      = "pin.secret_rotated"
	EventCapabilityRedeemed = "capability.redeemed"
	EventCapabilityRejected = "capability.rejected"
)

type Event struct {
	Type       string
	ProfileID  string
	PageID     string
	OriginHash string
	At         time.Time
}

type Sink interface {
	Emit(ctx context.Context, event Event)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

type LogSink struct {
	logger *observability.Logger
}

func NewLogSink(logger *observability.Logger) LogSink {
	return LogSink{logger: logger}
}

func (s LogSink) Emit(_ context.Context, event Event) {
	fields := map[string]any{
		"event":      event.Type,
		"profile_id": event.ProfileID,
		"at":         event.At.UTC().Format(time.RFC3339Nano),
	}
	if event.PageID != "" {
		fields["page_id"] = event.PageID
	}
	if event.OriginHash != "" {
		fields["origin_hash"] = event.OriginHash
	}
	s.logger.Info("audit_event", fields)
}

// MetricsSink counts events by type.
type MetricsSink struct {
	counter metric.Int64Counter
}

func NewMetricsSink(meter metric.Meter) (*MetricsSink, error) {
	counter, err := meter.Int64Counter(
		"profile_gate_pin_events_total",
		metric.WithDescription("Gated content access events by type."),
	)
	if err != nil {
		return nil, err
	}
	return &MetricsSink{counter: counter}, nil
}

func (s *MetricsSink) Emit(ctx context.Context, event Event) {
	s.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", event.Type)))
}

type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

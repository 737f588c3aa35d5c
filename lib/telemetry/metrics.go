package telemetry

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/typebus/internal/bus"
)

// BusMetrics exposes bus retention and publish instruments. Retention gauges
// are observed on collection through the supplied load snapshot function.
type BusMetrics struct {
	accepted metric.Int64Counter
	rejected metric.Int64Counter
	reg      metric.Registration
}

// NewBusMetrics registers the bus instruments on meter. load is invoked at
// every collection to observe the current retention snapshot.
func NewBusMetrics(meter metric.Meter, load func() bus.Load) (*BusMetrics, error) {
	channels, err := meter.Int64ObservableGauge("typebus.channels",
		metric.WithDescription("registered channels"))
	if err != nil {
		return nil, fmt.Errorf("create channels gauge: %w", err)
	}
	retained, err := meter.Int64ObservableGauge("typebus.events.retained",
		metric.WithDescription("events currently retained across channels"))
	if err != nil {
		return nil, fmt.Errorf("create retained gauge: %w", err)
	}
	bytes, err := meter.Int64ObservableGauge("typebus.data.bytes",
		metric.WithDescription("retained payload bytes"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create bytes gauge: %w", err)
	}
	accepted, err := meter.Int64Counter("typebus.publish.accepted",
		metric.WithDescription("pushes admitted by a channel"))
	if err != nil {
		return nil, fmt.Errorf("create accepted counter: %w", err)
	}
	rejected, err := meter.Int64Counter("typebus.publish.rejected",
		metric.WithDescription("pushes refused by channel state or type"))
	if err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		ld := load()
		o.ObserveInt64(channels, int64(ld.ChannelCount))
		o.ObserveInt64(retained, int64(ld.EventCount))
		o.ObserveInt64(bytes, int64(ld.DataSize))
		return nil
	}, channels, retained, bytes)
	if err != nil {
		return nil, fmt.Errorf("register load callback: %w", err)
	}

	return &BusMetrics{accepted: accepted, rejected: rejected, reg: reg}, nil
}

// RecordPublish counts one publish outcome.
func (m *BusMetrics) RecordPublish(ctx context.Context, accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.accepted.Add(ctx, 1)
		return
	}
	m.rejected.Add(ctx, 1)
}

// Close unregisters the load callback.
func (m *BusMetrics) Close() error {
	if m == nil || m.reg == nil {
		return nil
	}
	if err := m.reg.Unregister(); err != nil {
		return fmt.Errorf("unregister load callback: %w", err)
	}
	return nil
}

// EncodeLoad renders a load snapshot as JSON for dumps and tooling output.
func EncodeLoad(ld bus.Load) ([]byte, error) {
	raw, err := json.MarshalIndent(ld, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode load snapshot: %w", err)
	}
	return raw, nil
}

package disruptor

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RegisterMetrics exposes the cursors through observable instruments named
// <prefix>_*. Values are read when the meter collects, never on the hot path.
// Unregister the returned Registration to stop reporting.
func (d *Disruptor) RegisterMetrics(meter metric.Meter, prefix string) (metric.Registration, error) {
	producerCursor, err := meter.Int64ObservableGauge(
		prefix+"_producer_cursor",
		metric.WithDescription("Messages published in the current epoch"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer cursor gauge: %w", err)
	}

	consumerCursor, err := meter.Int64ObservableGauge(
		prefix+"_consumer_cursor",
		metric.WithDescription("Messages read in the current epoch, per consumer"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer cursor gauge: %w", err)
	}

	consumerLag, err := meter.Int64ObservableGauge(
		prefix+"_consumer_lag",
		metric.WithDescription("Published messages not yet read, per consumer"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer lag gauge: %w", err)
	}

	epochs, err := meter.Int64ObservableCounter(
		prefix+"_epochs_total",
		metric.WithDescription("Sequence rebases performed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoch counter: %w", err)
	}

	spins, err := meter.Int64ObservableCounter(
		prefix+"_producer_spins_total",
		metric.WithDescription("Producer admission checks that failed on backpressure"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer spins counter: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := d.Stats()
		o.ObserveInt64(producerCursor, clampInt64(s.ProducerCursor))
		o.ObserveInt64(epochs, clampInt64(s.Epoch))
		o.ObserveInt64(spins, clampInt64(s.ProducerSpins))
		for _, c := range s.Consumers {
			attrs := metric.WithAttributes(attribute.Int("consumer", c.ID))
			o.ObserveInt64(consumerCursor, clampInt64(c.Cursor), attrs)
			o.ObserveInt64(consumerLag, clampInt64(c.Lag), attrs)
		}
		return nil
	}, producerCursor, consumerCursor, consumerLag, epochs, spins)
}

// clampInt64 saturates cursors above math.MaxInt64, which int64 instruments
// cannot represent. Cursors only get there close to an epoch rebase.
func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

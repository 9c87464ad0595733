package disruptor

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectInt64(t *testing.T, reader *sdkmetric.ManualReader) map[string][]metricdata.DataPoint[int64] {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string][]metricdata.DataPoint[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Gauge[int64]:
				out[m.Name] = data.DataPoints
			case metricdata.Sum[int64]:
				out[m.Name] = data.DataPoints
			}
		}
	}
	return out
}

func TestRegisterMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	d, err := New(3, WithConsumer(nil), WithConsumer(nil))
	require.NoError(t, err)

	reg, err := d.RegisterMetrics(provider.Meter("disruptor"), "ring")
	require.NoError(t, err)
	defer func() { _ = reg.Unregister() }()

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, d.Producer().Enqueue(message(i)))
	}
	c, _ := d.Consumer(1)
	buf := make([]byte, PayloadSize)
	for i := 0; i < 2; i++ {
		_, err := c.TryDequeue(buf)
		require.NoError(t, err)
	}

	got := collectInt64(t, reader)

	require.Len(t, got["ring_producer_cursor"], 1)
	assert.Equal(t, int64(5), got["ring_producer_cursor"][0].Value)
	require.Len(t, got["ring_epochs_total"], 1)
	assert.Equal(t, int64(0), got["ring_epochs_total"][0].Value)
	require.Contains(t, got, "ring_producer_spins_total")

	lags := map[int64]int64{}
	for _, dp := range got["ring_consumer_lag"] {
		id, ok := dp.Attributes.Value(attribute.Key("consumer"))
		require.True(t, ok)
		lags[id.AsInt64()] = dp.Value
	}
	assert.Equal(t, map[int64]int64{0: 5, 1: 3}, lags)
	assert.Len(t, got["ring_consumer_cursor"], 2)
}

func TestMetricsClampHighCursors(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	d, err := New(3, WithConsumer(nil))
	require.NoError(t, err)
	seedCursors(d, maxSequence-4)
	require.NoError(t, d.Producer().Enqueue(message(0)))

	reg, err := d.RegisterMetrics(provider.Meter("disruptor"), "ring")
	require.NoError(t, err)
	defer func() { _ = reg.Unregister() }()

	got := collectInt64(t, reader)

	require.Len(t, got["ring_producer_cursor"], 1)
	assert.Equal(t, int64(math.MaxInt64), got["ring_producer_cursor"][0].Value)
	require.Len(t, got["ring_consumer_cursor"], 1)
	assert.Equal(t, int64(math.MaxInt64), got["ring_consumer_cursor"][0].Value)
	require.Len(t, got["ring_consumer_lag"], 1)
	assert.Equal(t, int64(1), got["ring_consumer_lag"][0].Value)
}

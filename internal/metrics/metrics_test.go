package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrementIndependently(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PacketsDecoded.Add(3)
	m.PacketsMalformed.Inc()
	m.TransfersClosed.WithLabelValues("complete").Inc()
	m.TransfersClosed.WithLabelValues("truncated").Add(2)
	m.StorePackets.Set(42)

	require.Equal(t, float64(3), readCounter(t, m.PacketsDecoded))
	require.Equal(t, float64(1), readCounter(t, m.PacketsMalformed))
	require.Equal(t, float64(1), readCounterVec(t, m.TransfersClosed, "complete"))
	require.Equal(t, float64(2), readCounterVec(t, m.TransfersClosed, "truncated"))
	require.Equal(t, float64(42), readGauge(t, m.StorePackets))
}

func readCounter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func readCounterVec(t *testing.T, v *prometheus.CounterVec, label string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, v.WithLabelValues(label).Write(&m))
	return m.GetCounter().GetValue()
}

func readGauge(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestEscrowMetricsObserve(t *testing.T) {
	m := Escrow()
	require.Same(t, m, Escrow())

	beforeOK := testutil.ToFloat64(m.transitions.WithLabelValues("pay"))
	beforeRejected := testutil.ToFloat64(m.rejections.WithLabelValues("pay", "unauthorized"))

	m.Observe("pay", "", time.Millisecond)
	m.Observe("pay", "unauthorized", time.Millisecond)
	m.SetPaymentCount(3)
	m.SetHoldingBalance(50)

	require.Equal(t, beforeOK+1, testutil.ToFloat64(m.transitions.WithLabelValues("pay")))
	require.Equal(t, beforeRejected+1, testutil.ToFloat64(m.rejections.WithLabelValues("pay", "unauthorized")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.paymentCount))
	require.Equal(t, float64(50), testutil.ToFloat64(m.holdingBalance))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *EscrowMetrics
	m.Observe("pay", "", time.Second)
	m.SetHoldingBalance(1)
	m.SetPaymentCount(1)
	m.IncDroppedNotification()
}

func TestPushWithoutURLIsNoop(t *testing.T) {
	require.NoError(t, Push(context.Background(), "  ", "job", nil))
}

func TestEscrowLatencyGathered(t *testing.T) {
	m := Escrow()
	m.Observe("release", "", 20*time.Millisecond)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	var hist *dto.Histogram
	for _, family := range families {
		if family.GetName() != "rentescrow_engine_operation_duration_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "operation" && label.GetValue() == "release" {
					hist = metric.GetHistogram()
				}
			}
		}
	}
	require.NotNil(t, hist)
	require.GreaterOrEqual(t, hist.GetSampleCount(), uint64(1))
	require.Greater(t, hist.GetSampleSum(), 0.0)
}

package escrow

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOperationsRecordedOnMeterProvider(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	f := newFixture(t)
	_, err := f.engine.Create(ctx, strangerAdr, tenantAddr, landlordAdr, big.NewInt(1))
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.engine.Create(ctx, marketAddr, tenantAddr, landlordAdr, big.NewInt(1))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	var sawLatency bool
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name != "escrow.operations" {
					continue
				}
				for _, dp := range data.DataPoints {
					op, _ := dp.Attributes.Value(attribute.Key("operation"))
					reason, _ := dp.Attributes.Value(attribute.Key("reason"))
					counts[op.AsString()+"/"+reason.AsString()] += dp.Value
				}
			case metricdata.Histogram[float64]:
				if m.Name == "escrow.operation.duration" && len(data.DataPoints) > 0 {
					sawLatency = true
				}
			}
		}
	}
	require.GreaterOrEqual(t, counts["create/unauthorized"], int64(1))
	require.GreaterOrEqual(t, counts["create/ok"], int64(1))
	require.True(t, sawLatency)
}

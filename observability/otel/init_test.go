package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "escrowctl"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitRejectsBadSampleRatio(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "escrowctl", Traces: true, SampleRatio: 2})
	require.Error(t, err)
}

func TestNormalizeEndpoint(t *testing.T) {
	endpoint, plain := normalizeEndpoint("http://collector:4318/")
	require.Equal(t, "collector:4318", endpoint)
	require.True(t, plain)

	endpoint, plain = normalizeEndpoint("https://collector:4318")
	require.Equal(t, "collector:4318", endpoint)
	require.False(t, plain)

	endpoint, plain = normalizeEndpoint(" collector:4318 ")
	require.Equal(t, "collector:4318", endpoint)
	require.False(t, plain)
}

func TestHeaders(t *testing.T) {
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, ParseHeaders("a=1, b = 2,broken,=x"))
	merged := MergeHeaders(map[string]string{"a": "0", "c": "3"}, "a=1")
	require.Equal(t, map[string]string{"a": "1", "c": "3"}, merged)
}

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewTracerProviderDisabled(t *testing.T) {
	tp, shutdown, err := NewTracerProvider(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.NoError(t, shutdown(context.Background()))
}

func TestNewTracerProviderStdout(t *testing.T) {
	tp, shutdown, err := NewTracerProvider(context.Background(), TracingConfig{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "zkim-test",
	})
	require.NoError(t, err)
	require.NotNil(t, tp)

	tracer := tp.Tracer("test")
	_, span := tracer.Start(context.Background(), "unit-test-span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
}

func TestNewTracerProviderUnknownExporter(t *testing.T) {
	_, _, err := NewTracerProvider(context.Background(), TracingConfig{
		Enabled:  true,
		Exporter: "not-a-real-exporter",
	})
	require.Error(t, err)
}

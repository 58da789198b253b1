package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comet-forge/comet/pkg/config"
)

func TestFromConfigCarriesEnabledAndEndpoints(t *testing.T) {
	cfg := FromConfig(config.TelemetryConfig{Enabled: true, OTLPEndpoint: "collector:4317", PrometheusPort: 9091})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 9091, cfg.PrometheusPort)
	assert.Equal(t, "otlp", cfg.TraceExporter)
	assert.Equal(t, "prometheus", cfg.MetricExporter)
}

func TestInitNilContext(t *testing.T) {
	_, err := Init(nil, Config{Enabled: true})
	assert.Error(t, err)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Nil(t, MetricsHandler())
}

func TestInitStdoutExportersRoundTrip(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{
		Enabled:        true,
		TraceExporter:  "stdout",
		MetricExporter: "stdout",
	})
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx, span := StartRoundSpan(context.Background(), 1)
	EndRoundSpan(ctx, span, 1, 0, "generate_tests")
	RecordLLMCall(ctx, "generate_tests")
	RecordMutantsGenerated(ctx, "com.example.Calculator#divide", 3)
	RecordMutantsKilled(ctx, "com.example.Calculator#divide", 2)
}

func TestInitUnknownExporterErrors(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, TraceExporter: "carrier-pigeon"})
	assert.Error(t, err)
}

// Package telemetry wires the Planner's round/action activity into
// OpenTelemetry, following the platform's tracer/meter provider setup
// (services/trace/telemetry) but scaled down to the two knobs
// config.TelemetryConfig actually exposes: an OTLP endpoint for traces and
// a Prometheus port for metrics, both gated by a single Enabled flag.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/comet-forge/comet/pkg/config"
	"github.com/comet-forge/comet/pkg/errkind"
)

// Config controls the Planner's telemetry export. Zero value disables both
// signals: FromConfig sets Enabled from config.TelemetryConfig, everything
// else defaults to a working local setup.
type Config struct {
	Enabled bool

	// TraceExporter selects "otlp" or "stdout". Empty defaults to "otlp"
	// when Enabled, matching the platform default.
	TraceExporter string
	// MetricExporter selects "prometheus" or "stdout". Empty defaults to
	// "prometheus" when Enabled.
	MetricExporter string

	OTLPEndpoint   string
	PrometheusPort int
}

// FromConfig derives a telemetry Config from the run's config.TelemetryConfig
// section. spec.md's telemetry knobs are just enabled/endpoint/port; the
// exporter kind is a comet-side default rather than something the operator
// tunes per spec.md §6.
func FromConfig(cfg config.TelemetryConfig) Config {
	return Config{
		Enabled:        cfg.Enabled,
		TraceExporter:  "otlp",
		MetricExporter: "prometheus",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		PrometheusPort: cfg.PrometheusPort,
	}
}

// Init initializes the tracer and meter providers used by services/planner's
// span and metric helpers (see metrics.go). When cfg.Enabled is false, Init
// leaves the otel global providers untouched and returns a no-op shutdown: a run with
// telemetry disabled must behave identically to one that never calls Init.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, errkind.New("telemetry.Init", errkind.InternalInvariant)
	}
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("telemetry shutdown errors: %v", errs)
		}
		return nil
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", "comet"),
	)

	tp, err := initTracer(ctx, cfg, res)
	if err != nil {
		return nil, errkind.Wrap("telemetry.Init", errkind.ConfigInvalid, err)
	}
	otel.SetTracerProvider(tp)
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

	mp, err := initMeter(ctx, cfg, res)
	if err != nil {
		return nil, errkind.Wrap("telemetry.Init", errkind.ConfigInvalid, err)
	}
	otel.SetMeterProvider(mp)
	shutdownFuncs = append(shutdownFuncs, mp.Shutdown)

	return shutdown, nil
}

func initTracer(ctx context.Context, cfg Config, res *resource.Resource) (*trace.TracerProvider, error) {
	var exporter trace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "", "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.TraceExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), nil
}

var (
	prometheusHandler   http.Handler
	prometheusHandlerMu sync.RWMutex
)

// MetricsHandler returns the Prometheus scrape handler, or nil when
// telemetry is disabled or the metric exporter isn't Prometheus.
func MetricsHandler() http.Handler {
	prometheusHandlerMu.RLock()
	defer prometheusHandlerMu.RUnlock()
	return prometheusHandler
}

func initMeter(_ context.Context, cfg Config, res *resource.Resource) (*metric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "", "prometheus":
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		prometheusHandlerMu.Lock()
		prometheusHandler = promhttp.Handler()
		prometheusHandlerMu.Unlock()

		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("unknown metric exporter %q", cfg.MetricExporter)
	}
}

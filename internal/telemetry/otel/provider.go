// Package otel wires opt-in OpenTelemetry traces and metrics for a launch.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/strongdm/contain-agent/launcher"

// Config controls OTEL exporter behaviour.
type Config struct {
	ServiceName   string
	EnableMetrics bool
	EnableTraces  bool
	// Writer receives exported spans, and the collected metrics at
	// Shutdown. Defaults to stderr so the output never interleaves with the
	// container's terminal on stdout.
	Writer io.Writer
}

// Provider owns OTEL meter/tracer providers and the session instruments.
type Provider struct {
	cfg            Config
	reader         *sdkmetric.ManualReader
	metricExporter sdkmetric.Exporter
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         trace.Tracer

	session      *SessionInstruments
	shutdownOnce sync.Once
}

// Setup initialises exporters for metrics and traces following cfg. With
// both disabled the provider is a no-op.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.EnableMetrics && !cfg.EnableTraces {
		p := &Provider{cfg: cfg}
		p.session = newSessionInstruments(p)
		return p, nil
	}

	if strings.TrimSpace(cfg.ServiceName) == "" {
		cfg.ServiceName = "contain-agent"
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	p := &Provider{cfg: cfg}

	if cfg.EnableMetrics {
		exp, err := stdoutmetric.New(
			stdoutmetric.WithWriter(cfg.Writer),
			stdoutmetric.WithPrettyPrint(),
		)
		if err != nil {
			return nil, fmt.Errorf("init stdout metric exporter: %w", err)
		}
		p.metricExporter = exp
		p.reader = sdkmetric.NewManualReader()
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(p.reader),
			sdkmetric.WithResource(res),
		)
		p.meter = p.meterProvider.Meter(instrumentationName)
	}

	if cfg.EnableTraces {
		tp, err := createTracerProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		p.tracerProvider = tp
		p.tracer = tp.Tracer(instrumentationName)
	}

	p.session = newSessionInstruments(p)
	return p, nil
}

func createTracerProvider(cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(cfg.Writer),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("init stdout trace exporter: %w", err)
	}

	// Syncer: a launch produces a handful of spans and the process may exit
	// right after the container does.
	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	), nil
}

// Collect reads the current metric values. It returns empty data when
// metrics are disabled.
func (p *Provider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if p == nil || p.reader == nil {
		return rm, nil
	}
	err := p.reader.Collect(ctx, &rm)
	return rm, err
}

// Shutdown exports the collected metrics once, then flushes and stops the
// configured providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var err error
	p.shutdownOnce.Do(func() {
		var errs []error
		if p.metricExporter != nil {
			if exportErr := p.exportMetrics(ctx); exportErr != nil {
				errs = append(errs, exportErr)
			}
		}
		if p.meterProvider != nil {
			if shutdownErr := p.meterProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if p.tracerProvider != nil {
			if shutdownErr := p.tracerProvider.Shutdown(ctx); shutdownErr != nil {
				errs = append(errs, shutdownErr)
			}
		}
		if len(errs) > 0 {
			err = errors.Join(errs...)
		}
	})
	return err
}

func (p *Provider) exportMetrics(ctx context.Context) error {
	rm, err := p.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect metrics: %w", err)
	}
	if len(rm.ScopeMetrics) > 0 {
		if err := p.metricExporter.Export(ctx, &rm); err != nil {
			return fmt.Errorf("export metrics: %w", err)
		}
	}
	return p.metricExporter.Shutdown(ctx)
}

// Session returns the launch instruments.
func (p *Provider) Session() *SessionInstruments {
	if p == nil {
		return nil
	}
	return p.session
}

// EnvBool interprets CONTAIN_AGENT_* env toggles.
func EnvBool(value string, defaultOn bool) bool {
	value = strings.TrimSpace(strings.ToLower(value))
	switch value {
	case "":
		return defaultOn
	case "1", "true", "on", "enable", "enabled", "yes":
		return true
	case "0", "false", "off", "disable", "disabled", "no":
		return false
	default:
		return defaultOn
	}
}

// LoadConfigFromEnv reads OTEL config from the environment.
func LoadConfigFromEnv() Config {
	return Config{
		ServiceName:   "contain-agent",
		EnableMetrics: EnvBool(os.Getenv("CONTAIN_AGENT_OTEL_METRICS"), false),
		EnableTraces:  EnvBool(os.Getenv("CONTAIN_AGENT_OTEL_TRACES"), false),
	}
}

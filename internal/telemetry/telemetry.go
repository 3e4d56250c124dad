// Package telemetry wires optional OpenTelemetry export for calsync: traces
// and metrics from the sync engine and log records from slog, all sent to an
// OTLP gRPC collector over one shared connection.
//
// Call [Setup] once during startup and defer the returned [ShutdownFunc].
// Without a collector the global providers stay no-ops.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultServiceName is the service.name reported when none is configured.
const DefaultServiceName = "calsync"

// Config mirrors the telemetry block of the YAML configuration.
type Config struct {
	// OTLPEndpoint is the collector's gRPC host:port.
	OTLPEndpoint string
	// Insecure disables TLS towards the collector.
	Insecure bool
	// ServiceName defaults to [DefaultServiceName].
	ServiceName string
	// Headers is sent as gRPC metadata on every export.
	Headers map[string]string
}

// ShutdownFunc flushes and closes all OTel providers. Call it with a fresh
// context; the main one is usually cancelled by then.
type ShutdownFunc func(context.Context) error

// Setup installs global trace, metric and log providers exporting to
// cfg.OTLPEndpoint. The returned ShutdownFunc is never nil, so callers can
// defer it before checking the error.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	svcName := cfg.ServiceName
	if svcName == "" {
		svcName = DefaultServiceName
	}

	// NewSchemaless sidesteps schema URL conflicts between resource.Default()
	// and the semconv version imported here.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(svcName)))
	if err != nil {
		return noopShutdown, fmt.Errorf("building OTel resource: %w", err)
	}

	conn, err := dial(cfg)
	if err != nil {
		return noopShutdown, err
	}

	var shutdowns []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing OTLP connection: %w", err))
		}
		return errors.Join(errs...)
	}

	tp, err := newTracerProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = cleanup(ctx)
		return noopShutdown, err
	}
	shutdowns = append(shutdowns, named("trace provider", tp.Shutdown))
	otel.SetTracerProvider(tp)

	mp, err := newMeterProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = cleanup(ctx)
		return noopShutdown, err
	}
	shutdowns = append(shutdowns, named("meter provider", mp.Shutdown))
	otel.SetMeterProvider(mp)

	lp, err := newLoggerProvider(ctx, conn, cfg.Headers, res)
	if err != nil {
		_ = cleanup(ctx)
		return noopShutdown, err
	}
	shutdowns = append(shutdowns, named("logger provider", lp.Shutdown))
	global.SetLoggerProvider(lp)

	return cleanup, nil
}

func dial(cfg Config) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	} else {
		creds = credentials.NewTLS(nil) // system root CAs
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dialling OTLP collector at %q: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func newTracerProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn), otlptracegrpc.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res)), nil
}

func newMeterProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn), otlpmetricgrpc.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	), nil
}

func newLoggerProvider(ctx context.Context, conn *grpc.ClientConn, headers map[string]string, res *resource.Resource) (*sdklog.LoggerProvider, error) {
	exp, err := otlploggrpc.New(ctx, otlploggrpc.WithGRPCConn(conn), otlploggrpc.WithHeaders(headers))
	if err != nil {
		return nil, fmt.Errorf("creating OTLP log exporter: %w", err)
	}
	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)),
		sdklog.WithResource(res),
	), nil
}

func named(what string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s shutdown: %w", what, err)
		}
		return nil
	}
}

// noopShutdown is returned on error so callers can always defer unconditionally.
func noopShutdown(_ context.Context) error { return nil }

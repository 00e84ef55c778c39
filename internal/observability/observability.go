// Package observability configures the process-wide structured logger.
//
// Local formats (text, json) write to stderr through the standard slog
// handlers. The otlp format bridges slog into the OpenTelemetry log
// pipeline, batching records and shipping them to the collector configured
// through the standard OTel environment variables.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/term"
)

const instrumentationScope = "github.com/chrko/mb-exporter"

// Instrument installs the process-wide default logger for the given format
// and minimum level. The returned shutdown function flushes any buffered
// log exporters; for the local formats it is a no-op.
func Instrument(level slog.Level, format string) (func(context.Context) error, error) {
	if format == "auto" {
		// Interactive terminals read text best; anything captured by a
		// supervisor gets JSON.
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		} else {
			format = "json"
		}
	}

	switch format {
	case "text":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return noopShutdown, nil
	case "json":
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return noopShutdown, nil
	case "otlp":
		return instrumentOTLP(level)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func noopShutdown(context.Context) error { return nil }

func instrumentOTLP(level slog.Level) (func(context.Context) error, error) {
	exporter, err := newOTLPExporter(context.Background())
	if err != nil {
		return nil, fmt.Errorf("creating otlp log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(
			minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), otelSeverity(level)),
		),
	)
	slog.SetDefault(otelslog.NewLogger(instrumentationScope, otelslog.WithLoggerProvider(provider)))
	return provider.Shutdown, nil
}

// newOTLPExporter picks the wire exporter from the standard OTel
// environment. OTEL_LOGS_EXPORTER=console short-circuits to stdout for
// local debugging.
func newOTLPExporter(ctx context.Context) (sdklog.Exporter, error) {
	if os.Getenv("OTEL_LOGS_EXPORTER") == "console" {
		return stdoutlog.New()
	}
	switch protocol := os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"); protocol {
	case "", "grpc":
		return otlploggrpc.New(ctx)
	case "http/protobuf", "http/json":
		return otlploghttp.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported OTEL_EXPORTER_OTLP_PROTOCOL %q", protocol)
	}
}

func otelSeverity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}

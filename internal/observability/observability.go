// Package observability wires structured logging for the agent. All code logs
// through log/slog; Instrument decides where those records go.
//
// By default records are written to stderr as text or JSON. When an
// OpenTelemetry log exporter is configured through the standard OTEL_*
// environment variables, records are bridged into the OTel log SDK instead
// and exported over OTLP (or to stdout for debugging).
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// scopeName identifies this instrumentation scope in exported records.
const scopeName = "github.com/Safariblocks-LTD/codelock-agent"

var (
	shutdownMu   sync.Mutex
	shutdownFunc func(context.Context) error
)

// Instrument installs the process-wide slog default logger.
//
// format selects the stderr handler ("text" or "json"). The OTEL_LOGS_EXPORTER
// environment variable overrides it: "otlp" exports over OTLP (protocol per
// OTEL_EXPORTER_OTLP_PROTOCOL, "http/protobuf" by default), "console" writes
// OTel-shaped records to stdout. Records below level are dropped in all modes.
func Instrument(level slog.Level, format string) error {
	switch os.Getenv("OTEL_LOGS_EXPORTER") {
	case "otlp":
		exporter, err := newOTLPExporter(context.Background())
		if err != nil {
			return fmt.Errorf("creating OTLP log exporter: %w", err)
		}
		return instrumentOTel(level, exporter)
	case "console":
		exporter, err := stdoutlog.New()
		if err != nil {
			return fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return instrumentOTel(level, exporter)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// Shutdown flushes and stops the OTel logger provider if one was installed.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	fn := shutdownFunc
	shutdownFunc = nil
	shutdownMu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func instrumentOTel(level slog.Level, exporter sdklog.Exporter) error {
	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	shutdownMu.Lock()
	shutdownFunc = provider.Shutdown
	shutdownMu.Unlock()

	slog.SetDefault(otelslog.NewLogger(scopeName, otelslog.WithLoggerProvider(provider)))
	return nil
}

func newOTLPExporter(ctx context.Context) (sdklog.Exporter, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "grpc" {
		return otlploggrpc.New(ctx)
	}
	return otlploghttp.New(ctx)
}

// severityFor maps a slog level to the minimum OTel severity to keep.
func severityFor(level slog.Level) minsev.Severity {
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

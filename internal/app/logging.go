package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"arena-sync/internal/config"
	"arena-sync/internal/telemetry"
	"arena-sync/logging"
	loggingSinks "arena-sync/logging/sinks"
)

// newRouter builds the structured event router for one binary. Every event
// carries the service name, and per-category counts land in metrics.
func newRouter(settings config.Logging, service string, stdout io.Writer, metrics telemetry.Metrics) (*logging.Router, error) {
	cfg, err := settings.Router()
	if err != nil {
		return nil, err
	}
	cfg.Fields = map[string]any{"service": service}
	if stdout == nil {
		stdout = os.Stdout
	}

	var sinks []logging.NamedSink
	if cfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsole(stdout, cfg.Console)})
	}
	if cfg.HasSink("json") {
		var sink *loggingSinks.JSON
		if cfg.JSON.FilePath != "" {
			sink, err = loggingSinks.OpenJSONFile(cfg.JSON.FilePath, cfg.JSON.FlushInterval)
			if err != nil {
				return nil, fmt.Errorf("failed to open json sink: %w", err)
			}
		} else {
			sink = loggingSinks.NewJSON(stdout, cfg.JSON.FlushInterval)
		}
		sinks = append(sinks, logging.NamedSink{Name: "json", Sink: sink})
	}
	var opts []logging.RouterOption
	if metrics != nil {
		opts = append(opts, logging.WithCounter(metrics))
	}
	return logging.NewRouter(logging.SystemClock{}, cfg, sinks, opts...), nil
}

func closeRouter(ctx context.Context, router *logging.Router, logger telemetry.Logger) {
	if err := router.Close(ctx); err != nil {
		logger.Printf("failed to close logging router: %v", err)
	}
}

func resolveLogger(logger telemetry.Logger) (telemetry.Logger, *log.Logger) {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	fallback := log.Default()
	if provider, ok := logger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallback = candidate
		}
	}
	return logger, fallback
}

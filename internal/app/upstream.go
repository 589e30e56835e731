package app

import (
	"context"
	"net/http"
	"time"

	"arena-sync/internal/config"
	"arena-sync/internal/telemetry"
	"arena-sync/internal/upstream"
)

type UpstreamConfig struct {
	Logger   telemetry.Logger
	Settings config.Upstream
}

// RunUpstream serves the development relay hub until ctx is cancelled.
func RunUpstream(ctx context.Context, cfg UpstreamConfig) error {
	logger, fallback := resolveLogger(cfg.Logger)
	settings := cfg.Settings

	counters := telemetry.NewCounters()
	router, err := newRouter(settings.Logging, "upstream", nil, counters)
	if err != nil {
		return err
	}
	defer closeRouter(context.Background(), router, logger)

	hub := upstream.NewHub(upstream.Config{
		QueueSize:    settings.QueueSize,
		WriteTimeout: settings.WriteTimeout,
		Logger:       fallback,
		Metrics:      counters,
		Publisher:    router,
	})
	defer hub.Close()

	srv := &http.Server{
		Addr:              settings.Addr,
		Handler:           upstream.NewRouter(hub, counters),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return serve(ctx, srv, logger)
}

package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"arena-sync/internal/bridge"
	"arena-sync/internal/config"
	servernet "arena-sync/internal/net"
	"arena-sync/internal/telemetry"
)

type BridgeConfig struct {
	Logger   telemetry.Logger
	Settings config.Bridge
}

// RunBridge serves the bridge until ctx is cancelled. The bridge owns the one
// upstream connection shared by every participant attached over /ws.
func RunBridge(ctx context.Context, cfg BridgeConfig) error {
	logger, fallback := resolveLogger(cfg.Logger)
	settings := cfg.Settings

	counters := telemetry.NewCounters()
	router, err := newRouter(settings.Logging, "bridge", nil, counters)
	if err != nil {
		return err
	}
	defer closeRouter(context.Background(), router, logger)

	b := bridge.New(bridge.Config{
		URL: settings.UpstreamURL,
		Dialer: bridge.WebsocketDialer{
			Dialer:           &websocket.Dialer{HandshakeTimeout: settings.DialTimeout},
			HandshakeTimeout: settings.DialTimeout,
		},
		PortBuffer: settings.PortBuffer,
		WriteQueue: settings.WriteQueue,
		Logger:     logger,
		Metrics:    counters,
		Publisher:  router,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		b.Run(ctx)
	}()

	handler := servernet.NewHTTPHandler(b, servernet.HTTPHandlerConfig{
		Logger:         fallback,
		Counters:       counters,
		Logging:        router,
		AllowedOrigins: settings.AllowedOrigins,
		WriteTimeout:   settings.WriteTimeout,
	})
	srv := &http.Server{Addr: settings.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	err = serve(ctx, srv, logger)
	cancel()
	<-bridgeDone
	return err
}

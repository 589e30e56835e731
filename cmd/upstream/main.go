package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arena-sync/internal/app"
	"arena-sync/internal/config"
)

func main() {
	settings, err := config.LoadUpstream()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunUpstream(ctx, app.UpstreamConfig{Settings: settings}); err != nil {
		log.Fatalf("%v", err)
	}
}

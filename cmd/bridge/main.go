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
	settings, err := config.LoadBridge()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunBridge(ctx, app.BridgeConfig{Settings: settings}); err != nil {
		log.Fatalf("%v", err)
	}
}

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

// arena runs one participant. Key commands are read from stdin, e.g. "+d"
// to start moving right and "-d" to stop.
func main() {
	settings, err := config.LoadParticipant()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = app.RunParticipant(ctx, app.ParticipantConfig{
		Settings: settings,
		Keys:     os.Stdin,
		Output:   os.Stdout,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
}

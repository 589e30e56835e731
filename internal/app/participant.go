package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"arena-sync/internal/bridge"
	"arena-sync/internal/config"
	"arena-sync/internal/participant"
	"arena-sync/internal/relay"
	"arena-sync/internal/sim"
	"arena-sync/internal/telemetry"
	"arena-sync/logging"
)

type ParticipantConfig struct {
	Logger   telemetry.Logger
	Settings config.Participant
	// Keys streams key commands, one per line: "+d" presses d, "-d"
	// releases it, "release" lets go of every key, "quit" stops the
	// participant.
	Keys io.Reader
	// Renderer defaults to a line printer on Output.
	Renderer sim.Renderer
	Output   io.Writer
}

// RunParticipant connects to the bridge and runs one participant until ctx
// is cancelled, the key stream asks to quit, or the bridge goes away.
func RunParticipant(ctx context.Context, cfg ParticipantConfig) error {
	logger, _ := resolveLogger(cfg.Logger)
	settings := cfg.Settings

	counters := telemetry.NewCounters()
	router, err := newRouter(settings.Logging, "arena", cfg.Output, counters)
	if err != nil {
		return err
	}
	defer closeRouter(context.Background(), router, logger)

	pcfg, err := participant.FromSettings(settings)
	if err != nil {
		return err
	}
	if pcfg.ID == "" {
		pcfg.ID = relay.NewSessionID()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var transport relay.Transport
	via := settings.BridgeURL
	if settings.UpstreamURL != "" {
		port, wait, err := embedBridge(ctx, settings, pcfg.ID, logger, counters, router)
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			wait()
		}()
		transport = port
		via = "embedded bridge to " + settings.UpstreamURL
	} else {
		ws, err := relay.DialBridge(ctx, settings.BridgeURL, pcfg.ID, logger)
		if err != nil {
			return err
		}
		transport = ws
	}

	renderer := cfg.Renderer
	if renderer == nil {
		renderer = NewLineRenderer(cfg.Output)
	}

	p, err := participant.New(pcfg, transport, participant.Options{
		Logger:    logger,
		Metrics:   counters,
		Publisher: router,
		Renderer:  renderer,
	})
	if err != nil {
		transport.Close()
		return err
	}
	logger.Printf("participant %s joined via %s", p.ID(), via)

	if cfg.Keys != nil {
		go func() {
			if err := feedKeys(cfg.Keys, p); err != nil {
				logger.Printf("key stream: %v", err)
			}
			cancel()
		}()
	}

	return ignoreCanceled(p.Run(ctx))
}

// embedBridge runs a bridge inside this process and attaches one port to it.
// The returned wait blocks until the bridge has stopped after ctx ends.
func embedBridge(ctx context.Context, settings config.Participant, id string, logger telemetry.Logger, counters *telemetry.Counters, publisher logging.Publisher) (*bridge.Port, func(), error) {
	b := bridge.New(bridge.Config{
		URL: settings.UpstreamURL,
		Dialer: bridge.WebsocketDialer{
			Dialer:           &websocket.Dialer{HandshakeTimeout: settings.DialTimeout},
			HandshakeTimeout: settings.DialTimeout,
		},
		Logger:    logger,
		Metrics:   counters,
		Publisher: publisher,
	})
	go b.Run(ctx)
	wait := func() { <-b.Done() }

	port, err := b.Register(ctx, id)
	if err != nil {
		return nil, wait, fmt.Errorf("attach to embedded bridge: %w", err)
	}
	return port, wait, nil
}

// feedKeys applies key commands until EOF or "quit".
func feedKeys(r io.Reader, p *participant.Participant) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "quit":
			return nil
		case "release":
			p.ReleaseKeys()
			continue
		}
		name, pressed, ok := ParseKeyCommand(line)
		if !ok {
			continue
		}
		p.KeyEvent(name, pressed)
	}
	return scanner.Err()
}

// ParseKeyCommand reads "+k" (press) or "-k" (release). Anything else is
// rejected.
func ParseKeyCommand(line string) (name string, pressed bool, ok bool) {
	line = strings.TrimSpace(line)
	if len(line) < 2 {
		return "", false, false
	}
	switch line[0] {
	case '+':
		pressed = true
	case '-':
		pressed = false
	default:
		return "", false, false
	}
	return strings.TrimSpace(line[1:]), pressed, true
}

// LineRenderer prints a frame whenever the controlled entity moves.
type LineRenderer struct {
	mu   sync.Mutex
	w    io.Writer
	last sim.Vec
	seen bool
}

func NewLineRenderer(w io.Writer) *LineRenderer {
	if w == nil {
		w = io.Discard
	}
	return &LineRenderer{w: w}
}

func (r *LineRenderer) Render(frame sim.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen && frame.Player.Pos == r.last {
		return nil
	}
	r.seen = true
	r.last = frame.Player.Pos
	keys := "none"
	if len(frame.Held) > 0 {
		keys = strings.Join(frame.Held, ",")
	}
	_, err := fmt.Fprintf(r.w, "tick=%d %s at (%.1f, %.1f) keys=%s bots=%d\n", frame.Tick, frame.Player.ID, frame.Player.Pos.X, frame.Player.Pos.Y, keys, len(frame.Bots))
	return err
}

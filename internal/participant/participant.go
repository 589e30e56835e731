package participant

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"arena-sync/internal/input"
	"arena-sync/internal/net/proto"
	"arena-sync/internal/relay"
	"arena-sync/internal/sim"
	"arena-sync/internal/telemetry"
	"arena-sync/logging"
	loggingLifecycle "arena-sync/logging/lifecycle"
)

// Config describes one participant's arena, controlled entity and bots.
type Config struct {
	ID              string
	Arena           sim.Arena
	Spawn           sim.Vec
	Radius          float64
	Speed           float64
	Color           string
	BotCount        int
	BotRadius       float64
	BotSpeed        float64
	Seed            int64
	Policy          proto.DirectionPolicy
	AnnounceKeyDown bool
	Loop            sim.LoopConfig
	RenderRate      int
}

// Options carries collaborators that are not part of the arena description.
type Options struct {
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Publisher    logging.Publisher
	Clock        logging.Clock
	Renderer     sim.Renderer
	OnRemoteMove func(proto.MoveEvent)
}

// Participant is one arena tab: input feeds the local simulation, whose
// moves go out through the relay session while remote moves come back
// through the consumer.
type Participant struct {
	cfg       Config
	input     *input.State
	local     *sim.LocalSimulator
	bots      *sim.BotSimulator
	session   *relay.Session
	consumer  *relay.Consumer
	loop      *sim.Loop
	frames    chan sim.Frame
	renderer  sim.Renderer
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	runOnce sync.Once
}

var ErrAlreadyRunning = errors.New("participant already running")

// New assembles a participant on top of transport. An empty ID gets a fresh
// session identity.
func New(cfg Config, transport relay.Transport, opts Options) (*Participant, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}

	session, err := relay.NewSession(cfg.ID, transport, relay.SessionOptions{Logger: logger, Metrics: metrics})
	if err != nil {
		return nil, err
	}
	cfg.ID = session.ID()

	state := input.NewState()
	local := sim.NewLocalSimulator(sim.LocalConfig{
		Arena: cfg.Arena,
		Entity: sim.Entity{
			ID:     cfg.ID,
			Pos:    cfg.Spawn,
			Radius: cfg.Radius,
			Color:  cfg.Color,
			Speed:  cfg.Speed,
		},
		Policy: cfg.Policy,
	}, state, session, publisher, logger)

	var bots *sim.BotSimulator
	if cfg.BotCount > 0 {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		spawned := sim.SpawnBots(cfg.Arena, cfg.BotCount, cfg.BotRadius, cfg.BotSpeed, rand.New(rand.NewSource(seed)))
		bots = sim.NewBotSimulator(cfg.Arena, spawned, publisher)
	}

	consumer := relay.NewConsumer(relay.ConsumerConfig{
		LocalID:   cfg.ID,
		OnMove:    opts.OnRemoteMove,
		Logger:    logger,
		Metrics:   metrics,
		Publisher: publisher,
	})
	session.OnReceive(consumer.Handler())

	p := &Participant{
		cfg:       cfg,
		input:     state,
		local:     local,
		bots:      bots,
		session:   session,
		consumer:  consumer,
		frames:    make(chan sim.Frame, 1),
		renderer:  opts.Renderer,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
	}
	p.loop = sim.NewLoop(cfg.Loop, sim.LoopHooks{Step: func(tick uint64) { p.Step(tick) }}, opts.Clock, publisher)
	return p, nil
}

func (p *Participant) ID() string {
	return p.cfg.ID
}

// KeyEvent applies a key press or release from the input goroutine. It
// reports whether the key is one of the four movement keys.
func (p *Participant) KeyEvent(name string, pressed bool) bool {
	key, ok := input.ParseKey(name)
	if !ok {
		return false
	}
	p.input.SetKey(key, pressed)
	if pressed && p.cfg.AnnounceKeyDown {
		p.local.Announce()
	}
	return true
}

// ReleaseKeys drops every held key, as when the input source loses focus.
func (p *Participant) ReleaseKeys() {
	p.input.Reset()
}

// Step runs one tick: bots first, then the local entity against the moved
// bots. It must only be called from the loop goroutine, or directly when
// Run is not in use.
func (p *Participant) Step(tick uint64) sim.Frame {
	var bots []sim.Bot
	if p.bots != nil {
		p.bots.Step()
		bots = p.bots.Bots()
	}
	result := p.local.Step(bots)
	if result.Emitted {
		p.metrics.Add("participant.moves_sent", 1)
	}

	frame := sim.Frame{
		Tick:   tick,
		Arena:  p.cfg.Arena,
		Player: p.local.Entity(),
		Bots:   bots,
	}
	for _, key := range p.input.Held() {
		frame.Held = append(frame.Held, key.String())
	}
	p.offer(frame)
	return frame
}

// offer publishes frame on the one-slot channel, replacing an unread frame.
func (p *Participant) offer(frame sim.Frame) {
	select {
	case p.frames <- frame:
		return
	default:
	}
	select {
	case <-p.frames:
		p.metrics.Add("participant.frames_skipped", 1)
	default:
	}
	select {
	case p.frames <- frame:
	default:
	}
}

// Frames yields the latest frame. Use it only when no Renderer is set.
func (p *Participant) Frames() <-chan sim.Frame {
	return p.frames
}

// Run drives the participant until ctx is cancelled or its transport
// closes. The session is closed on return.
func (p *Participant) Run(ctx context.Context) error {
	started := false
	p.runOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}

	actor := logging.EntityRef{ID: p.cfg.ID, Kind: logging.EntityKindParticipant}
	loggingLifecycle.ParticipantStarted(ctx, p.publisher, actor, loggingLifecycle.ParticipantStartedPayload{
		SpawnX: p.cfg.Spawn.X,
		SpawnY: p.cfg.Spawn.Y,
		Bots:   p.cfg.BotCount,
		Policy: string(p.local.Policy()),
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reason := "cancelled"
	var reasonOnce sync.Once
	stop := func(why string) {
		reasonOnce.Do(func() { reason = why })
		cancel()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := p.session.Run(runCtx); err == nil {
			stop("transport closed")
		}
	}()
	go func() {
		defer wg.Done()
		p.loop.Run(runCtx)
	}()
	if p.renderer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.render(runCtx)
		}()
	}

	<-runCtx.Done()
	stop("cancelled")
	wg.Wait()
	p.session.Close()

	loggingLifecycle.ParticipantStopped(context.Background(), p.publisher, actor, loggingLifecycle.ParticipantStoppedPayload{
		Reason: reason,
		Ticks:  p.loop.Tick(),
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (p *Participant) render(ctx context.Context) {
	rate := p.cfg.RenderRate
	if rate <= 0 {
		rate = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case frame := <-p.frames:
				if err := p.renderer.Render(frame); err != nil {
					p.logger.Printf("render frame %d: %v", frame.Tick, err)
				}
				p.metrics.Add("participant.frames_rendered", 1)
			default:
			}
		}
	}
}

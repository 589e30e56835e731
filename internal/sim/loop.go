package sim

import (
	"context"
	"sync/atomic"
	"time"

	"arena-sync/logging"
	loggingSimulation "arena-sync/logging/simulation"
)

// LoopConfig tunes the fixed-timestep update loop.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
}

// LoopHooks are invoked on the loop goroutine.
type LoopHooks struct {
	// Step advances the simulation by exactly one tick.
	Step func(tick uint64)
	// AfterAdvance runs once per Advance call that executed at least one step.
	AfterAdvance func(result LoopStepResult)
}

// LoopStepResult summarises a single Advance call.
type LoopStepResult struct {
	Tick     uint64
	Steps    int
	Dropped  time.Duration
	Duration time.Duration
}

// Loop runs simulation steps at a fixed rate regardless of how often it is
// woken. Elapsed time accumulates and is consumed in whole ticks; a backlog
// larger than CatchupMaxTicks is discarded.
type Loop struct {
	config      LoopConfig
	hooks       LoopHooks
	clock       logging.Clock
	publisher   logging.Publisher
	step        time.Duration
	accumulator time.Duration
	tick        atomic.Uint64
}

func NewLoop(cfg LoopConfig, hooks LoopHooks, clock logging.Clock, publisher logging.Publisher) *Loop {
	if cfg.TickRate <= 0 {
		cfg.TickRate = 60
	}
	if cfg.CatchupMaxTicks <= 0 {
		cfg.CatchupMaxTicks = 5
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Loop{
		config:    cfg,
		hooks:     hooks,
		clock:     clock,
		publisher: publisher,
		step:      time.Second / time.Duration(cfg.TickRate),
	}
}

// StepDuration is the simulated time covered by one tick.
func (l *Loop) StepDuration() time.Duration {
	return l.step
}

// Tick returns the number of completed ticks.
func (l *Loop) Tick() uint64 {
	return l.tick.Load()
}

// Advance feeds elapsed wall time into the accumulator and runs as many
// whole ticks as it covers.
func (l *Loop) Advance(elapsed time.Duration) LoopStepResult {
	if elapsed > 0 {
		l.accumulator += elapsed
	}
	start := l.clock.Now()
	result := LoopStepResult{}

	due := int(l.accumulator / l.step)
	if due > l.config.CatchupMaxTicks {
		result.Dropped = l.accumulator - time.Duration(l.config.CatchupMaxTicks)*l.step
		l.accumulator -= result.Dropped
		due = l.config.CatchupMaxTicks
	}
	for i := 0; i < due; i++ {
		tick := l.tick.Add(1)
		if l.hooks.Step != nil {
			l.hooks.Step(tick)
		}
		l.accumulator -= l.step
		result.Steps++
	}
	result.Tick = l.tick.Load()
	result.Duration = l.clock.Now().Sub(start)

	if result.Dropped > 0 {
		loggingSimulation.TickOverrun(context.Background(), l.publisher, result.Tick, loggingSimulation.TickOverrunPayload{
			DurationMillis: float64(result.Dropped+time.Duration(due)*l.step) / float64(time.Millisecond),
			BudgetMillis:   float64(l.step) / float64(time.Millisecond),
			CatchupTicks:   due,
		})
	}
	if result.Steps > 0 && l.hooks.AfterAdvance != nil {
		l.hooks.AfterAdvance(result)
	}
	return result
}

// Run wakes at the tick rate and advances by the measured elapsed time until
// ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.step)
	defer ticker.Stop()

	last := l.clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := l.clock.Now()
			elapsed := now.Sub(last)
			last = now
			l.Advance(elapsed)
		}
	}
}

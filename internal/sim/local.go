package sim

import (
	"context"

	"arena-sync/internal/net/proto"
	"arena-sync/internal/telemetry"
	"arena-sync/logging"
	loggingSimulation "arena-sync/logging/simulation"
)

// DirectionSource yields the held-key direction, each axis in {-1,0,1}.
type DirectionSource interface {
	Vector() (dx, dy int)
}

// Emitter receives movement events; the relay session implements it.
type Emitter interface {
	Send(event proto.MoveEvent) error
}

// EmitterFunc adapts a function into an Emitter.
type EmitterFunc func(event proto.MoveEvent) error

func (f EmitterFunc) Send(event proto.MoveEvent) error {
	if f == nil {
		return nil
	}
	return f(event)
}

// LocalConfig describes the controlled entity and how its moves are broadcast.
type LocalConfig struct {
	Arena  Arena
	Entity Entity
	Policy proto.DirectionPolicy
}

// LocalStep reports what happened during one LocalSimulator.Step.
type LocalStep struct {
	Velocity Vec
	Delta    Vec
	Blocked  bool
	Emitted  bool
	Event    proto.MoveEvent
}

// LocalSimulator owns the locally controlled entity.
type LocalSimulator struct {
	arena     Arena
	entity    Entity
	policy    proto.DirectionPolicy
	input     DirectionSource
	emitter   Emitter
	publisher logging.Publisher
	logger    telemetry.Logger
	steps     uint64
}

// NewLocalSimulator wires the entity to its input source and emitter. The
// entity ID doubles as the user on emitted events. A spawn that would leave
// part of the entity outside the arena is clamped inside.
func NewLocalSimulator(cfg LocalConfig, input DirectionSource, emitter Emitter, publisher logging.Publisher, logger telemetry.Logger) *LocalSimulator {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	policy := cfg.Policy
	if policy == "" {
		policy = proto.PolicyRaw
	}
	entity := cfg.Entity
	entity.Pos = cfg.Arena.Clamp(entity.Pos, entity.Radius)
	return &LocalSimulator{
		arena:     cfg.Arena,
		entity:    entity,
		policy:    policy,
		input:     input,
		emitter:   emitter,
		publisher: publisher,
		logger:    logger,
	}
}

// Entity returns a copy of the controlled entity.
func (s *LocalSimulator) Entity() Entity {
	return s.entity
}

// Policy reports how emitted directions are derived.
func (s *LocalSimulator) Policy() proto.DirectionPolicy {
	return s.policy
}

// Position returns the entity centre.
func (s *LocalSimulator) Position() Vec {
	return s.entity.Pos
}

// Step advances the entity by one tick against the given bots.
//
// Each axis is accepted only if the entity's full extent stays inside the
// arena, so the entity slides along a wall when one axis is blocked. If the
// result overlaps any bot the whole tick's displacement is reverted. A move
// event carrying the requested velocity is emitted whenever that velocity is
// non-zero, regardless of clamping or blocking.
func (s *LocalSimulator) Step(bots []Bot) LocalStep {
	s.steps++
	var dx, dy int
	if s.input != nil {
		dx, dy = s.input.Vector()
	}
	velocity := Vec{X: float64(dx), Y: float64(dy)}.Scale(s.entity.Speed)
	start := s.entity.Pos
	result := LocalStep{Velocity: velocity}

	candidate := start.Add(velocity)
	next := start
	if s.arena.ContainsX(candidate.X, s.entity.Radius) {
		next.X = candidate.X
	}
	if s.arena.ContainsY(candidate.Y, s.entity.Radius) {
		next.Y = candidate.Y
	}

	moved := s.entity
	moved.Pos = next
	for _, bot := range bots {
		if Overlaps(moved, bot.Entity) {
			result.Blocked = true
			break
		}
	}
	if result.Blocked {
		loggingSimulation.EntityBlocked(
			context.Background(),
			s.publisher,
			s.steps,
			logging.EntityRef{ID: s.entity.ID, Kind: logging.EntityKindParticipant},
			loggingSimulation.EntityBlockedPayload{DX: next.X - start.X, DY: next.Y - start.Y},
		)
	} else {
		s.entity.Pos = next
	}
	result.Delta = s.entity.Pos.Sub(start)

	if velocity.IsZero() {
		return result
	}
	result.Event = proto.NewMove(s.entity.ID, s.policy.Apply(velocity.X, velocity.Y))
	result.Emitted = s.emit(result.Event)
	return result
}

// Announce emits the current held-key direction, sign-normalized, without
// moving the entity. It reports false when no key is held.
func (s *LocalSimulator) Announce() (proto.MoveEvent, bool) {
	if s.input == nil {
		return proto.MoveEvent{}, false
	}
	dx, dy := s.input.Vector()
	if dx == 0 && dy == 0 {
		return proto.MoveEvent{}, false
	}
	event := proto.NewMove(s.entity.ID, proto.PolicyNormalized.Apply(float64(dx), float64(dy)))
	return event, s.emit(event)
}

func (s *LocalSimulator) emit(event proto.MoveEvent) bool {
	if s.emitter == nil {
		return false
	}
	if err := s.emitter.Send(event); err != nil {
		s.logger.Printf("failed to send move for %s: %v", s.entity.ID, err)
		return false
	}
	return true
}

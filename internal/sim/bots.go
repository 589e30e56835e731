package sim

import (
	"context"
	"fmt"
	"math/rand"

	"arena-sync/logging"
	loggingSimulation "arena-sync/logging/simulation"
)

// Heading is a bot's persistent direction; each component is -1 or 1.
type Heading struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Bot moves at constant speed along its heading, independent of input.
type Bot struct {
	Entity
	Dir Heading `json:"dir"`
}

// BotSimulator owns the bot collection. Callers only ever see copies.
type BotSimulator struct {
	arena     Arena
	bots      []Bot
	publisher logging.Publisher
	steps     uint64
}

func NewBotSimulator(arena Arena, bots []Bot, publisher logging.Publisher) *BotSimulator {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &BotSimulator{
		arena:     arena,
		bots:      append([]Bot(nil), bots...),
		publisher: publisher,
	}
}

// SpawnBots places count bots at random positions fully inside the arena with
// random diagonal headings.
func SpawnBots(arena Arena, count int, radius, speed float64, rng *rand.Rand) []Bot {
	if count <= 0 {
		return nil
	}
	bots := make([]Bot, 0, count)
	for i := 0; i < count; i++ {
		bots = append(bots, Bot{
			Entity: Entity{
				ID:     fmt.Sprintf("bot-%d", i+1),
				Pos:    randomInside(arena, radius, rng),
				Radius: radius,
				Speed:  speed,
			},
			Dir: Heading{DX: randomSign(rng), DY: randomSign(rng)},
		})
	}
	return bots
}

// Bots returns a copy of the current bot states.
func (s *BotSimulator) Bots() []Bot {
	return append([]Bot(nil), s.bots...)
}

// Step advances every bot one tick: move, reflect off walls, then resolve
// pairwise overlaps in index order. It returns the number of resolved pairs.
func (s *BotSimulator) Step() int {
	s.steps++
	for i := range s.bots {
		bot := &s.bots[i]
		bot.Pos.X += bot.Dir.DX * bot.Speed
		bot.Pos.Y += bot.Dir.DY * bot.Speed
		s.reflect(bot)
	}

	resolved := 0
	for i := 0; i < len(s.bots); i++ {
		for j := i + 1; j < len(s.bots); j++ {
			overlap, ok := ResolveCollision(&s.bots[i], &s.bots[j])
			if !ok {
				continue
			}
			resolved++
			loggingSimulation.BotCollision(
				context.Background(),
				s.publisher,
				s.steps,
				logging.EntityRef{ID: s.bots[i].ID, Kind: logging.EntityKindBot},
				logging.EntityRef{ID: s.bots[j].ID, Kind: logging.EntityKindBot},
				loggingSimulation.BotCollisionPayload{Overlap: overlap},
			)
		}
	}
	return resolved
}

// reflect inverts an axis once the bot's edge reaches a wall while still
// heading into it. The check runs after the move, so a bot can overshoot by
// at most one step.
func (s *BotSimulator) reflect(bot *Bot) {
	r := bot.Radius
	if (bot.Pos.X-r <= 0 && bot.Dir.DX < 0) || (bot.Pos.X+r >= s.arena.Width && bot.Dir.DX > 0) {
		bot.Dir.DX = -bot.Dir.DX
	}
	if (bot.Pos.Y-r <= 0 && bot.Dir.DY < 0) || (bot.Pos.Y+r >= s.arena.Height && bot.Dir.DY > 0) {
		bot.Dir.DY = -bot.Dir.DY
	}
}

// ResolveCollision separates two overlapping bots along the line between
// their centres, each moving half the overlap, and inverts both headings.
// Coincident centres separate along +X. It reports the overlap that was
// resolved.
func ResolveCollision(a, b *Bot) (float64, bool) {
	delta := b.Pos.Sub(a.Pos)
	dist := delta.Len()
	minDist := a.Radius + b.Radius
	if dist >= minDist {
		return 0, false
	}

	normal := Vec{X: 1, Y: 0}
	if dist > 0 {
		normal = delta.Scale(1 / dist)
	}
	overlap := minDist - dist
	push := normal.Scale(overlap / 2)
	a.Pos = a.Pos.Sub(push)
	b.Pos = b.Pos.Add(push)

	a.Dir = Heading{DX: -a.Dir.DX, DY: -a.Dir.DY}
	b.Dir = Heading{DX: -b.Dir.DX, DY: -b.Dir.DY}
	return overlap, true
}

func randomInside(arena Arena, radius float64, rng *rand.Rand) Vec {
	span := func(extent float64) float64 {
		room := extent - 2*radius
		if room <= 0 || rng == nil {
			return extent / 2
		}
		return radius + rng.Float64()*room
	}
	return Vec{X: span(arena.Width), Y: span(arena.Height)}
}

func randomSign(rng *rand.Rand) float64 {
	if rng != nil && rng.Intn(2) == 0 {
		return -1
	}
	return 1
}

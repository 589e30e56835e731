package simulation

import (
	"context"

	"arena-sync/logging"
)

const (
	// EventBotCollision is emitted when two bots overlap and are pushed apart.
	EventBotCollision logging.EventType = "simulation.bot_collision"
	// EventEntityBlocked is emitted when a bot blocks the local entity's move.
	EventEntityBlocked logging.EventType = "simulation.entity_blocked"
	// EventTickOverrun is emitted when a fixed-timestep tick outlasts its budget.
	EventTickOverrun logging.EventType = "simulation.tick_overrun"
)

// BotCollisionPayload captures the overlap that was resolved.
type BotCollisionPayload struct {
	Overlap float64 `json:"overlap"`
}

// EntityBlockedPayload captures the rejected displacement.
type EntityBlockedPayload struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// TickOverrunPayload captures timing details for a slow tick.
type TickOverrunPayload struct {
	DurationMillis float64 `json:"durationMillis"`
	BudgetMillis   float64 `json:"budgetMillis"`
	CatchupTicks   int     `json:"catchupTicks"`
}

// BotCollision publishes a debug event for a resolved bot pair.
func BotCollision(ctx context.Context, pub logging.Publisher, tick uint64, first, second logging.EntityRef, payload BotCollisionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBotCollision,
		Tick:     tick,
		Actor:    first,
		Targets:  []logging.EntityRef{second},
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// EntityBlocked publishes a debug event when a move is reverted.
func EntityBlocked(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntityBlockedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntityBlocked,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

// TickOverrun publishes a warning when the loop falls behind.
func TickOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickOverrunPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTickOverrun,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
	})
}

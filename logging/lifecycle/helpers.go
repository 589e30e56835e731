package lifecycle

import (
	"context"

	"arena-sync/logging"
)

const (
	// EventParticipantStarted is emitted when a participant joins the arena.
	EventParticipantStarted logging.EventType = "lifecycle.participant_started"
	// EventParticipantStopped is emitted when a participant leaves.
	EventParticipantStopped logging.EventType = "lifecycle.participant_stopped"
)

// ParticipantStartedPayload captures spawn metadata for a participant.
type ParticipantStartedPayload struct {
	SpawnX float64 `json:"spawnX"`
	SpawnY float64 `json:"spawnY"`
	Bots   int     `json:"bots"`
	Policy string  `json:"policy"`
}

// ParticipantStoppedPayload captures why a participant left.
type ParticipantStoppedPayload struct {
	Reason string `json:"reason"`
	Ticks  uint64 `json:"ticks"`
}

// ParticipantStarted publishes a participant start event.
func ParticipantStarted(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ParticipantStartedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventParticipantStarted,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// ParticipantStopped publishes a participant stop event.
func ParticipantStopped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ParticipantStoppedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventParticipantStopped,
		Tick:     payload.Ticks,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

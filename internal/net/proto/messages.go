package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TypeMove identifies movement messages on the wire.
const TypeMove = "move"

// Direction is the movement vector carried by a MoveEvent.
type Direction struct {
	X float64 `json:"x" jsonschema:"required"`
	Y float64 `json:"y" jsonschema:"required"`
}

// IsZero reports whether the direction carries no movement.
func (d Direction) IsZero() bool {
	return d.X == 0 && d.Y == 0
}

// MoveEvent is the only message relayed between participants. The bridge
// forwards it verbatim and never decodes it.
type MoveEvent struct {
	Type      string    `json:"type" jsonschema:"required,enum=move"`
	User      string    `json:"user" jsonschema:"required,description=Opaque identity of the originating participant"`
	Direction Direction `json:"direction" jsonschema:"required"`
}

// NewMove builds a move event for user.
func NewMove(user string, direction Direction) MoveEvent {
	return MoveEvent{Type: TypeMove, User: user, Direction: direction}
}

// DirectionPolicy chooses what a participant broadcasts as its direction.
type DirectionPolicy string

const (
	// PolicyRaw broadcasts the per-tick velocity, e.g. {2,0} at speed 2.
	PolicyRaw DirectionPolicy = "raw"
	// PolicyNormalized broadcasts the sign of each axis, e.g. {1,0}.
	PolicyNormalized DirectionPolicy = "normalized"
)

// ParseDirectionPolicy accepts "raw" or "normalized" (case-insensitive).
func ParseDirectionPolicy(raw string) (DirectionPolicy, error) {
	switch DirectionPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case PolicyRaw, "":
		return PolicyRaw, nil
	case PolicyNormalized:
		return PolicyNormalized, nil
	default:
		return "", fmt.Errorf("unknown direction policy %q", raw)
	}
}

// Apply converts a requested velocity into the broadcast direction.
func (p DirectionPolicy) Apply(vx, vy float64) Direction {
	if p == PolicyNormalized {
		return Direction{X: sign(vx), Y: sign(vy)}
	}
	return Direction{X: vx, Y: vy}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

var (
	// ErrEmptyPayload is returned when decoding zero bytes.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrMissingType is returned when a payload has no type field.
	ErrMissingType = errors.New("missing message type")
	// ErrMissingUser is returned for a move without an originating user.
	ErrMissingUser = errors.New("move without user")
	// ErrMissingDirection is returned for a move whose direction is absent,
	// null or lacks an axis.
	ErrMissingDirection = errors.New("move without direction")
)

// wireMessage mirrors MoveEvent with pointers so absent and null fields can
// be told apart from zero values.
type wireMessage struct {
	Type      string         `json:"type"`
	User      *string        `json:"user"`
	Direction *wireDirection `json:"direction"`
}

type wireDirection struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// EncodeMove renders the wire form of a move event.
func EncodeMove(event MoveEvent) ([]byte, error) {
	if event.Type == "" {
		event.Type = TypeMove
	}
	if event.User == "" {
		return nil, errors.New("encode move: missing user")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode move: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload. Unknown message types decode successfully
// with only Type and User populated; callers filter on Type. A move must
// carry a non-empty user and both direction axes.
func Decode(payload []byte) (MoveEvent, error) {
	if len(payload) == 0 {
		return MoveEvent{}, ErrEmptyPayload
	}
	var msg wireMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return MoveEvent{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return MoveEvent{}, ErrMissingType
	}
	event := MoveEvent{Type: msg.Type}
	if msg.User != nil {
		event.User = *msg.User
	}
	if msg.Type != TypeMove {
		return event, nil
	}
	if event.User == "" {
		return MoveEvent{}, ErrMissingUser
	}
	if msg.Direction == nil || msg.Direction.X == nil || msg.Direction.Y == nil {
		return MoveEvent{}, ErrMissingDirection
	}
	event.Direction = Direction{X: *msg.Direction.X, Y: *msg.Direction.Y}
	return event, nil
}

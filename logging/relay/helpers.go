package relay

import (
	"context"

	"arena-sync/logging"
)

const (
	// EventRemoteMove is emitted when a movement from another participant is surfaced.
	EventRemoteMove logging.EventType = "relay.remote_move"
	// EventEchoSuppressed is emitted when an inbound event carries the local identity.
	EventEchoSuppressed logging.EventType = "relay.echo_suppressed"
	// EventMalformedMessage is emitted when an inbound payload cannot be decoded.
	EventMalformedMessage logging.EventType = "relay.malformed_message"
	// EventOutboundDropped is emitted when the bridge discards an outbound payload.
	EventOutboundDropped logging.EventType = "relay.outbound_dropped"
	// EventSessionOpened is emitted when a session registers with the bridge.
	EventSessionOpened logging.EventType = "relay.session_opened"
	// EventSessionClosed is emitted when a session deregisters from the bridge.
	EventSessionClosed logging.EventType = "relay.session_closed"
	// EventUpstreamState is emitted on every upstream connection state transition.
	EventUpstreamState logging.EventType = "relay.upstream_state"
)

// RemoteMovePayload describes a surfaced movement.
type RemoteMovePayload struct {
	User string  `json:"user"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// MalformedPayload captures why a payload was rejected.
type MalformedPayload struct {
	Error string `json:"error"`
	Bytes int    `json:"bytes"`
}

// DroppedPayload captures why an outbound payload never reached the upstream.
type DroppedPayload struct {
	Reason string `json:"reason"`
	Bytes  int    `json:"bytes"`
}

// UpstreamStatePayload records a bridge state transition.
type UpstreamStatePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// RemoteMove publishes a surfaced remote movement.
func RemoteMove(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload RemoteMovePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventRemoteMove,
		Actor:    actor,
		Targets:  []logging.EntityRef{{ID: payload.User, Kind: logging.EntityKindParticipant}},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRelay,
		Payload:  payload,
	})
}

// EchoSuppressed publishes a debug event for a discarded self-originated message.
func EchoSuppressed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEchoSuppressed,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryRelay,
	})
}

// MalformedMessage publishes a warning for an undecodable inbound payload.
func MalformedMessage(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload MalformedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventMalformedMessage,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryRelay,
		Payload:  payload,
	})
}

// OutboundDropped publishes a debug event for a payload the bridge discarded.
func OutboundDropped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload DroppedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventOutboundDropped,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryRelay,
		Payload:  payload,
	})
}

// SessionOpened publishes a session registration.
func SessionOpened(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, sessions int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionOpened,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRelay,
		Extra:    map[string]any{"sessions": sessions},
	})
}

// SessionClosed publishes a session deregistration.
func SessionClosed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, sessions int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionClosed,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryRelay,
		Extra:    map[string]any{"sessions": sessions},
	})
}

// UpstreamState publishes a bridge connection state transition. Failures are
// raised at warning level.
func UpstreamState(ctx context.Context, pub logging.Publisher, payload UpstreamStatePayload) {
	if pub == nil {
		return
	}
	severity := logging.SeverityInfo
	if payload.Error != "" {
		severity = logging.SeverityWarn
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventUpstreamState,
		Actor:    logging.EntityRef{Kind: logging.EntityKindBridge},
		Targets:  []logging.EntityRef{{ID: payload.URL, Kind: logging.EntityKindUpstream}},
		Severity: severity,
		Category: logging.CategoryRelay,
		Payload:  payload,
	})
}

package relay

import (
	"context"

	"arena-sync/internal/net/proto"
	"arena-sync/internal/telemetry"
	"arena-sync/logging"
	loggingRelay "arena-sync/logging/relay"
)

// Outcome records what the consumer did with one inbound payload.
type Outcome int

const (
	OutcomeSurfaced Outcome = iota
	OutcomeSuppressed
	OutcomeIgnored
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSurfaced:
		return "surfaced"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ConsumerConfig wires a Consumer. LocalID is the participant's own identity
// used for echo suppression.
type ConsumerConfig struct {
	LocalID   string
	OnMove    func(proto.MoveEvent)
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Consumer decodes inbound payloads and surfaces remote movements. It never
// mutates simulation state.
type Consumer struct {
	localID   string
	onMove    func(proto.MoveEvent)
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Consumer{
		localID:   cfg.LocalID,
		onMove:    cfg.OnMove,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
	}
}

// Handle processes one payload. Malformed input is logged and discarded.
func (c *Consumer) Handle(payload []byte) Outcome {
	ctx := context.Background()
	actor := logging.EntityRef{ID: c.localID, Kind: logging.EntityKindParticipant}

	event, err := proto.Decode(payload)
	if err != nil {
		c.metrics.Add("relay.malformed", 1)
		c.logger.Printf("discarding malformed message: %v", err)
		loggingRelay.MalformedMessage(ctx, c.publisher, actor, loggingRelay.MalformedPayload{
			Error: err.Error(),
			Bytes: len(payload),
		})
		return OutcomeMalformed
	}
	if event.Type != proto.TypeMove {
		c.metrics.Add("relay.ignored", 1)
		return OutcomeIgnored
	}
	if event.User == c.localID {
		c.metrics.Add("relay.suppressed", 1)
		loggingRelay.EchoSuppressed(ctx, c.publisher, actor)
		return OutcomeSuppressed
	}

	c.metrics.Add("relay.surfaced", 1)
	loggingRelay.RemoteMove(ctx, c.publisher, actor, loggingRelay.RemoteMovePayload{
		User: event.User,
		X:    event.Direction.X,
		Y:    event.Direction.Y,
	})
	if c.onMove != nil {
		c.onMove(event)
	}
	return OutcomeSurfaced
}

// Handler adapts the consumer to Session.OnReceive.
func (c *Consumer) Handler() func([]byte) {
	return func(payload []byte) {
		c.Handle(payload)
	}
}

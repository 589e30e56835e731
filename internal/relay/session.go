package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"arena-sync/internal/net/proto"
	"arena-sync/internal/telemetry"
)

// Transport carries pre-serialised payloads between a session and the
// bridge. *bridge.Port and *WebsocketTransport satisfy it.
type Transport interface {
	Post(payload []byte)
	Messages() <-chan []byte
	Close()
}

// ErrNoTransport is returned when a session is built without a transport.
var ErrNoTransport = errors.New("relay: nil transport")

// NewSessionID returns a fresh random participant identity.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionOptions carries optional collaborators.
type SessionOptions struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Session is a participant's handle on the relay. It passes encoded
// payloads through untouched and never blocks the caller.
type Session struct {
	id        string
	transport Transport
	logger    telemetry.Logger
	metrics   telemetry.Metrics

	mu       sync.RWMutex
	handlers []func([]byte)

	closeOnce sync.Once
}

// NewSession binds id to transport. An empty id gets a generated UUID.
func NewSession(id string, transport Transport, opts SessionOptions) (*Session, error) {
	if transport == nil {
		return nil, ErrNoTransport
	}
	if id == "" {
		id = NewSessionID()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Session{
		id:        id,
		transport: transport,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

func (s *Session) ID() string {
	return s.id
}

// Send encodes event and posts it. Delivery is best effort; only an encoding
// failure is reported.
func (s *Session) Send(event proto.MoveEvent) error {
	payload, err := proto.EncodeMove(event)
	if err != nil {
		s.logger.Printf("session %s: %v", s.id, err)
		return err
	}
	s.transport.Post(payload)
	s.metrics.Add("relay.sent", 1)
	return nil
}

// OnReceive registers handler for every inbound payload on this session.
func (s *Session) OnReceive(handler func([]byte)) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// Run dispatches inbound payloads to the handlers in arrival order until ctx
// is cancelled or the transport closes.
func (s *Session) Run(ctx context.Context) error {
	messages := s.transport.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-messages:
			if !ok {
				return nil
			}
			s.metrics.Add("relay.received", 1)
			s.dispatch(payload)
		}
	}
}

func (s *Session) dispatch(payload []byte) {
	s.mu.RLock()
	handlers := s.handlers
	s.mu.RUnlock()
	for _, handler := range handlers {
		handler(payload)
	}
}

// Close deregisters from the bridge. Other sessions are unaffected.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.transport.Close()
	})
}

package bridge

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"arena-sync/internal/telemetry"
	"arena-sync/logging"
	loggingRelay "arena-sync/logging/relay"
)

const (
	defaultPortBuffer = 64
	defaultWriteQueue = 256
)

// ErrStopped is returned when registering with a bridge whose Run loop has
// exited.
var ErrStopped = errors.New("bridge stopped")

// Config wires a Bridge. Only URL is required for a working upstream; an
// empty URL keeps the bridge permanently disconnected.
type Config struct {
	URL        string
	Dialer     Dialer
	PortBuffer int
	WriteQueue int
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics
	Publisher  logging.Publisher
}

// Stats is a point-in-time view of the bridge.
type Stats struct {
	State     string `json:"state"`
	URL       string `json:"url,omitempty"`
	Ports     int    `json:"ports"`
	Connects  uint64 `json:"connects"`
	Forwarded uint64 `json:"forwarded"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

type outboundMessage struct {
	port    *Port
	payload []byte
}

type inboundFrame struct {
	generation uint64
	payload    []byte
}

type dialResult struct {
	generation uint64
	conn       Conn
	err        error
}

type connLost struct {
	generation uint64
	err        error
}

// Bridge multiplexes every registered Port onto one upstream connection.
// All mutable state below the channels is owned by the Run goroutine.
type Bridge struct {
	url        string
	dialer     Dialer
	portBuffer int
	writeQueue int
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	publisher  logging.Publisher

	register   chan *Port
	unregister chan *Port
	outbound   chan outboundMessage
	inbound    chan inboundFrame
	dialed     chan dialResult
	lost       chan connLost
	statsReq   chan chan Stats
	done       chan struct{}
	running    atomic.Bool

	dropped atomic.Uint64

	state      State
	generation uint64
	conn       Conn
	writer     *upstreamWriter
	ports      map[*Port]struct{}
	connects   uint64
	forwarded  uint64
	delivered  uint64
	final      Stats
}

func New(cfg Config) *Bridge {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	portBuffer := cfg.PortBuffer
	if portBuffer <= 0 {
		portBuffer = defaultPortBuffer
	}
	writeQueue := cfg.WriteQueue
	if writeQueue <= 0 {
		writeQueue = defaultWriteQueue
	}
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
	return &Bridge{
		url:        cfg.URL,
		dialer:     dialer,
		portBuffer: portBuffer,
		writeQueue: writeQueue,
		logger:     logger,
		metrics:    metrics,
		publisher:  publisher,
		register:   make(chan *Port),
		unregister: make(chan *Port),
		outbound:   make(chan outboundMessage, writeQueue),
		inbound:    make(chan inboundFrame, writeQueue),
		dialed:     make(chan dialResult, 1),
		lost:       make(chan connLost, 1),
		statsReq:   make(chan chan Stats),
		done:       make(chan struct{}),
		ports:      make(map[*Port]struct{}),
	}
}

// Register attaches a new port. The first registration while disconnected
// starts a connection attempt. Register blocks until Run accepts the port,
// so before Run has started it waits for Run or for ctx.
func (b *Bridge) Register(ctx context.Context, id string) (*Port, error) {
	port := newPort(b, id, b.portBuffer)
	select {
	case b.register <- port:
		return port, nil
	case <-b.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats asks the Run goroutine for a snapshot. Before Run has started it
// reports the idle bridge; after Run has exited it returns the final snapshot.
func (b *Bridge) Stats() Stats {
	if !b.running.Load() {
		return Stats{State: Disconnected.String(), URL: b.url, Dropped: b.dropped.Load()}
	}
	reply := make(chan Stats, 1)
	select {
	case b.statsReq <- reply:
		return <-reply
	case <-b.done:
		return b.final
	}
}

// Done is closed once Run has returned.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Run owns the upstream connection and every port until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("bridge already running")
	}
	defer close(b.done)
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case port := <-b.register:
			b.ports[port] = struct{}{}
			b.metrics.Store("bridge.ports", uint64(len(b.ports)))
			loggingRelay.SessionOpened(ctx, b.publisher, port.ref(), len(b.ports))
			if b.state == Disconnected {
				b.connect(ctx)
			}
		case port := <-b.unregister:
			if _, ok := b.ports[port]; !ok {
				continue
			}
			delete(b.ports, port)
			close(port.messages)
			b.metrics.Store("bridge.ports", uint64(len(b.ports)))
			loggingRelay.SessionClosed(ctx, b.publisher, port.ref(), len(b.ports))
		case msg := <-b.outbound:
			b.send(ctx, msg)
		case frame := <-b.inbound:
			if frame.generation != b.generation || b.state != Connected {
				continue
			}
			b.fanOut(frame.payload)
		case result := <-b.dialed:
			b.handleDial(ctx, result)
		case lost := <-b.lost:
			if lost.generation != b.generation || b.state != Connected {
				continue
			}
			b.closeUpstream()
			message := "closed"
			if lost.err != nil {
				message = lost.err.Error()
			}
			b.logger.Printf("upstream %s lost: %s", b.url, message)
			b.transition(ctx, Disconnected, message)
		case reply := <-b.statsReq:
			reply <- b.snapshot()
		}
	}
}

func (b *Bridge) connect(ctx context.Context) {
	if b.url == "" {
		return
	}
	b.generation++
	generation := b.generation
	b.transition(ctx, Connecting, "")
	go func() {
		conn, err := b.dialer.Dial(ctx, b.url)
		select {
		case b.dialed <- dialResult{generation: generation, conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (b *Bridge) handleDial(ctx context.Context, result dialResult) {
	if result.generation != b.generation || b.state != Connecting {
		if result.conn != nil {
			result.conn.Close()
		}
		return
	}
	if result.err != nil {
		b.logger.Printf("upstream connect failed: %v", result.err)
		b.metrics.Add("bridge.connect_failures", 1)
		b.transition(ctx, Disconnected, result.err.Error())
		return
	}
	b.conn = result.conn
	b.connects++
	b.metrics.Add("bridge.connects", 1)
	b.writer = newUpstreamWriter(result.conn, b.writeQueue)
	go b.writer.run(ctx, result.generation, b.lost)
	go b.read(ctx, result.conn, result.generation)
	b.transition(ctx, Connected, "")
}

func (b *Bridge) read(ctx context.Context, conn Conn, generation uint64) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case b.lost <- connLost{generation: generation, err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case b.inbound <- inboundFrame{generation: generation, payload: payload}:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) send(ctx context.Context, msg outboundMessage) {
	if _, ok := b.ports[msg.port]; !ok {
		b.drop(ctx, msg, "deregistered")
		return
	}
	if b.state != Connected || b.writer == nil {
		b.drop(ctx, msg, "disconnected")
		return
	}
	if !b.writer.enqueue(msg.payload) {
		b.drop(ctx, msg, "write_queue_full")
		return
	}
	b.forwarded++
	b.metrics.Add("bridge.forwarded", 1)
}

func (b *Bridge) drop(ctx context.Context, msg outboundMessage, reason string) {
	b.dropped.Add(1)
	b.metrics.Add("bridge.dropped", 1)
	var actor logging.EntityRef
	if msg.port != nil {
		actor = msg.port.ref()
	}
	loggingRelay.OutboundDropped(ctx, b.publisher, actor, loggingRelay.DroppedPayload{Reason: reason, Bytes: len(msg.payload)})
}

// fanOut hands the payload to every port without blocking. A port whose
// buffer is full misses the message.
func (b *Bridge) fanOut(payload []byte) {
	for port := range b.ports {
		select {
		case port.messages <- payload:
			b.delivered++
		default:
			b.metrics.Add("bridge.delivery_dropped", 1)
		}
	}
	b.metrics.Add("bridge.inbound", 1)
}

func (b *Bridge) transition(ctx context.Context, next State, errMessage string) {
	previous := b.state
	b.state = next
	b.metrics.Store("bridge.state", uint64(next))
	loggingRelay.UpstreamState(ctx, b.publisher, loggingRelay.UpstreamStatePayload{
		From:  previous.String(),
		To:    next.String(),
		URL:   b.url,
		Error: errMessage,
	})
}

func (b *Bridge) closeUpstream() {
	if b.writer != nil {
		b.writer.close()
		b.writer = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *Bridge) snapshot() Stats {
	return Stats{
		State:     b.state.String(),
		URL:       b.url,
		Ports:     len(b.ports),
		Connects:  b.connects,
		Forwarded: b.forwarded,
		Delivered: b.delivered,
		Dropped:   b.dropped.Load(),
	}
}

func (b *Bridge) shutdown() {
	b.closeUpstream()
	b.state = Disconnected
	for port := range b.ports {
		close(port.messages)
		delete(b.ports, port)
	}
	b.final = b.snapshot()
}

// upstreamWriter serialises writes to the upstream socket. Only the Run
// goroutine enqueues or closes it.
type upstreamWriter struct {
	conn  Conn
	queue chan []byte
}

func newUpstreamWriter(conn Conn, size int) *upstreamWriter {
	return &upstreamWriter{conn: conn, queue: make(chan []byte, size)}
}

func (w *upstreamWriter) enqueue(payload []byte) bool {
	select {
	case w.queue <- payload:
		return true
	default:
		return false
	}
}

func (w *upstreamWriter) close() {
	close(w.queue)
}

func (w *upstreamWriter) run(ctx context.Context, generation uint64, lost chan<- connLost) {
	for payload := range w.queue {
		if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			select {
			case lost <- connLost{generation: generation, err: err}:
			case <-ctx.Done():
			}
			for range w.queue {
			}
			return
		}
	}
}

package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"arena-sync/internal/telemetry"
	loggingRelay "arena-sync/logging/relay"
	"arena-sync/logging/sinks"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeConn struct {
	incoming  chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case payload := <-c.incoming:
		return websocket.TextMessage, payload, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	dials int
	conns []*fakeConn
	gate  chan struct{}
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func startBridge(t *testing.T, cfg Config) (*Bridge, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := New(cfg)
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		select {
		case <-b.Done():
		case <-time.After(2 * time.Second):
			t.Errorf("bridge did not stop")
		}
	})
	return b, cancel
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func register(t *testing.T, b *Bridge, id string) *Port {
	t.Helper()
	port, err := b.Register(context.Background(), id)
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return port
}

func receive(t *testing.T, port *Port) []byte {
	t.Helper()
	select {
	case payload, ok := <-port.Messages():
		if !ok {
			t.Fatalf("port %s closed unexpectedly", port.ID())
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("port %s received nothing", port.ID())
	}
	return nil
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		State(42):    "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestBridgeDoesNotDialBeforeRegistration(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer})

	if stats := b.Stats(); stats.State != "disconnected" {
		t.Fatalf("expected disconnected before any registration, got %s", stats.State)
	}
	if dialer.Dials() != 0 {
		t.Fatalf("expected no dial before registration, got %d", dialer.Dials())
	}

	register(t, b, "a")
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })
	register(t, b, "b")

	if stats := b.Stats(); stats.Ports != 2 || stats.Connects != 1 {
		t.Fatalf("expected 2 ports over 1 connection, got %+v", stats)
	}
	if dialer.Dials() != 1 {
		t.Fatalf("expected a single upstream dial, got %d", dialer.Dials())
	}
}

func TestSendWhileConnectingProducesNoUpstreamBytes(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	counters := telemetry.NewCounters()
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer, Metrics: counters})

	port := register(t, b, "a")
	waitFor(t, "connecting", func() bool { return b.Stats().State == "connecting" })

	port.Post([]byte(`{"type":"move","user":"a","direction":{"x":1,"y":0}}`))
	waitFor(t, "drop", func() bool { return b.Stats().Dropped == 1 })

	close(dialer.gate)
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })

	if written := dialer.Conn(0).Written(); len(written) != 0 {
		t.Fatalf("expected dropped payload never to reach upstream, got %q", written)
	}
	if counters.Value("bridge.dropped") != 1 {
		t.Fatalf("expected dropped counter 1, got %d", counters.Value("bridge.dropped"))
	}
}

func TestBridgeWithoutURLStaysDisconnected(t *testing.T) {
	dialer := &fakeDialer{}
	memory := sinks.NewMemorySink()
	b, _ := startBridge(t, Config{Dialer: dialer, Publisher: memory})

	port := register(t, b, "a")
	port.Post([]byte("payload"))
	waitFor(t, "drop", func() bool { return b.Stats().Dropped == 1 })

	if dialer.Dials() != 0 {
		t.Fatalf("expected no dial without URL, got %d", dialer.Dials())
	}
	if got := len(memory.EventsOfType(loggingRelay.EventOutboundDropped)); got != 1 {
		t.Fatalf("expected one outbound_dropped event, got %d", got)
	}
}

func TestBridgeForwardsOutboundVerbatim(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer})

	port := register(t, b, "a")
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })

	payload := []byte(`not even json`)
	port.Post(payload)
	waitFor(t, "upstream write", func() bool { return len(dialer.Conn(0).Written()) == 1 })

	if got := dialer.Conn(0).Written()[0]; !bytes.Equal(got, payload) {
		t.Fatalf("expected verbatim payload, got %q", got)
	}
	if stats := b.Stats(); stats.Forwarded != 1 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestBridgeFansInboundOutToEveryPort(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer})

	first := register(t, b, "a")
	second := register(t, b, "b")
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })

	for _, payload := range []string{"one", "two"} {
		dialer.Conn(0).incoming <- []byte(payload)
	}

	for _, port := range []*Port{first, second} {
		if got := string(receive(t, port)); got != "one" {
			t.Fatalf("port %s expected first message, got %q", port.ID(), got)
		}
		if got := string(receive(t, port)); got != "two" {
			t.Fatalf("port %s expected second message, got %q", port.ID(), got)
		}
	}
}

func TestClosingPortKeepsUpstreamOpen(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer})

	first := register(t, b, "a")
	second := register(t, b, "b")
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })

	first.Close()
	first.Close()
	select {
	case _, ok := <-first.Messages():
		if ok {
			t.Fatalf("expected closed port channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("closed port channel never closed")
	}

	dialer.Conn(0).incoming <- []byte("still here")
	if got := string(receive(t, second)); got != "still here" {
		t.Fatalf("expected remaining port to keep receiving, got %q", got)
	}
	if stats := b.Stats(); stats.State != "connected" || stats.Ports != 1 {
		t.Fatalf("unexpected stats after close %+v", stats)
	}
}

func TestUpstreamLossDisconnectsAndNextRegistrationReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	memory := sinks.NewMemorySink()
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer, Publisher: memory})

	port := register(t, b, "a")
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })

	dialer.Conn(0).Close()
	waitFor(t, "disconnected", func() bool { return b.Stats().State == "disconnected" })

	port.Post([]byte("lost"))
	waitFor(t, "drop", func() bool { return b.Stats().Dropped == 1 })
	if dialer.Dials() != 1 {
		t.Fatalf("expected no automatic redial, got %d dials", dialer.Dials())
	}

	register(t, b, "b")
	waitFor(t, "reconnected", func() bool { return b.Stats().State == "connected" })
	if dialer.Dials() != 2 {
		t.Fatalf("expected redial on registration, got %d", dialer.Dials())
	}

	var transitions []string
	for _, event := range memory.EventsOfType(loggingRelay.EventUpstreamState) {
		payload := event.Payload.(loggingRelay.UpstreamStatePayload)
		transitions = append(transitions, payload.From+">"+payload.To)
	}
	want := []string{
		"disconnected>connecting",
		"connecting>connected",
		"connected>disconnected",
		"disconnected>connecting",
		"connecting>connected",
	}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, transitions)
		}
	}
}

func TestDialFailureReturnsToDisconnected(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("refused")}
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer})

	register(t, b, "a")
	waitFor(t, "failed dial", func() bool { return dialer.Dials() == 1 && b.Stats().State == "disconnected" })
	if stats := b.Stats(); stats.Connects != 0 {
		t.Fatalf("expected no successful connects, got %d", stats.Connects)
	}
}

func TestStoppedBridgeClosesPortsAndRejectsRegistration(t *testing.T) {
	dialer := &fakeDialer{}
	b, cancel := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer})

	port := register(t, b, "a")
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })
	cancel()
	<-b.Done()

	if _, ok := <-port.Messages(); ok {
		t.Fatalf("expected port channel closed on stop")
	}
	if _, err := b.Register(context.Background(), "late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	port.Post([]byte("after stop"))
	port.Close()
	if stats := b.Stats(); stats.State != "disconnected" || stats.Ports != 0 {
		t.Fatalf("unexpected final stats %+v", stats)
	}
}

func TestClosedPortPostsNeverReachUpstream(t *testing.T) {
	dialer := &fakeDialer{}
	b, _ := startBridge(t, Config{URL: "ws://upstream", Dialer: dialer})

	closed := register(t, b, "a")
	open := register(t, b, "b")
	waitFor(t, "connected", func() bool { return b.Stats().State == "connected" })

	closed.Close()
	closed.Post([]byte("from closed port"))
	open.Post([]byte("from open port"))
	waitFor(t, "upstream write", func() bool { return len(dialer.Conn(0).Written()) == 1 })

	if got := string(dialer.Conn(0).Written()[0]); got != "from open port" {
		t.Fatalf("expected only the open port's payload upstream, got %q", got)
	}
	if stats := b.Stats(); stats.Forwarded != 1 || stats.Dropped != 1 {
		t.Fatalf("expected 1 forwarded and 1 dropped, got %+v", stats)
	}
}

func TestBridgeBeforeRun(t *testing.T) {
	b := New(Config{URL: "ws://upstream", Dialer: &fakeDialer{}})

	stats := b.Stats()
	if stats.State != "disconnected" || stats.Ports != 0 || stats.URL != "ws://upstream" {
		t.Fatalf("unexpected idle stats %+v", stats)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Register(ctx, "early"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected register to wait for Run, got %v", err)
	}
}

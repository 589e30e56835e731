package relay

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"arena-sync/internal/telemetry"
)

const defaultTransportBuffer = 64

// WebsocketTransport reaches a bridge running in another process through its
// /ws endpoint.
type WebsocketTransport struct {
	conn     *websocket.Conn
	logger   telemetry.Logger
	messages chan []byte
	outbound chan []byte
	done     chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialBridge connects to the bridge at baseURL (ws:// or wss://) as id.
func DialBridge(ctx context.Context, baseURL, id string, logger telemetry.Logger) (*WebsocketTransport, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if target.Path == "" || target.Path == "/" {
		target.Path = "/ws"
	}
	query := target.Query()
	query.Set("id", id)
	target.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge %s: %w", target.Redacted(), err)
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}

	t := &WebsocketTransport{
		conn:     conn,
		logger:   logger,
		messages: make(chan []byte, defaultTransportBuffer),
		outbound: make(chan []byte, defaultTransportBuffer),
		done:     make(chan struct{}),
	}
	t.wg.Add(2)
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

// Post queues payload for the bridge, dropping it when the queue is full or
// the transport is closed.
func (t *WebsocketTransport) Post(payload []byte) {
	select {
	case <-t.done:
		return
	default:
	}
	select {
	case t.outbound <- payload:
	default:
	}
}

func (t *WebsocketTransport) Messages() <-chan []byte {
	return t.messages
}

// Close shuts the socket and waits for the pumps to exit.
func (t *WebsocketTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.Close()
	})
	t.wg.Wait()
}

func (t *WebsocketTransport) readLoop() {
	defer t.wg.Done()
	defer close(t.messages)
	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Printf("bridge connection closed: %v", err)
			}
			return
		}
		select {
		case t.messages <- payload:
		case <-t.done:
			return
		}
	}
}

func (t *WebsocketTransport) writeLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case payload := <-t.outbound:
			if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				t.logger.Printf("write to bridge failed: %v", err)
				return
			}
		}
	}
}

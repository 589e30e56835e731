package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the upstream socket owned by the bridge. *websocket.Conn satisfies
// it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the upstream connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the upstream with gorilla/websocket.
type WebsocketDialer struct {
	Dialer           *websocket.Dialer
	Header           http.Header
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		copied := *websocket.DefaultDialer
		if d.HandshakeTimeout > 0 {
			copied.HandshakeTimeout = d.HandshakeTimeout
		}
		dialer = &copied
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial upstream %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial upstream %s: %w", url, err)
	}
	return conn, nil
}

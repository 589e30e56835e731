package ws

import (
	"context"
	"log"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arena-sync/internal/bridge"
	"arena-sync/internal/telemetry"
)

// Registrar hands out bridge ports; *bridge.Bridge satisfies it.
type Registrar interface {
	Register(ctx context.Context, id string) (*bridge.Port, error)
}

type HandlerConfig struct {
	Logger       *log.Logger
	Metrics      telemetry.Metrics
	WriteTimeout time.Duration
}

// Handler attaches websocket participants to the bridge. Frames are relayed
// verbatim in both directions; nothing is decoded here.
type Handler struct {
	bridge       Registrar
	logger       *log.Logger
	metrics      telemetry.Metrics
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

func NewHandler(b Registrar, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		bridge:       b,
		logger:       logger,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		upgrader:     upgrader,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	sessionID := r.URL.Query().Get("id")
	if sessionID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", sessionID, err)
		return
	}
	defer conn.Close()

	port, err := h.bridge.Register(r.Context(), sessionID)
	if err != nil {
		h.logger.Printf("register %s failed: %v", sessionID, err)
		message := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "bridge unavailable")
		conn.WriteMessage(websocket.CloseMessage, message)
		return
	}
	h.metrics.Add("ws.sessions", 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pumpToClient(sessionID, conn, port)
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.metrics.Add("ws.frames_in", 1)
		port.Post(payload)
	}

	port.Close()
	wg.Wait()
}

// pumpToClient is the only writer on conn. It exits when the port closes or
// a write fails, closing conn so the read loop stops too.
func (h *Handler) pumpToClient(sessionID string, conn *websocket.Conn, port *bridge.Port) {
	defer conn.Close()
	for payload := range port.Messages() {
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Printf("write to %s failed: %v", sessionID, err)
			conn.Close()
			for range port.Messages() {
			}
			return
		}
		h.metrics.Add("ws.frames_out", 1)
	}
}

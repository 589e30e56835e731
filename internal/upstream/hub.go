package upstream

import (
	"context"
	"fmt"
	"log"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"arena-sync/internal/telemetry"
	"arena-sync/logging"
	loggingRelay "arena-sync/logging/relay"
)

const defaultQueueSize = 256

type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
	Logger       *log.Logger
	Metrics      telemetry.Metrics
	Publisher    logging.Publisher
}

type subscriber struct {
	id     string
	conn   *websocket.Conn
	queue  chan []byte
	closed chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// Hub is a development upstream: every frame received from one connected
// bridge is broadcast verbatim to all of them, the sender included.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	nextID      uint64

	queueSize    int
	writeTimeout time.Duration
	logger       *log.Logger
	metrics      telemetry.Metrics
	publisher    logging.Publisher
	upgrader     websocket.Upgrader
}

func NewHub(cfg Config) *Hub {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Hub{
		subscribers:  make(map[*subscriber]struct{}),
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		logger:       logger,
		metrics:      metrics,
		publisher:    publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades a bridge connection and relays its frames until it
// disconnects.
func (h *Hub) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upstream upgrade failed: %v", err)
		return
	}

	sub := h.subscribe(conn, r.RemoteAddr)
	defer h.unsubscribe(sub)

	go h.writeLoop(sub)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.metrics.Add("upstream.frames_in", 1)
		h.Broadcast(payload)
	}
}

// Broadcast queues payload for every subscriber and returns how many
// accepted it. A subscriber whose queue is full is disconnected.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.Lock()
	var slow []*subscriber
	delivered := 0
	for sub := range h.subscribers {
		select {
		case sub.queue <- payload:
			delivered++
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.logger.Printf("dropping slow upstream subscriber %s", sub.id)
		h.metrics.Add("upstream.slow_dropped", 1)
		h.unsubscribe(sub)
	}
	return delivered
}

// Subscribers reports how many bridges are connected.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		h.unsubscribe(sub)
	}
}

func (h *Hub) subscribe(conn *websocket.Conn, remote string) *subscriber {
	h.mu.Lock()
	h.nextID++
	sub := &subscriber{
		id:     fmt.Sprintf("bridge-%d@%s", h.nextID, remote),
		conn:   conn,
		queue:  make(chan []byte, h.queueSize),
		closed: make(chan struct{}),
	}
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.Store("upstream.subscribers", uint64(count))
	loggingRelay.SessionOpened(context.Background(), h.publisher, sub.ref(), count)
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	sub.close()
	if !ok {
		return
	}
	h.metrics.Store("upstream.subscribers", uint64(count))
	loggingRelay.SessionClosed(context.Background(), h.publisher, sub.ref(), count)
}

func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.closed:
			return
		case payload := <-sub.queue:
			sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unsubscribe(sub)
				return
			}
			h.metrics.Add("upstream.frames_out", 1)
		}
	}
}

func (s *subscriber) ref() logging.EntityRef {
	return logging.EntityRef{ID: s.id, Kind: logging.EntityKindUpstream}
}

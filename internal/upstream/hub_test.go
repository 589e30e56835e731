package upstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"arena-sync/internal/telemetry"
	loggingRelay "arena-sync/logging/relay"
	"arena-sync/logging/sinks"
)

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readWithin(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(payload)
}

func TestHubBroadcastsToEverySubscriber(t *testing.T) {
	memory := sinks.NewMemorySink()
	hub := NewHub(Config{Publisher: memory})
	server := httptest.NewServer(NewRouter(hub, telemetry.NewCounters()))
	defer server.Close()
	defer hub.Close()

	first := dial(t, wsURL(server, RelayPath))
	second := dial(t, wsURL(server, RelayPath))
	waitForSubscribers(t, hub, 2)

	message := `{"type":"move","user":"a","direction":{"x":2,"y":0}}`
	if err := first.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := readWithin(t, second); got != message {
		t.Fatalf("expected verbatim broadcast, got %q", got)
	}
	if got := readWithin(t, first); got != message {
		t.Fatalf("expected sender to receive its own frame, got %q", got)
	}
	if got := len(memory.EventsOfType(loggingRelay.EventSessionOpened)); got != 2 {
		t.Fatalf("expected two session_opened events, got %d", got)
	}

	second.Close()
	waitForSubscribers(t, hub, 1)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	counters := telemetry.NewCounters()
	hub := NewHub(Config{QueueSize: 1, Metrics: counters})
	subscribed := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := hub.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.subscribe(conn, "stalled")
		close(subscribed)
	}))
	defer server.Close()

	dial(t, wsURL(server, "/"))
	<-subscribed

	if delivered := hub.Broadcast([]byte("one")); delivered != 1 {
		t.Fatalf("expected first frame queued, got %d", delivered)
	}
	if delivered := hub.Broadcast([]byte("two")); delivered != 0 {
		t.Fatalf("expected full queue to reject, got %d", delivered)
	}
	if hub.Subscribers() != 0 {
		t.Fatalf("expected slow subscriber removed, got %d", hub.Subscribers())
	}
	if counters.Value("upstream.slow_dropped") != 1 {
		t.Fatalf("expected slow_dropped=1, got %d", counters.Value("upstream.slow_dropped"))
	}
}

func TestUpstreamRouterHealthAndDiagnostics(t *testing.T) {
	counters := telemetry.NewCounters()
	counters.Add("upstream.frames_in", 3)
	handler := NewRouter(NewHub(Config{}), counters)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var payload struct {
		Status      string            `json:"status"`
		Subscribers int               `json:"subscribers"`
		Telemetry   map[string]uint64 `json:"telemetry"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if payload.Status != "ok" || payload.Subscribers != 0 || payload.Telemetry["upstream.frames_in"] != 3 {
		t.Fatalf("unexpected diagnostics %+v", payload)
	}
}

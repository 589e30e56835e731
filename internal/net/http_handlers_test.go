package net

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"arena-sync/internal/bridge"
	"arena-sync/internal/telemetry"
	"arena-sync/internal/upstream"
)

func startBridge(t *testing.T, cfg bridge.Config) *bridge.Bridge {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := bridge.New(cfg)
	go b.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})
	return b
}

func toWS(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestHealthEndpoint(t *testing.T) {
	handler := NewHTTPHandler(startBridge(t, bridge.Config{}), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "ok" {
		t.Fatalf("expected body ok, got %q", body)
	}
}

func TestDiagnosticsReportsBridgeAndTelemetry(t *testing.T) {
	counters := telemetry.NewCounters()
	counters.Add("relay.sent", 4)
	handler := NewHTTPHandler(startBridge(t, bridge.Config{URL: ""}), HTTPHandlerConfig{Counters: counters})

	req := httptest.NewRequest(http.MethodGet, "/diagnostics", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}
	var payload struct {
		Status    string            `json:"status"`
		Bridge    bridge.Stats      `json:"bridge"`
		Telemetry map[string]uint64 `json:"telemetry"`
		Logging   any               `json:"logging"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics: %v", err)
	}
	if payload.Status != "ok" || payload.Bridge.State != "disconnected" {
		t.Fatalf("unexpected diagnostics %+v", payload)
	}
	if payload.Telemetry["relay.sent"] != 4 {
		t.Fatalf("expected telemetry counters, got %v", payload.Telemetry)
	}
	if payload.Logging != nil {
		t.Fatalf("expected logging stats omitted without a router, got %v", payload.Logging)
	}
}

func TestWebsocketRequiresID(t *testing.T) {
	handler := NewHTTPHandler(startBridge(t, bridge.Config{}), HTTPHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing id, got %d", resp.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewHTTPHandler(startBridge(t, bridge.Config{}), HTTPHandlerConfig{AllowedOrigins: []string{"http://arena.local"}})

	req := httptest.NewRequest(http.MethodOptions, "/diagnostics", nil)
	req.Header.Set("Origin", "http://arena.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://arena.local" {
		t.Fatalf("expected CORS allow origin header, got %q", got)
	}
}

func TestParticipantsRelayThroughSharedUpstream(t *testing.T) {
	hub := upstream.NewHub(upstream.Config{})
	hubServer := httptest.NewServer(upstream.NewRouter(hub, telemetry.NewCounters()))
	defer hubServer.Close()
	defer hub.Close()

	b := startBridge(t, bridge.Config{URL: toWS(hubServer, upstream.RelayPath)})
	bridgeServer := httptest.NewServer(NewHTTPHandler(b, HTTPHandlerConfig{}))
	defer bridgeServer.Close()

	dial := func(id string) *websocket.Conn {
		conn, _, err := websocket.DefaultDialer.Dial(toWS(bridgeServer, "/ws?id="+id), nil)
		if err != nil {
			t.Fatalf("dial %s: %v", id, err)
		}
		t.Cleanup(func() { conn.Close() })
		return conn
	}
	alice := dial("alice")
	bob := dial("bob")

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats := b.Stats()
		if stats.State == "connected" && stats.Ports == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("bridge never connected both participants: %+v", stats)
		}
		time.Sleep(5 * time.Millisecond)
	}
	for hub.Subscribers() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected exactly one upstream connection, got %d", hub.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}

	message := `{"type":"move","user":"alice","direction":{"x":2,"y":0}}`
	if err := alice.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("%s read: %v", name, err)
		}
		if string(payload) != message {
			t.Fatalf("%s expected verbatim relay, got %q", name, payload)
		}
	}
}

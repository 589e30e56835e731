package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"arena-sync/internal/net/proto"
	"arena-sync/logging"
)

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadParticipantDefaults(t *testing.T) {
	cfg, err := LoadParticipant(missingFile(t))
	if err != nil {
		t.Fatalf("load participant: %v", err)
	}
	if cfg.Width != 500 || cfg.Height != 500 || cfg.Radius != 20 || cfg.Speed != 2 {
		t.Fatalf("unexpected arena defaults %+v", cfg)
	}
	if cfg.SpawnX != 250 || cfg.SpawnY != 250 {
		t.Fatalf("expected centre spawn, got (%g,%g)", cfg.SpawnX, cfg.SpawnY)
	}
	if cfg.BotCount != 0 || cfg.AnnounceKeyDown {
		t.Fatalf("expected bots and key-down announce off by default, got %+v", cfg)
	}
	policy, err := cfg.Policy()
	if err != nil || policy != proto.PolicyRaw {
		t.Fatalf("expected raw policy by default, got %q (%v)", policy, err)
	}
	if cfg.TickRate != 60 || cfg.CatchupMaxTicks != 5 {
		t.Fatalf("unexpected loop defaults %+v", cfg)
	}
	if cfg.UpstreamURL != "" || cfg.DialTimeout != 10*time.Second {
		t.Fatalf("expected no embedded bridge by default, got %q %s", cfg.UpstreamURL, cfg.DialTimeout)
	}
	if len(cfg.Logging.Sinks) != 1 || cfg.Logging.Sinks[0] != "console" {
		t.Fatalf("expected console sink by default, got %v", cfg.Logging.Sinks)
	}
}

func TestLoadParticipantOverrides(t *testing.T) {
	t.Setenv("ARENA_DIRECTION_POLICY", "normalized")
	t.Setenv("ARENA_BOT_COUNT", "6")
	t.Setenv("ARENA_ANNOUNCE_KEYDOWN", "true")
	t.Setenv("ARENA_PARTICIPANT_ID", "tab-1")
	t.Setenv("LOG_SINKS", "console,json")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_CATEGORY_LEVELS", "simulation=warn,Relay=error")

	cfg, err := LoadParticipant(missingFile(t))
	if err != nil {
		t.Fatalf("load participant: %v", err)
	}
	if policy, _ := cfg.Policy(); policy != proto.PolicyNormalized {
		t.Fatalf("expected normalized policy, got %q", policy)
	}
	if cfg.BotCount != 6 || !cfg.AnnounceKeyDown || cfg.ID != "tab-1" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	routerCfg, err := cfg.Logging.Router()
	if err != nil {
		t.Fatalf("router config: %v", err)
	}
	if !routerCfg.HasSink("json") || !routerCfg.HasSink("console") {
		t.Fatalf("expected both sinks, got %v", routerCfg.EnabledSinks)
	}
	if routerCfg.MinimumSeverity != logging.SeverityDebug {
		t.Fatalf("expected debug severity, got %s", routerCfg.MinimumSeverity)
	}
	if routerCfg.SeverityFor(logging.CategorySimulation) != logging.SeverityWarn ||
		routerCfg.SeverityFor(logging.CategoryRelay) != logging.SeverityError ||
		routerCfg.SeverityFor(logging.CategoryLifecycle) != logging.SeverityDebug {
		t.Fatalf("unexpected category severities %v", routerCfg.CategorySeverity)
	}
}

func TestLoadParticipantRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"ARENA_DIRECTION_POLICY": "diagonal",
		"ARENA_RADIUS":           "400",
		"ARENA_BOT_COUNT":        "-1",
		"LOG_LEVEL":              "chatty",
		"LOG_SINKS":              "syslog",
		"ARENA_TICK_RATE":        "fast",
		"ARENA_UPSTREAM_URL":     "http://relay.example",
		"LOG_CATEGORY_LEVELS":    "physics=debug",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := LoadParticipant(missingFile(t)); err == nil {
				t.Fatalf("expected %s=%s to be rejected", key, value)
			}
		})
	}
}

func TestLoadParticipantRejectsSpawnOutsideArena(t *testing.T) {
	cases := []struct {
		name string
		x, y string
	}{
		{name: "left edge", x: "5", y: "250"},
		{name: "right edge", x: "490", y: "250"},
		{name: "top edge", x: "250", y: "-100"},
		{name: "bottom edge", x: "250", y: "481"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ARENA_SPAWN_X", tc.x)
			t.Setenv("ARENA_SPAWN_Y", tc.y)
			if _, err := LoadParticipant(missingFile(t)); err == nil {
				t.Fatalf("expected spawn (%s,%s) to be rejected", tc.x, tc.y)
			}
		})
	}
}

func TestLoadParticipantAcceptsSpawnTouchingWall(t *testing.T) {
	t.Setenv("ARENA_SPAWN_X", "20")
	t.Setenv("ARENA_SPAWN_Y", "480")
	if _, err := LoadParticipant(missingFile(t)); err != nil {
		t.Fatalf("expected spawn flush with the walls to load, got %v", err)
	}
}

func TestLoadBridgeFromDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.env")
	contents := "BRIDGE_ADDR=:9191\nBRIDGE_UPSTREAM_URL=wss://relay.example/ws\nBRIDGE_WRITE_TIMEOUT=250ms\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("BRIDGE_ADDR")
		os.Unsetenv("BRIDGE_UPSTREAM_URL")
		os.Unsetenv("BRIDGE_WRITE_TIMEOUT")
	})

	cfg, err := LoadBridge(path)
	if err != nil {
		t.Fatalf("load bridge: %v", err)
	}
	if cfg.Addr != ":9191" || cfg.UpstreamURL != "wss://relay.example/ws" {
		t.Fatalf("dotenv values not applied: %+v", cfg)
	}
	if cfg.WriteTimeout != 250*time.Millisecond {
		t.Fatalf("expected 250ms write timeout, got %s", cfg.WriteTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard origins by default, got %v", cfg.AllowedOrigins)
	}
}

func TestLoadBridgeRejectsHTTPUpstream(t *testing.T) {
	t.Setenv("BRIDGE_UPSTREAM_URL", "http://relay.example")
	if _, err := LoadBridge(missingFile(t)); err == nil {
		t.Fatalf("expected http upstream to be rejected")
	}
}

func TestLoadUpstreamDefaults(t *testing.T) {
	cfg, err := LoadUpstream(missingFile(t))
	if err != nil {
		t.Fatalf("load upstream: %v", err)
	}
	if cfg.Addr != ":8090" || cfg.QueueSize != 256 {
		t.Fatalf("unexpected upstream defaults %+v", cfg)
	}
}

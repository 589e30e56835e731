package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"arena-sync/internal/net/proto"
	"arena-sync/logging"
)

// Bridge configures the process that owns the upstream connection.
type Bridge struct {
	Addr           string        `env:"BRIDGE_ADDR" envDefault:":8081"`
	UpstreamURL    string        `env:"BRIDGE_UPSTREAM_URL" envDefault:"ws://localhost:8090/relay"`
	PortBuffer     int           `env:"BRIDGE_PORT_BUFFER" envDefault:"64"`
	WriteQueue     int           `env:"BRIDGE_WRITE_QUEUE" envDefault:"256"`
	WriteTimeout   time.Duration `env:"BRIDGE_WRITE_TIMEOUT" envDefault:"5s"`
	DialTimeout    time.Duration `env:"BRIDGE_DIAL_TIMEOUT" envDefault:"10s"`
	AllowedOrigins []string      `env:"BRIDGE_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	Logging        Logging
}

// Participant configures one arena participant.
type Participant struct {
	ID        string `env:"ARENA_PARTICIPANT_ID"`
	BridgeURL string `env:"ARENA_BRIDGE_URL" envDefault:"ws://localhost:8081/ws"`
	// UpstreamURL, when set, runs a bridge inside the participant process
	// instead of dialing BridgeURL.
	UpstreamURL     string        `env:"ARENA_UPSTREAM_URL"`
	DialTimeout     time.Duration `env:"ARENA_DIAL_TIMEOUT" envDefault:"10s"`
	Width           float64       `env:"ARENA_WIDTH" envDefault:"500"`
	Height          float64       `env:"ARENA_HEIGHT" envDefault:"500"`
	Radius          float64       `env:"ARENA_RADIUS" envDefault:"20"`
	Speed           float64       `env:"ARENA_SPEED" envDefault:"2"`
	SpawnX          float64       `env:"ARENA_SPAWN_X" envDefault:"250"`
	SpawnY          float64       `env:"ARENA_SPAWN_Y" envDefault:"250"`
	Color           string        `env:"ARENA_COLOR" envDefault:"#3c8dbc"`
	BotCount        int           `env:"ARENA_BOT_COUNT" envDefault:"0"`
	BotRadius       float64       `env:"ARENA_BOT_RADIUS" envDefault:"20"`
	BotSpeed        float64       `env:"ARENA_BOT_SPEED" envDefault:"2"`
	Seed            int64         `env:"ARENA_SEED" envDefault:"0"`
	DirectionPolicy string        `env:"ARENA_DIRECTION_POLICY" envDefault:"raw"`
	AnnounceKeyDown bool          `env:"ARENA_ANNOUNCE_KEYDOWN" envDefault:"false"`
	TickRate        int           `env:"ARENA_TICK_RATE" envDefault:"60"`
	RenderRate      int           `env:"ARENA_RENDER_RATE" envDefault:"30"`
	CatchupMaxTicks int           `env:"ARENA_CATCHUP_MAX_TICKS" envDefault:"5"`
	Logging         Logging
}

// Upstream configures the development relay hub.
type Upstream struct {
	Addr         string        `env:"UPSTREAM_ADDR" envDefault:":8090"`
	QueueSize    int           `env:"UPSTREAM_QUEUE_SIZE" envDefault:"256"`
	WriteTimeout time.Duration `env:"UPSTREAM_WRITE_TIMEOUT" envDefault:"5s"`
	Logging      Logging
}

// Logging selects sinks for the structured event router.
type Logging struct {
	Sinks         []string      `env:"LOG_SINKS" envSeparator:"," envDefault:"console"`
	Level         string        `env:"LOG_LEVEL" envDefault:"info"`
	BufferSize    int           `env:"LOG_BUFFER_SIZE" envDefault:"512"`
	JSONPath      string        `env:"LOG_JSON_PATH"`
	FlushInterval time.Duration `env:"LOG_JSON_FLUSH_INTERVAL" envDefault:"2s"`
	Color         bool          `env:"LOG_COLOR" envDefault:"true"`
	// CategoryLevels overrides Level per event category, e.g.
	// "simulation=warn,relay=debug".
	CategoryLevels map[string]string `env:"LOG_CATEGORY_LEVELS" envKeyValSeparator:"="`
}

// LoadBridge reads .env files (if present) and the environment.
func LoadBridge(files ...string) (Bridge, error) {
	var cfg Bridge
	if err := load(&cfg, files); err != nil {
		return Bridge{}, err
	}
	return cfg, cfg.Validate()
}

func LoadParticipant(files ...string) (Participant, error) {
	var cfg Participant
	if err := load(&cfg, files); err != nil {
		return Participant{}, err
	}
	return cfg, cfg.Validate()
}

func LoadUpstream(files ...string) (Upstream, error) {
	var cfg Upstream
	if err := load(&cfg, files); err != nil {
		return Upstream{}, err
	}
	return cfg, cfg.Validate()
}

func (c Bridge) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("bridge: BRIDGE_ADDR is empty")
	}
	if c.UpstreamURL != "" && !isWebsocketURL(c.UpstreamURL) {
		return fmt.Errorf("bridge: upstream url %q must use ws:// or wss://", c.UpstreamURL)
	}
	return c.Logging.Validate()
}

func (c Participant) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("participant: arena %gx%g must be positive", c.Width, c.Height)
	}
	if c.Radius <= 0 || 2*c.Radius > c.Width || 2*c.Radius > c.Height {
		return fmt.Errorf("participant: radius %g does not fit the arena", c.Radius)
	}
	if c.SpawnX-c.Radius < 0 || c.SpawnX+c.Radius > c.Width || c.SpawnY-c.Radius < 0 || c.SpawnY+c.Radius > c.Height {
		return fmt.Errorf("participant: spawn (%g,%g) with radius %g leaves the %gx%g arena", c.SpawnX, c.SpawnY, c.Radius, c.Width, c.Height)
	}
	if c.Speed < 0 || c.BotSpeed < 0 {
		return fmt.Errorf("participant: speeds must not be negative")
	}
	if c.BotCount < 0 {
		return fmt.Errorf("participant: bot count %d is negative", c.BotCount)
	}
	if c.BotCount > 0 && (c.BotRadius <= 0 || 2*c.BotRadius > c.Width || 2*c.BotRadius > c.Height) {
		return fmt.Errorf("participant: bot radius %g does not fit the arena", c.BotRadius)
	}
	if c.UpstreamURL != "" && !isWebsocketURL(c.UpstreamURL) {
		return fmt.Errorf("participant: upstream url %q must use ws:// or wss://", c.UpstreamURL)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("participant: %w", err)
	}
	return c.Logging.Validate()
}

func isWebsocketURL(raw string) bool {
	return strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://")
}

// Policy parses DirectionPolicy.
func (c Participant) Policy() (proto.DirectionPolicy, error) {
	return proto.ParseDirectionPolicy(c.DirectionPolicy)
}

func (c Upstream) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("upstream: UPSTREAM_ADDR is empty")
	}
	return c.Logging.Validate()
}

func (c Logging) Validate() error {
	for _, sink := range c.Sinks {
		switch strings.TrimSpace(sink) {
		case "console", "json", "":
		default:
			return fmt.Errorf("logging: unknown sink %q", sink)
		}
	}
	if _, err := logging.ParseSeverity(c.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	_, err := c.categorySeverities()
	return err
}

func (c Logging) categorySeverities() (map[string]logging.Severity, error) {
	if len(c.CategoryLevels) == 0 {
		return nil, nil
	}
	out := make(map[string]logging.Severity, len(c.CategoryLevels))
	for category, level := range c.CategoryLevels {
		category = strings.ToLower(strings.TrimSpace(category))
		if !slices.Contains(logging.Categories, category) {
			return nil, fmt.Errorf("logging: unknown category %q", category)
		}
		severity, err := logging.ParseSeverity(level)
		if err != nil {
			return nil, fmt.Errorf("logging: category %s: %w", category, err)
		}
		out[category] = severity
	}
	return out, nil
}

// Router converts the env view into the logging package's config.
func (c Logging) Router() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	severity, err := logging.ParseSeverity(c.Level)
	if err != nil {
		return cfg, fmt.Errorf("logging: %w", err)
	}
	cfg.MinimumSeverity = severity
	if cfg.CategorySeverity, err = c.categorySeverities(); err != nil {
		return cfg, err
	}
	cfg.EnabledSinks = cfg.EnabledSinks[:0]
	for _, sink := range c.Sinks {
		if name := strings.TrimSpace(sink); name != "" {
			cfg.EnabledSinks = append(cfg.EnabledSinks, name)
		}
	}
	if c.BufferSize > 0 {
		cfg.BufferSize = c.BufferSize
	}
	cfg.JSON.FilePath = c.JSONPath
	if c.FlushInterval > 0 {
		cfg.JSON.FlushInterval = c.FlushInterval
	}
	cfg.Console.UseColor = c.Color
	return cfg, nil
}

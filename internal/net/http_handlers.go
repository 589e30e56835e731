package net

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"arena-sync/internal/bridge"
	"arena-sync/internal/net/ws"
	"arena-sync/internal/telemetry"
	"arena-sync/logging"
)

// Bridge is the part of *bridge.Bridge the HTTP surface needs.
type Bridge interface {
	ws.Registrar
	Stats() bridge.Stats
}

// LogStats reports logging router counters; *logging.Router satisfies it.
type LogStats interface {
	Stats() logging.RouterStats
}

type HTTPHandlerConfig struct {
	Logger         *log.Logger
	Counters       *telemetry.Counters
	Logging        LogStats
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

func NewHTTPHandler(b Bridge, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{nethttp.MethodGet, nethttp.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	r.Get("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string               `json:"status"`
			ServerTime int64                `json:"serverTime"`
			Bridge     bridge.Stats         `json:"bridge"`
			Telemetry  map[string]uint64    `json:"telemetry"`
			Logging    *logging.RouterStats `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Bridge:     b.Stats(),
			Telemetry:  cfg.Counters.Snapshot(),
		}
		if cfg.Logging != nil {
			stats := cfg.Logging.Stats()
			payload.Logging = &stats
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	var metrics telemetry.Metrics = telemetry.NopMetrics()
	if cfg.Counters != nil {
		metrics = cfg.Counters
	}
	wsHandler := ws.NewHandler(b, ws.HandlerConfig{Logger: logger, Metrics: metrics, WriteTimeout: cfg.WriteTimeout})
	r.Get("/ws", wsHandler.Handle)

	return r
}

func httpError(w nethttp.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	w.Write([]byte(message))
}

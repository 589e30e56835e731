package upstream

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"arena-sync/internal/telemetry"
)

// RelayPath is where bridges connect.
const RelayPath = "/relay"

// NewRouter exposes the hub over HTTP.
func NewRouter(hub *Hub, counters *telemetry.Counters) nethttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	r.Get("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status      string            `json:"status"`
			ServerTime  int64             `json:"serverTime"`
			Subscribers int               `json:"subscribers"`
			Telemetry   map[string]uint64 `json:"telemetry"`
		}{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			Subscribers: hub.Subscribers(),
			Telemetry:   counters.Snapshot(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	r.Get(RelayPath, hub.Handle)
	return r
}

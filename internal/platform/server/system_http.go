package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wizardbeard/onepass/internal/platform/clock"
)

type SystemHandler struct {
	StartedAt time.Time
	Clock     clock.Clock
	Version   string
}

func (h SystemHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.health)
}

func (h SystemHandler) health(w http.ResponseWriter, _ *http.Request) {
	uptime := time.Duration(0)
	if h.Clock != nil {
		uptime = h.Clock.Now().Sub(h.StartedAt)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"version":        h.Version,
		"uptime_seconds": int64(uptime.Seconds()),
	})
}

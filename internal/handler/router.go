package handler

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mlevan/parley/internal/broker"
	"github.com/mlevan/parley/internal/config"
	"github.com/mlevan/parley/internal/handler/ws"
	"github.com/mlevan/parley/internal/service/session"
	"github.com/mlevan/parley/pkg/utils"
)

// NewRouter wires HTTP routes to the relay: the websocket endpoint, liveness,
// metrics, and the read-only room listing.
func NewRouter(b *broker.Broker, sessions *session.Service, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Handle("/ws", ws.New(b, cfg.Server, cfg.Relay))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
			type roomInfo struct {
				Name      string `json:"name"`
				Occupants int    `json:"occupants"`
			}
			counts := sessions.Rooms()
			rooms := make([]roomInfo, 0, len(counts))
			for name, occupants := range counts {
				rooms = append(rooms, roomInfo{Name: name, Occupants: occupants})
			}
			sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
			utils.RespondJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
		})
	})

	return r
}

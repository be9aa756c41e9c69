package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LemmyAI/gamenet/internal/lobby"
)

// gameServer is the part of *server.Server the admin endpoint reads.
type gameServer interface {
	Count() int
	Port() int
	BytesPerSecondSent() int
	BytesPerSecondReceived() int
}

type ticker interface {
	CurrentTick() uint64
}

type statsResponse struct {
	Port                   int            `json:"port"`
	Connections            int            `json:"connections"`
	Tick                   uint64         `json:"tick"`
	BytesPerSecondSent     int            `json:"bytes_per_second_sent"`
	BytesPerSecondReceived int            `json:"bytes_per_second_received"`
	Host                   string         `json:"host,omitempty"`
	Players                []lobby.Player `json:"players"`
}

func newAdminRouter(srv gameServer, roster *lobby.Roster, loop ticker, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsResponse{
			Port:                   srv.Port(),
			Connections:            srv.Count(),
			Tick:                   loop.CurrentTick(),
			BytesPerSecondSent:     srv.BytesPerSecondSent(),
			BytesPerSecondReceived: srv.BytesPerSecondReceived(),
			Host:                   roster.Host(),
			Players:                roster.Players(),
		})
	})

	return r
}

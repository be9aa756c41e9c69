package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LemmyAI/gamenet/internal/lobby"
	"github.com/LemmyAI/gamenet/internal/transport"
)

type fakeServer struct{}

func (fakeServer) Count() int                  { return 2 }
func (fakeServer) Port() int                   { return 9000 }
func (fakeServer) BytesPerSecondSent() int     { return 120 }
func (fakeServer) BytesPerSecondReceived() int { return 80 }

type fakeTicker uint64

func (t fakeTicker) CurrentTick() uint64 { return uint64(t) }

func newTestRouter(t *testing.T) (http.Handler, *lobby.Roster) {
	t.Helper()
	reg := prometheus.NewRegistry()
	transport.NewMetrics(reg, "gamenet")
	roster := lobby.NewRoster(0)
	return newAdminRouter(fakeServer{}, roster, fakeTicker(42), reg), roster
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestStats(t *testing.T) {
	router, roster := newTestRouter(t)
	roster.Join("p1", "alice")
	roster.Join("p2", "bob")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	var got statsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Connections != 2 || got.Port != 9000 || got.Tick != 42 {
		t.Errorf("unexpected stats %+v", got)
	}
	if got.BytesPerSecondSent != 120 || got.BytesPerSecondReceived != 80 {
		t.Errorf("unexpected throughput %+v", got)
	}
	if got.Host != "p1" || len(got.Players) != 2 {
		t.Errorf("unexpected roster %+v", got)
	}
}

func TestMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "gamenet_transport_open_links") {
		t.Errorf("expected transport metrics in output, got:\n%s", rec.Body.String())
	}
}

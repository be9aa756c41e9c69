package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LemmyAI/gamenet/internal/client"
	"github.com/LemmyAI/gamenet/internal/transport"
)

const (
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = 54 * time.Second
	backlogSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bridge relays binary WebSocket messages to the game server, one framed TCP
// client per browser. Every client is driven from the bridge's tick goroutine.
type Bridge struct {
	gameAddr  string
	reconnect time.Duration
	cfg       transport.Config
	log       *zap.Logger

	mu       sync.Mutex // guards sessions
	sessions map[string]*browserSession
}

type browserSession struct {
	id        string
	ws        *websocket.Conn
	client    *client.Client
	limiter   *rate.Limiter
	retry     bool // touched only on the tick goroutine
	log       *zap.Logger
	toGame    chan []byte // browser -> game, drained on the tick goroutine
	toBrowser chan []byte // game -> browser, drained by writePump
	done      chan struct{}
	closed    atomic.Bool
}

// NewBridge creates a bridge to the game server at gameAddr.
func NewBridge(gameAddr string, reconnect time.Duration, cfg transport.Config) *Bridge {
	return &Bridge{
		gameAddr:  gameAddr,
		reconnect: reconnect,
		cfg:       cfg,
		log:       cfg.Log().Named("bridge"),
		sessions:  make(map[string]*browserSession),
	}
}

// Router returns the HTTP routes served by the bridge.
func (b *Bridge) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", b.handleWS)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/status", b.handleStatus)
	return r
}

// Update drives every game client. It must be called from one goroutine.
func (b *Bridge) Update(dt time.Duration) {
	b.mu.Lock()
	sessions := make([]*browserSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		if s.closed.Load() {
			b.remove(s)
			continue
		}
		s.update()
	}
}

// Count returns the number of browser sessions.
func (b *Bridge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Close ends every session. Call it after the tick loop has stopped.
func (b *Bridge) Close() {
	b.mu.Lock()
	sessions := b.sessions
	b.sessions = make(map[string]*browserSession)
	b.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
		s.client.Close()
	}
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"browser_clients": b.Count(),
		"game_addr":       b.gameAddr,
	})
}

func (b *Bridge) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	s := &browserSession{
		id:        id,
		ws:        ws,
		limiter:   rate.NewLimiter(rate.Every(b.reconnect), 1),
		log:       b.log.With(zap.String("browser", id)),
		toGame:    make(chan []byte, backlogSize),
		toBrowser: make(chan []byte, backlogSize),
		done:      make(chan struct{}),
	}
	s.limiter.Allow()
	s.client = client.Connect(b.gameAddr, client.Handlers{
		OnMessage:        s.onMessage,
		OnConnectionFail: s.onFail,
	}, b.cfg)

	b.mu.Lock()
	b.sessions[id] = s
	b.mu.Unlock()

	s.log.Info("browser connected", zap.String("remote", r.RemoteAddr))
	go s.writePump()
	s.readPump()
}

func (b *Bridge) remove(s *browserSession) {
	b.mu.Lock()
	delete(b.sessions, s.id)
	b.mu.Unlock()

	if err := s.client.Close(); err != nil {
		s.log.Debug("game client close", zap.Error(err))
	}
	s.log.Info("browser disconnected")
}

// update runs on the tick goroutine.
func (s *browserSession) update() {
	s.client.Update()

	if s.retry {
		if s.limiter.Allow() {
			s.retry = false
			s.client.Reconnect()
		}
		return
	}
	if !s.client.Connected() {
		return
	}
	for len(s.toGame) > 0 {
		if err := s.client.Send(<-s.toGame); err != nil {
			s.log.Warn("forward to game failed", zap.Error(err))
		}
	}
}

func (s *browserSession) onMessage(payload []byte) error {
	select {
	case s.toBrowser <- payload:
		return nil
	default:
		s.log.Warn("browser too slow, closing")
		s.shutdown()
		return nil
	}
}

func (s *browserSession) onFail(err error) {
	s.retry = true
	s.log.Warn("game connection lost", zap.String("phase", string(transport.PhaseOf(err))), zap.Error(err))
}

// readPump forwards browser messages until the socket closes.
func (s *browserSession) readPump() {
	defer s.shutdown()

	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("unexpected close", zap.Error(err))
			}
			return
		}
		s.ws.SetReadDeadline(time.Now().Add(pongWait))

		if typ != websocket.BinaryMessage {
			continue
		}
		select {
		case s.toGame <- data:
		default:
			s.log.Warn("game backlog full, dropping browser message")
		}
	}
}

func (s *browserSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case payload := <-s.toBrowser:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				s.shutdown()
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown()
				return
			}
		case <-s.done:
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}

// shutdown marks the session for removal on the next tick.
func (s *browserSession) shutdown() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
}

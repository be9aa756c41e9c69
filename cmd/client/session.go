package main

import (
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LemmyAI/gamenet/internal/client"
	"github.com/LemmyAI/gamenet/internal/protocol"
	"github.com/LemmyAI/gamenet/internal/transport"
)

const pingInterval = 5 * time.Second

// session is the interactive lobby client. All methods except Say run on the
// tick goroutine.
type session struct {
	name   string
	out    io.Writer
	log    *zap.Logger
	client *client.Client

	reconnect *rate.Limiter
	lines     chan string

	retry     bool
	playerID  string
	sincePing time.Duration
	latency   time.Duration
}

func newSession(addr, name string, reconnectEvery time.Duration, out io.Writer, cfg transport.Config) *session {
	s := &session{
		name:      name,
		out:       out,
		log:       cfg.Log().Named("session"),
		reconnect: rate.NewLimiter(rate.Every(reconnectEvery), 1),
		lines:     make(chan string, 64),
	}
	// The first attempt is free; later ones wait for the limiter.
	s.reconnect.Allow()
	s.client = client.Connect(addr, client.Handlers{
		OnMessage:        s.onMessage,
		OnConnectionFail: s.onFail,
		OnInitialized:    s.onInitialized,
	}, cfg)
	return s
}

// Say queues a chat line. It is safe to call from any goroutine.
func (s *session) Say(line string) {
	select {
	case s.lines <- line:
	default:
		s.log.Warn("chat input backlog full, dropping line")
	}
}

func (s *session) update(dt time.Duration) {
	s.client.Update()

	if s.retry {
		if s.reconnect.Allow() {
			s.retry = false
			s.log.Info("reconnecting", zap.String("addr", s.client.Addr()))
			s.client.Reconnect()
		}
		return
	}
	if !s.client.Connected() {
		return
	}

	for len(s.lines) > 0 {
		s.send(protocol.NewChat("", s.name, <-s.lines))
	}

	s.sincePing += dt
	if s.sincePing >= pingInterval {
		s.sincePing = 0
		s.send(protocol.NewPing(time.Now()))
	}
}

func (s *session) close() error {
	return s.client.Close()
}

func (s *session) send(msg *protocol.Message) {
	if err := s.client.Send(protocol.Encode(msg)); err != nil {
		s.log.Warn("send failed", zap.Stringer("kind", msg.Kind), zap.Error(err))
	}
}

func (s *session) onInitialized() error {
	s.sincePing = 0
	s.send(protocol.NewHello(s.name))
	return nil
}

func (s *session) onMessage(payload []byte) error {
	msg, err := protocol.Decode(payload)
	if err != nil {
		return err
	}

	switch msg.Kind {
	case protocol.KindWelcome:
		s.playerID = msg.PlayerID
		fmt.Fprintf(s.out, "* joined as %s (%s), server ticks at %d Hz\n", s.name, msg.PlayerID, msg.Tick)
	case protocol.KindChat:
		fmt.Fprintf(s.out, "<%s> %s\n", msg.Name, msg.Text)
	case protocol.KindLeave:
		fmt.Fprintf(s.out, "* %s left\n", msg.Name)
	case protocol.KindPong:
		s.latency = time.Since(time.UnixMilli(int64(msg.Timestamp)))
		s.log.Debug("pong", zap.Duration("rtt", s.latency))
	default:
		s.log.Debug("ignored message", zap.Stringer("kind", msg.Kind))
	}
	return nil
}

func (s *session) onFail(err error) {
	s.retry = true
	s.playerID = ""
	s.log.Warn("connection lost", zap.String("phase", string(transport.PhaseOf(err))), zap.Error(err))
	fmt.Fprintf(s.out, "* disconnected: %v\n", err)
}

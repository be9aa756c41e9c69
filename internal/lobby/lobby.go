// Package lobby is the demo game protocol served over the framed transport:
// players say hello, get a welcome, chat with each other and measure latency
// with ping/pong.
package lobby

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/protocol"
	"github.com/LemmyAI/gamenet/internal/server"
)

// Config for lobby settings
type Config struct {
	MaxPlayers  int           `yaml:"max_players"`
	IdleTimeout time.Duration `yaml:"idle_timeout"` // zero disables idle kicks
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxPlayers:  32,
		IdleTimeout: 2 * time.Minute,
	}
}

// Lobby holds what every connection state shares.
type Lobby struct {
	cfg      Config
	roster   *Roster
	tickRate int
	log      *zap.Logger
}

// New creates a lobby. tickRate is reported to clients in the welcome.
func New(cfg Config, tickRate int, log *zap.Logger) *Lobby {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lobby{
		cfg:      cfg,
		roster:   NewRoster(cfg.MaxPlayers),
		tickRate: tickRate,
		log:      log.Named("lobby"),
	}
}

// Roster returns the joined players.
func (l *Lobby) Roster() *Roster {
	return l.roster
}

// Factory returns the state factory to pass to server.Listen.
func (l *Lobby) Factory() server.StateFactory {
	return func(c *server.Connection) server.ConnectionState {
		return &State{
			lobby: l,
			log:   l.log.With(zap.String("conn", c.ID())),
		}
	}
}

// State is the per-connection lobby protocol.
type State struct {
	server.BaseState

	lobby  *Lobby
	log    *zap.Logger
	player *Player
	idle   time.Duration
	ticks  uint64
}

// Player returns the joined player, or nil before hello.
func (s *State) Player() *Player {
	return s.player
}

// Message handles one decoded client message. Any error drops the connection.
func (s *State) Message(payload []byte) error {
	if s.Disconnected() {
		return nil
	}
	msg, err := protocol.Decode(payload)
	if err != nil {
		return errors.Wrap(err, "decode")
	}
	s.idle = 0

	switch msg.Kind {
	case protocol.KindHello:
		return s.hello(msg)
	case protocol.KindPing:
		return s.send(protocol.NewPong(msg, s.ticks))
	case protocol.KindChat:
		if s.player == nil {
			return ErrNotJoined
		}
		relay := protocol.NewChat(s.player.ID, s.player.Name, msg.Text)
		s.broadcast(relay)
		return nil
	case protocol.KindLeave:
		s.Disconnect()
		return nil
	default:
		return errors.Wrapf(ErrUnexpectedMessage, "%s from client", msg.Kind)
	}
}

// Update kicks players that stay silent longer than the idle timeout.
func (s *State) Update(dt time.Duration) {
	s.ticks++
	s.idle += dt
	if timeout := s.lobby.cfg.IdleTimeout; timeout > 0 && s.idle > timeout {
		s.log.Info("idle timeout", zap.Duration("idle", s.idle))
		s.Disconnect()
	}
}

// OnConnect logs the new peer.
func (s *State) OnConnect() {
	s.log.Debug("peer connected")
}

// OnDisconnect removes the player and tells everyone else.
func (s *State) OnDisconnect() {
	if s.player == nil {
		return
	}
	p := s.player
	s.player = nil
	if err := s.lobby.roster.Leave(p.ID); err != nil {
		s.log.Warn("leave failed", zap.String("player", p.ID), zap.Error(err))
	}
	s.broadcast(protocol.NewLeave(p.ID, p.Name))

	fields := []zap.Field{zap.String("player", p.ID), zap.String("name", p.Name),
		zap.Int("players", s.lobby.roster.Count())}
	if c := s.Connection(); c != nil {
		fields = append(fields, zap.Duration("session", time.Since(c.ConnectedAt())))
	}
	s.log.Info("player left", fields...)
}

func (s *State) hello(msg *protocol.Message) error {
	if s.player != nil {
		return ErrAlreadyJoined
	}
	player, err := s.lobby.roster.Join(uuid.NewString(), msg.Name)
	if err != nil {
		return errors.Wrapf(err, "join %q", msg.Name)
	}
	s.player = player
	s.log.Info("player joined", zap.String("player", player.ID), zap.String("name", player.Name),
		zap.String("version", msg.Version), zap.Bool("host", player.IsHost))

	return s.send(protocol.NewWelcome(player.ID, s.lobby.tickRate, time.Now()))
}

func (s *State) send(msg *protocol.Message) error {
	c := s.Connection()
	if c == nil {
		return nil
	}
	return c.Send(protocol.Encode(msg))
}

func (s *State) broadcast(msg *protocol.Message) {
	c := s.Connection()
	if c == nil {
		return
	}
	c.Server().SendExcept(protocol.Encode(msg), c)
}

package server

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/transport"
)

var (
	ErrAlreadyInitialized = errors.New("connection state already bound")
	ErrNilState           = errors.New("state factory returned nil")
)

// Connection is the server-side handle for one accepted peer. Its liveness is
// entirely delegated to the bound ConnectionState.
type Connection struct {
	id          string
	server      *Server
	link        *transport.Link
	log         *zap.Logger
	connectedAt time.Time

	state   ConnectionState
	failure transport.FailureSlot
}

func newConnection(s *Server, conn net.Conn) *Connection {
	id := uuid.NewString()
	c := &Connection{
		id:          id,
		server:      s,
		link:        transport.NewLink(conn, s.cfg),
		log:         s.log.With(zap.String("conn", id)),
		connectedAt: time.Now(),
	}
	c.link.OnFailure(c.failure.Record)
	c.link.Track(s.sent, s.received)
	return c
}

// Initialize binds the state built by factory. It must be called exactly once,
// after construction, since the factory needs the finished connection.
func (c *Connection) Initialize(factory StateFactory) error {
	if c.state != nil {
		return ErrAlreadyInitialized
	}
	state := factory(c)
	if state == nil {
		return ErrNilState
	}
	state.base().bind(c, state)
	c.state = state

	if hook, ok := state.(ConnectHook); ok {
		hook.OnConnect()
	}
	return nil
}

// Send queues payload for this peer's writer goroutine.
func (c *Connection) Send(payload []byte) error {
	return c.link.Send(payload)
}

// Update dispatches queued payloads to the state and then ticks it. A pending
// socket failure, or a Message error, disconnects the connection. Once the
// state is disconnected, by an error or by the state itself, the rest of the
// inbox is dropped.
func (c *Connection) Update(dt time.Duration) {
	if f := c.failure.Take(); f != nil {
		c.log.Error("connection failed", zap.String("phase", string(f.Phase)), zap.Error(f.Err))
		c.Disconnect()
	}
	if c.Disconnected() {
		c.close()
		return
	}

	c.link.Drain(func(payload []byte) bool {
		if err := c.deliver(payload); err != nil {
			c.log.Error("message handler failed, disconnecting", zap.Error(err))
			c.Disconnect()
			return false
		}
		return !c.Disconnected()
	})
	if c.Disconnected() {
		c.close()
		return
	}

	c.state.Update(dt)
}

// Disconnect marks the bound state disconnected. The socket is closed by the
// next Update or by the server when it reaps the connection.
func (c *Connection) Disconnect() {
	if c.state == nil {
		_ = c.link.Close()
		return
	}
	c.state.Disconnect()
}

// Disconnected reports the bound state's flag. An unbound connection counts
// as disconnected.
func (c *Connection) Disconnected() bool {
	if c.state == nil {
		return true
	}
	return c.state.Disconnected()
}

// State returns the bound state.
func (c *Connection) State() ConnectionState {
	return c.state
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Server returns the server that accepted the connection.
func (c *Connection) Server() *Server {
	return c.server
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.link.RemoteAddr()
}

// ConnectedAt returns when the connection was accepted.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

func (c *Connection) deliver(payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in message handler: %v", r)
		}
	}()
	return c.state.Message(payload)
}

func (c *Connection) start() {
	c.link.Start()
}

func (c *Connection) close() {
	_ = c.link.Close()
}

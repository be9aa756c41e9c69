package server

import (
	"sync/atomic"
	"time"
	"weak"
)

// ConnectionState is the per-connection protocol handler. Implementations embed
// BaseState, which supplies the disconnect flag and the back-reference to the
// owning Connection:
//
//	type lobbyState struct {
//	    server.BaseState
//	    ...
//	}
//
// Message and Update are only called from Server.Update. An error returned by
// Message (or a panic) disconnects that connection alone.
type ConnectionState interface {
	Message(payload []byte) error
	Update(dt time.Duration)

	Disconnect()
	Disconnected() bool

	base() *BaseState
}

// ConnectHook is implemented by states that run code once they are bound.
type ConnectHook interface {
	OnConnect()
}

// DisconnectHook is implemented by states that run code on their first
// disconnect.
type DisconnectHook interface {
	OnDisconnect()
}

// StateFactory builds the state bound to a newly accepted connection.
type StateFactory func(c *Connection) ConnectionState

// BaseState carries the parts of ConnectionState every implementation shares.
// The zero value is ready to embed; Connection.Initialize binds it.
type BaseState struct {
	conn         weak.Pointer[Connection]
	disconnected atomic.Bool
	onDisconnect func()
}

// Connection returns a strong handle to the owning connection for use within
// one call, or nil once the connection has been released. BaseState itself
// never keeps the connection alive.
func (b *BaseState) Connection() *Connection {
	return b.conn.Value()
}

// Disconnect sets the disconnected flag. The first call runs the state's
// OnDisconnect hook; later calls do nothing.
func (b *BaseState) Disconnect() {
	if !b.disconnected.CompareAndSwap(false, true) {
		return
	}
	if b.onDisconnect != nil {
		b.onDisconnect()
	}
}

// Disconnected reports whether Disconnect has been called. Once set it is
// never cleared.
func (b *BaseState) Disconnected() bool {
	return b.disconnected.Load()
}

// Message ignores the payload.
func (b *BaseState) Message(payload []byte) error {
	return nil
}

// Update does nothing.
func (b *BaseState) Update(dt time.Duration) {}

func (b *BaseState) base() *BaseState {
	return b
}

func (b *BaseState) bind(c *Connection, state ConnectionState) {
	b.conn = weak.Make(c)
	if hook, ok := state.(DisconnectHook); ok {
		b.onDisconnect = hook.OnDisconnect
	}
}

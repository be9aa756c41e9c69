// Package server implements the listening side of the framed transport. Each
// accepted peer becomes a Connection bound to a user-supplied ConnectionState,
// and Update, called once per simulation tick, drives every state and reaps
// the disconnected ones.
package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/transport"
)

// Server owns the listener and the registry of live connections.
type Server struct {
	cfg      transport.Config
	log      *zap.Logger
	factory  StateFactory
	listener net.Listener

	mu    sync.Mutex // guards conns
	conns []*Connection

	sent     *transport.Throughput
	received *transport.Throughput

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Listen binds addr and starts accepting connections immediately.
func Listen(addr string, factory StateFactory, cfg transport.Config) (*Server, error) {
	if factory == nil {
		return nil, errors.New("state factory is required")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return Serve(listener, factory, cfg), nil
}

// Serve starts accepting connections on an existing listener.
func Serve(listener net.Listener, factory StateFactory, cfg transport.Config) *Server {
	window := cfg.ThroughputWindow
	s := &Server{
		cfg:      cfg,
		log:      cfg.Log().Named("server"),
		factory:  factory,
		listener: listener,
		sent:     transport.NewThroughput(window),
		received: transport.NewThroughput(window),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	s.log.Info("listening", zap.Stringer("addr", listener.Addr()))
	return s
}

// SendAll queues payload on every live connection.
func (s *Server) SendAll(payload []byte) {
	s.SendExcept(payload, nil)
}

// SendExcept queues payload on every live connection other than excluded.
func (s *Server) SendExcept(payload []byte, excluded *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conns {
		if c == excluded || c.Disconnected() {
			continue
		}
		if err := c.Send(payload); err != nil {
			s.log.Debug("send skipped", zap.String("conn", c.ID()), zap.Error(err))
		}
	}
}

// Update ticks every registered connection and then removes, in one pass,
// those whose state reports disconnected. Connection updates run outside the
// registry lock so states may call SendAll/SendExcept.
func (s *Server) Update(dt time.Duration) {
	for _, c := range s.Connections() {
		s.updateConnection(c, dt)
	}

	s.mu.Lock()
	before := len(s.conns)
	kept := s.conns[:0]
	for _, c := range s.conns {
		if c.Disconnected() {
			c.close()
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < before; i++ {
		s.conns[i] = nil
	}
	s.conns = kept
	s.mu.Unlock()

	if removed := before - len(kept); removed > 0 {
		s.log.Info("connections lost", zap.Int("count", removed))
	}
}

// Connections returns a snapshot of the registry.
func (s *Server) Connections() []*Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Connection(nil), s.conns...)
}

// Count returns the number of registered connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the bound TCP port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// BytesPerSecondSent returns the bytes written across all connections within
// the throughput window.
func (s *Server) BytesPerSecondSent() int {
	return s.sent.BytesPerSecond()
}

// BytesPerSecondReceived returns the bytes read across all connections within
// the throughput window.
func (s *Server) BytesPerSecondReceived() int {
	return s.received.BytesPerSecond()
}

// Close stops accepting, disconnects every connection and waits for all
// socket goroutines to exit. No state method runs after Close returns.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.listener.Close()

	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
		c.close()
		c.link.Wait()
	}
	s.wg.Wait()

	s.log.Info("server closed", zap.Int("connections", len(conns)))
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			s.log.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.accept(conn)
	}
}

func (s *Server) accept(conn net.Conn) {
	c := newConnection(s, conn)
	if err := c.Initialize(s.factory); err != nil {
		s.log.Error("binding connection state failed", zap.Error(err))
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		c.Disconnect()
		_ = conn.Close()
		return
	}
	s.conns = append(s.conns, c)
	c.start()
	s.mu.Unlock()

	s.log.Info("connection accepted", zap.String("conn", c.ID()), zap.Stringer("remote", conn.RemoteAddr()))
}

func (s *Server) updateConnection(c *Connection, dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in connection update", zap.String("conn", c.ID()), zap.Any("panic", r))
			c.Disconnect()
		}
	}()
	c.Update(dt)
}

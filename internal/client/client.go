// Package client implements the outbound side of the framed transport: a single
// connection to a server, driven by Update from the owning tick loop.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/transport"
)

// State is the client connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	ConnectingSucceeded
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectingSucceeded:
		return "connecting_succeeded"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotConnected is returned by Send outside the Connected state.
var ErrNotConnected = errors.New("send requires a connected client")

// MessageHandler is called once per received payload, in arrival order.
type MessageHandler func(payload []byte) error

// FailHandler is called once per failure with a *transport.Failure.
type FailHandler func(err error)

// InitializedHandler is called on the first Update after the connection is up.
type InitializedHandler func() error

// Handlers are the callbacks a Client runs from Update. OnInitialized may be nil.
type Handlers struct {
	OnMessage        MessageHandler
	OnConnectionFail FailHandler
	OnInitialized    InitializedHandler
}

// Client owns one outbound connection. Resolution, dialing and socket I/O run on
// background goroutines; handlers only ever run inside Update.
type Client struct {
	addr   string
	cfg    transport.Config
	log    *zap.Logger
	lookup lookupFunc

	onMessage     MessageHandler
	onFail        FailHandler
	onInitialized InitializedHandler // touched only by the owning goroutine

	state   atomic.Int32
	failure transport.FailureSlot

	mu     sync.Mutex // guards gen, link, cancel
	gen    uint64
	link   *transport.Link
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// Connect creates a client for addr ("host:port") and starts resolving and
// dialing it in the background. It returns before the connection completes.
func Connect(addr string, handlers Handlers, cfg transport.Config) *Client {
	return connect(addr, handlers, cfg, net.DefaultResolver.LookupHost)
}

// lookupFunc resolves a host to candidate endpoints, tried in order.
type lookupFunc func(ctx context.Context, host string) ([]string, error)

func connect(addr string, handlers Handlers, cfg transport.Config, lookup lookupFunc) *Client {
	c := &Client{
		addr:          addr,
		cfg:           cfg,
		log:           cfg.Log().Named("client").With(zap.String("addr", addr)),
		lookup:        lookup,
		onMessage:     handlers.OnMessage,
		onFail:        handlers.OnConnectionFail,
		onInitialized: handlers.OnInitialized,
	}
	c.initiate()
	return c
}

// Send queues payload for the writer goroutine. It is an error to send in any
// state but Connected.
func (c *Client) Send(payload []byte) error {
	if c.State() != Connected {
		return errors.Wrapf(ErrNotConnected, "state is %s", c.State())
	}
	link := c.currentLink()
	if link == nil {
		return ErrNotConnected
	}
	return link.Send(payload)
}

// Update must be called once per tick from the owning goroutine. It reports a
// pending failure, completes initialization, then dispatches every queued
// payload in arrival order.
func (c *Client) Update() {
	if f := c.failure.Take(); f != nil {
		c.state.Store(int32(Disconnected))
		c.reportFailure(f)
	}

	if c.State() == Disconnected {
		c.closeLink()
		return
	}

	c.tryInitialize()

	link := c.currentLink()
	if link == nil {
		return
	}
	link.Drain(func(payload []byte) bool {
		c.dispatch(payload)
		return true
	})
}

// Reconnect restarts the connect sequence. It does nothing unless the client
// is Disconnected.
func (c *Client) Reconnect() {
	c.initiate()
}

// ReconnectWith is Reconnect with a replacement initialization callback. The
// callback is only replaced when a reconnect actually starts.
func (c *Client) ReconnectWith(onInitialized InitializedHandler) {
	if c.State() != Disconnected {
		return
	}
	c.onInitialized = onInitialized
	c.initiate()
}

// Disconnect moves the client to Disconnected and records a "disconnect
// requested" failure. The socket is closed by the next Update.
func (c *Client) Disconnect() {
	c.state.Store(int32(Disconnected))
	c.log.Info("disconnect requested")
	c.failure.Record(transport.NewFailure(transport.PhaseRequested, transport.ErrDisconnectRequested))

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
}

// Close disconnects and waits for every background goroutine to exit. No
// handler runs after Close returns.
func (c *Client) Close() error {
	c.Disconnect()

	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()

	var err error
	if link != nil {
		err = link.Close()
		link.Wait()
	}
	c.wg.Wait()
	return err
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connected reports whether the client is fully connected.
func (c *Client) Connected() bool {
	return c.State() == Connected
}

// Disconnected reports whether the client is disconnected.
func (c *Client) Disconnected() bool {
	return c.State() == Disconnected
}

// Addr returns the remote address the client dials.
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) initiate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(Disconnected), int32(Connecting)) {
		return
	}

	// A failure left over from the previous session was superseded by this
	// attempt and must not tear it down.
	c.failure.Take()
	if c.link != nil {
		_ = c.link.Close()
		c.link = nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx, c.gen)
}

// run resolves the address and tries each candidate endpoint in order.
func (c *Client) run(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	host, port, err := net.SplitHostPort(c.addr)
	if err != nil {
		c.fail(ctx, gen, transport.NewFailure(transport.PhaseResolve, err))
		return
	}
	candidates, err := c.lookup(ctx, host)
	if err == nil && len(candidates) == 0 {
		err = errors.Errorf("no addresses for %q", host)
	}
	if err != nil {
		c.fail(ctx, gen, transport.NewFailure(transport.PhaseResolve, err))
		return
	}

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	var conn net.Conn
	for i, candidate := range candidates {
		conn, err = dialer.DialContext(ctx, "tcp", net.JoinHostPort(candidate, port))
		if err == nil {
			break
		}
		if i < len(candidates)-1 {
			c.log.Info("trying next endpoint", zap.String("endpoint", candidate), zap.Error(err))
		}
	}
	if err != nil {
		c.fail(ctx, gen, transport.NewFailure(transport.PhaseConnect, err))
		return
	}

	link := transport.NewLink(conn, c.cfg)
	link.OnFailure(func(f *transport.Failure) {
		c.fail(ctx, gen, f)
	})

	c.mu.Lock()
	if gen != c.gen || !c.state.CompareAndSwap(int32(Connecting), int32(ConnectingSucceeded)) {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.link = link
	link.Start()
	c.mu.Unlock()

	c.log.Info("connected", zap.Stringer("local", link.LocalAddr()), zap.Stringer("remote", link.RemoteAddr()))
}

// fail runs on background goroutines. Failures from a superseded or cancelled
// attempt are dropped.
func (c *Client) fail(ctx context.Context, gen uint64, f *transport.Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || ctx.Err() != nil {
		return
	}
	c.state.Store(int32(Disconnected))
	c.failure.Record(f)
	c.log.Error("connection failed", zap.String("phase", string(f.Phase)), zap.Error(f.Err))
}

func (c *Client) tryInitialize() {
	if !c.state.CompareAndSwap(int32(ConnectingSucceeded), int32(Connected)) {
		return
	}
	if c.onInitialized == nil {
		return
	}
	c.guard("initialization", func() error { return c.onInitialized() })
}

func (c *Client) dispatch(payload []byte) {
	if c.onMessage == nil {
		return
	}
	c.guard("message", func() error { return c.onMessage(payload) })
}

func (c *Client) reportFailure(f *transport.Failure) {
	if c.onFail == nil {
		return
	}
	c.guard("connection failure", func() error {
		c.onFail(f)
		return nil
	})
}

// guard runs a user handler, logging a returned error or a panic. Neither
// affects the connection.
func (c *Client) guard(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in "+what+" handler", zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		c.log.Error(what+" handler failed", zap.Error(err))
	}
}

func (c *Client) currentLink() *transport.Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func (c *Client) closeLink() {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()

	if link != nil {
		_ = link.Close()
	}
}

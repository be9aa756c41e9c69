package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/LemmyAI/gamenet/internal/frame"
)

// Link owns one connected socket. A reader goroutine decodes frames into a
// bounded inbox and a writer goroutine drains the send queue, so the socket is
// only ever touched by those two goroutines. The consumer drains the inbox from
// its own goroutine with Drain.
type Link struct {
	conn net.Conn
	cfg  Config
	log  *zap.Logger

	inbox  chan []byte
	outbox chan []byte
	done   chan struct{}

	closed  atomic.Bool
	started atomic.Bool

	onFailure func(*Failure)
	sent      *Throughput
	received  *Throughput

	wg sync.WaitGroup
}

// NewLink wraps conn. Nothing is read or written until Start.
func NewLink(conn net.Conn, cfg Config) *Link {
	cfg = cfg.withDefaults()
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(cfg.NoDelay)
	}
	return &Link{
		conn:   conn,
		cfg:    cfg,
		log:    cfg.Log().With(zap.Stringer("remote", conn.RemoteAddr())),
		inbox:  make(chan []byte, cfg.InboxSize),
		outbox: make(chan []byte, cfg.SendQueueSize),
		done:   make(chan struct{}),
	}
}

// OnFailure registers the handler told about the failure that ends the link.
// It runs at most once, on whichever goroutine observed the failure, and never
// for failures caused by Close. Must be set before Start.
func (l *Link) OnFailure(handler func(*Failure)) {
	l.onFailure = handler
}

// Track adds every frame sent and received to the given aggregates.
// Must be called before Start; either may be nil.
func (l *Link) Track(sent, received *Throughput) {
	l.sent = sent
	l.received = received
}

// Start launches the reader and writer goroutines.
func (l *Link) Start() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	l.cfg.Metrics.linkOpened()

	l.wg.Add(2)
	go l.readLoop()
	go l.writeLoop()
}

// Send queues payload for the writer goroutine. It never blocks: a full send
// queue is a write failure that ends this link. A payload too large for the
// length prefix is rejected and leaves the link untouched.
func (l *Link) Send(payload []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := frame.CheckSize(uint64(len(payload))); err != nil {
		return err
	}

	data := frame.Encode(payload)
	select {
	case <-l.done:
		return ErrClosed
	default:
	}

	select {
	case l.outbox <- data:
		return nil
	case <-l.done:
		return ErrClosed
	default:
		err := errors.Wrapf(ErrSendQueueFull, "%d frames pending", len(l.outbox))
		l.fail(PhaseWrite, err)
		return NewFailure(PhaseWrite, err)
	}
}

// Drain hands every payload queued at the time of the call to fn, oldest
// first. It stops early when fn returns false and returns the number of
// payloads handed out.
func (l *Link) Drain(fn func(payload []byte) bool) int {
	n := len(l.inbox)
	handled := 0
	for i := 0; i < n; i++ {
		select {
		case payload := <-l.inbox:
			handled++
			if !fn(payload) {
				return handled
			}
		default:
			return handled
		}
	}
	return handled
}

// Pending returns the number of payloads waiting in the inbox.
func (l *Link) Pending() int {
	return len(l.inbox)
}

// Close shuts the socket. Goroutines blocked on it observe the error and exit
// without reporting a failure. Safe to call more than once.
func (l *Link) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	return l.teardown()
}

// Closed reports whether the link has been closed or has failed.
func (l *Link) Closed() bool {
	return l.closed.Load()
}

// Wait blocks until the reader and writer goroutines have exited.
func (l *Link) Wait() {
	l.wg.Wait()
}

// RemoteAddr returns the peer address.
func (l *Link) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

// LocalAddr returns the local socket address.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *Link) teardown() error {
	close(l.done)
	if l.started.Load() {
		l.cfg.Metrics.linkClosed()
	}
	return l.conn.Close()
}

func (l *Link) fail(phase Phase, err error) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}

	f := NewFailure(phase, err)
	l.cfg.Metrics.Failure(phase)
	l.log.Warn("link failed", zap.String("phase", string(phase)), zap.Error(err))
	if l.onFailure != nil {
		l.onFailure(f)
	}
	_ = l.teardown()
}

// readLoop decodes frames until the socket errors. A close while idle is
// reported like any other read error.
func (l *Link) readLoop() {
	defer l.wg.Done()

	for {
		length, err := frame.ReadHeader(l.conn)
		if err != nil {
			l.fail(PhaseHeader, err)
			return
		}
		if limit := l.cfg.MaxMessageSize; limit > 0 && length > limit {
			l.fail(PhaseContent, errors.Wrapf(ErrMessageTooLarge, "%d > %d bytes", length, limit))
			return
		}

		payload, err := frame.ReadBody(l.conn, length)
		if err != nil {
			l.fail(PhaseContent, err)
			return
		}

		size := frame.HeaderSize + len(payload)
		l.received.Add(time.Now(), size)
		l.cfg.Metrics.received(size)

		select {
		case l.inbox <- payload:
		case <-l.done:
			return
		}
	}
}

func (l *Link) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.done:
			return
		case data := <-l.outbox:
			if _, err := l.conn.Write(data); err != nil {
				l.fail(PhaseWrite, err)
				return
			}
			l.sent.Add(time.Now(), len(data))
			l.cfg.Metrics.sent(len(data))
		}
	}
}

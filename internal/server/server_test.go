package server

import (
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LemmyAI/gamenet/internal/frame"
	"github.com/LemmyAI/gamenet/internal/transport"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	server *Server
	states func() []*MockState
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	cfg := transport.DefaultConfig()
	cfg.Logger = zap.New(core)

	factory, states := NewMockFactory()
	s, err := Listen("127.0.0.1:0", factory, cfg)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &harness{server: s, states: states, logs: logs}
}

// dial connects n raw peers and waits until the server has registered them.
func (h *harness) dial(t *testing.T, n int) []net.Conn {
	t.Helper()
	before := h.server.Count()
	peers := make([]net.Conn, n)
	for i := range peers {
		conn, err := net.Dial("tcp", h.server.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		peers[i] = conn
		// Wait for each accept so registry order matches dial order.
		eventually(t, "accept", func() bool { return h.server.Count() == before+i+1 })
	}
	return peers
}

func send(t *testing.T, conn net.Conn, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if _, err := conn.Write(frame.Encode([]byte(p))); err != nil {
			t.Fatalf("peer write: %v", err)
		}
	}
}

func receive(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	payload, err := frame.ReadFrame(conn)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	return string(payload)
}

func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := frame.ReadFrame(conn)
	if err == nil {
		t.Fatal("expected peer to be closed, got a frame")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		t.Fatal("expected peer to be closed, read timed out")
	}
}

func pendingFailure(c *Connection) func() bool {
	return func() bool { return c.failure.Pending() }
}

func queued(c *Connection, n int) func() bool {
	return func() bool { return c.link.Pending() == n }
}

func TestConnectionDeliversInOrder(t *testing.T) {
	h := newHarness(t)
	peer := h.dial(t, 1)[0]
	conn := h.server.Connections()[0]

	send(t, peer, "A", "B", "C")
	eventually(t, "3 queued frames", queued(conn, 3))

	h.server.Update(16 * time.Millisecond)

	state := h.states()[0]
	got := state.Messages()
	if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
		t.Fatalf("expected [A B C], got %v", got)
	}
	if state.Updates() != 1 {
		t.Errorf("expected 1 state update, got %d", state.Updates())
	}

	h.server.Update(16 * time.Millisecond)
	if n := len(state.Messages()); n != 3 {
		t.Errorf("expected no new messages on idle update, got %d", n)
	}
	if state.Updates() != 2 {
		t.Errorf("expected 2 state updates, got %d", state.Updates())
	}
	if state.Elapsed() != 32*time.Millisecond {
		t.Errorf("expected 32ms elapsed, got %v", state.Elapsed())
	}
}

func TestConnectionEmptyMessage(t *testing.T) {
	h := newHarness(t)
	peer := h.dial(t, 1)[0]
	conn := h.server.Connections()[0]

	send(t, peer, "")
	eventually(t, "empty frame", queued(conn, 1))
	h.server.Update(time.Millisecond)

	if got := h.states()[0].Messages(); len(got) != 1 || got[0] != "" {
		t.Errorf("expected one empty message, got %q", got)
	}
}

func TestServerReapsDisconnectedPeer(t *testing.T) {
	h := newHarness(t)
	peers := h.dial(t, 3)
	conns := h.server.Connections()

	peers[1].Close()
	eventually(t, "read failure", pendingFailure(conns[1]))

	h.server.Update(16 * time.Millisecond)

	if h.server.Count() != 2 {
		t.Fatalf("expected 2 live connections, got %d", h.server.Count())
	}
	lost := h.logs.FilterMessage("connections lost").All()
	if len(lost) != 1 {
		t.Fatalf("expected 1 removal log entry, got %d", len(lost))
	}
	if count := lost[0].ContextMap()["count"]; count != int64(1) {
		t.Errorf("expected removal count 1, got %v", count)
	}

	states := h.states()
	if states[1].Disconnects() != 1 {
		t.Errorf("expected OnDisconnect once for the dropped peer, got %d", states[1].Disconnects())
	}
	for _, i := range []int{0, 2} {
		if conns[i].Disconnected() {
			t.Errorf("connection %d should be unaffected", i)
		}
		send(t, peers[i], "echo:still here")
	}
	eventually(t, "echo requests", func() bool {
		return conns[0].link.Pending() == 1 && conns[2].link.Pending() == 1
	})
	h.server.Update(16 * time.Millisecond)
	for _, i := range []int{0, 2} {
		if got := receive(t, peers[i]); got != "still here" {
			t.Errorf("peer %d: expected echo, got %q", i, got)
		}
	}

	h.server.Update(16 * time.Millisecond)
	if n := len(h.logs.FilterMessage("connections lost").All()); n != 1 {
		t.Errorf("expected no further removals, got %d log entries", n)
	}
}

func TestHandlerFailureIsolatesConnection(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"error", "bad"},
		{"panic", "panic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			peers := h.dial(t, 3)
			conns := h.server.Connections()

			send(t, peers[0], tt.payload, "never delivered")
			eventually(t, "queued frames", queued(conns[0], 2))

			h.server.Update(16 * time.Millisecond)

			if !conns[0].Disconnected() {
				t.Fatal("expected failing connection to be disconnected")
			}
			if got := h.states()[0].Messages(); len(got) != 1 {
				t.Errorf("expected the drain to stop at the failing payload, got %v", got)
			}
			if h.states()[0].Updates() != 0 {
				t.Error("state Update must not run after a failed message")
			}
			if h.server.Count() != 2 {
				t.Fatalf("expected 2 live connections, got %d", h.server.Count())
			}

			h.server.SendAll([]byte("hello"))
			for _, i := range []int{1, 2} {
				if got := receive(t, peers[i]); got != "hello" {
					t.Errorf("peer %d: expected hello, got %q", i, got)
				}
			}
			expectClosed(t, peers[0])
		})
	}
}

func TestSelfDisconnectStopsDelivery(t *testing.T) {
	h := newHarness(t)
	peers := h.dial(t, 2)
	conns := h.server.Connections()

	send(t, peers[0], "A", "bye", "after bye")
	eventually(t, "queued frames", queued(conns[0], 3))

	h.server.Update(16 * time.Millisecond)

	state := h.states()[0]
	if got := state.Messages(); len(got) != 2 || got[1] != "bye" {
		t.Fatalf("expected delivery to stop after bye, got %v", got)
	}
	if state.Updates() != 0 {
		t.Error("state Update must not run after the state disconnected itself")
	}
	if state.Disconnects() != 1 {
		t.Errorf("expected OnDisconnect once, got %d", state.Disconnects())
	}
	if h.server.Count() != 1 {
		t.Errorf("expected 1 live connection, got %d", h.server.Count())
	}
	expectClosed(t, peers[0])
}

func TestSendExcept(t *testing.T) {
	h := newHarness(t)
	peers := h.dial(t, 3)
	conns := h.server.Connections()

	h.server.SendExcept([]byte("not you"), conns[1])
	h.server.SendAll([]byte("everyone"))

	for _, i := range []int{0, 2} {
		if got := receive(t, peers[i]); got != "not you" {
			t.Errorf("peer %d: expected 'not you', got %q", i, got)
		}
		if got := receive(t, peers[i]); got != "everyone" {
			t.Errorf("peer %d: expected 'everyone', got %q", i, got)
		}
	}
	if got := receive(t, peers[1]); got != "everyone" {
		t.Errorf("excluded peer: expected only 'everyone', got %q", got)
	}
}

func TestConnectionLifecycleHooks(t *testing.T) {
	h := newHarness(t)
	h.dial(t, 1)
	conn := h.server.Connections()[0]
	state := h.states()[0]

	if state.Connects() != 1 {
		t.Errorf("expected OnConnect once, got %d", state.Connects())
	}
	if state.Connection() != conn {
		t.Error("expected back-reference to the owning connection")
	}
	if conn.State() != ConnectionState(state) {
		t.Error("expected Connection.State to return the bound state")
	}

	conn.Disconnect()
	conn.Disconnect()
	if !conn.Disconnected() || !state.Disconnected() {
		t.Fatal("expected disconnected flag to be set")
	}
	if state.Disconnects() != 1 {
		t.Errorf("expected OnDisconnect once, got %d", state.Disconnects())
	}

	h.server.Update(time.Millisecond)
	if h.server.Count() != 0 {
		t.Errorf("expected connection to be reaped, got %d", h.server.Count())
	}
}

func TestInitializeErrors(t *testing.T) {
	s := &Server{cfg: transport.DefaultConfig(), log: zap.NewNop()}
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	c := newConnection(s, a)
	if err := c.Initialize(func(*Connection) ConnectionState { return nil }); !errors.Is(err, ErrNilState) {
		t.Errorf("expected ErrNilState, got %v", err)
	}
	if !c.Disconnected() {
		t.Error("an unbound connection counts as disconnected")
	}

	factory, _ := NewMockFactory()
	if err := c.Initialize(factory); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := c.Initialize(factory); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestServerCloseDisconnectsEveryone(t *testing.T) {
	h := newHarness(t)
	peers := h.dial(t, 2)

	if h.server.Port() == 0 {
		t.Error("expected a bound port")
	}

	send(t, peers[0], "traffic")
	eventually(t, "received throughput", func() bool { return h.server.BytesPerSecondReceived() > 0 })

	if err := h.server.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	for i, state := range h.states() {
		if state.Disconnects() != 1 {
			t.Errorf("state %d: expected OnDisconnect once, got %d", i, state.Disconnects())
		}
	}
	for _, peer := range peers {
		expectClosed(t, peer)
	}
	if h.server.Count() != 0 {
		t.Errorf("expected empty registry after Close, got %d", h.server.Count())
	}
	if err := h.server.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestListenRequiresFactory(t *testing.T) {
	if _, err := Listen("127.0.0.1:0", nil, transport.DefaultConfig()); err == nil {
		t.Error("expected an error without a state factory")
	}
}

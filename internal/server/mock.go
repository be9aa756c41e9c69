package server

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockState is a recording ConnectionState for testing.
//
// Payloads "bad" and "panic" make Message fail with an error or a panic.
// Payload "bye" disconnects the state without an error. Payloads prefixed
// "echo:" are sent back to the peer without the prefix.
type MockState struct {
	BaseState

	mu          sync.Mutex
	messages    []string
	updates     int
	elapsed     time.Duration
	connects    int
	disconnects int
}

// ErrMockRejected is returned by MockState.Message for the payload "bad".
var ErrMockRejected = errors.New("mock state rejected payload")

// NewMockFactory returns a factory that records every state it creates.
func NewMockFactory() (StateFactory, func() []*MockState) {
	var mu sync.Mutex
	var states []*MockState

	factory := func(c *Connection) ConnectionState {
		s := &MockState{}
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
		return s
	}
	created := func() []*MockState {
		mu.Lock()
		defer mu.Unlock()
		return append([]*MockState{}, states...)
	}
	return factory, created
}

// Message records payload.
func (s *MockState) Message(payload []byte) error {
	msg := string(payload)

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	switch {
	case msg == "bad":
		return ErrMockRejected
	case msg == "panic":
		panic("mock state panic")
	case msg == "bye":
		s.Disconnect()
	case len(msg) > 5 && msg[:5] == "echo:":
		if c := s.Connection(); c != nil {
			return c.Send([]byte(msg[5:]))
		}
	}
	return nil
}

// Update records the tick.
func (s *MockState) Update(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.elapsed += dt
}

// OnConnect counts binds.
func (s *MockState) OnConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
}

// OnDisconnect counts disconnects.
func (s *MockState) OnDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
}

// --- Test helpers ---

// Messages returns every payload received so far.
func (s *MockState) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.messages...)
}

// Updates returns the number of Update calls.
func (s *MockState) Updates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Elapsed returns the sum of dt over all Update calls.
func (s *MockState) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Connects returns the number of OnConnect calls.
func (s *MockState) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Disconnects returns the number of OnDisconnect calls.
func (s *MockState) Disconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnects
}

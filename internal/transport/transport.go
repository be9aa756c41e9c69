// Package transport provides the socket half shared by the outbound client and
// the server-side connections: per-socket reader/writer goroutines, the inbox
// of decoded payloads, and the failure taxonomy.
package transport

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Phase names the asynchronous step that failed.
type Phase string

const (
	PhaseResolve Phase = "resolve"
	PhaseConnect Phase = "connect"
	PhaseWrite   Phase = "write"
	PhaseHeader  Phase = "header"
	PhaseContent Phase = "content"

	// PhaseRequested marks the synthetic failure recorded by an explicit disconnect.
	PhaseRequested Phase = "requested"
)

var (
	ErrClosed              = errors.New("link closed")
	ErrSendQueueFull       = errors.New("send queue full")
	ErrMessageTooLarge     = errors.New("message exceeds maximum size")
	ErrDisconnectRequested = errors.New("disconnect requested")
)

// Failure is a (phase, cause) pair describing why a socket stopped.
type Failure struct {
	Phase Phase
	Err   error
}

// NewFailure creates a failure for phase.
func NewFailure(phase Phase, err error) *Failure {
	return &Failure{Phase: phase, Err: err}
}

func (f *Failure) Error() string {
	return "[" + string(f.Phase) + "] " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// PhaseOf returns the phase carried by err, or "" if err is not a Failure.
func PhaseOf(err error) Phase {
	var f *Failure
	if errors.As(err, &f) {
		return f.Phase
	}
	return ""
}

// FailureSlot records the most recent failure until the consumer takes it.
// Only the last failure survives: earlier ones recorded between two Take calls
// are dropped, so a consumer polling once per tick sees at most one.
type FailureSlot struct {
	mu      sync.Mutex
	failure *Failure
}

// Record stores f, replacing any failure not yet taken.
func (s *FailureSlot) Record(f *Failure) {
	s.mu.Lock()
	s.failure = f
	s.mu.Unlock()
}

// Take returns and clears the pending failure.
func (s *FailureSlot) Take() *Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.failure
	s.failure = nil
	return f
}

// Pending reports whether a failure is waiting to be taken.
func (s *FailureSlot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure != nil
}

// Config holds transport configuration.
type Config struct {
	// MaxMessageSize caps inbound payloads; 0 means unbounded.
	MaxMessageSize   uint32        `yaml:"max_message_size"`
	InboxSize        int           `yaml:"inbox_size"`
	SendQueueSize    int           `yaml:"send_queue_size"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	NoDelay          bool          `yaml:"no_delay"`
	ThroughputWindow time.Duration `yaml:"throughput_window"`

	Logger  *zap.Logger `yaml:"-"`
	Metrics *Metrics    `yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   0,
		InboxSize:        1024,
		SendQueueSize:    1024,
		ConnectTimeout:   10 * time.Second,
		NoDelay:          true,
		ThroughputWindow: time.Second,
	}
}

// Log returns the configured logger, or a no-op logger.
func (c Config) Log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.ThroughputWindow <= 0 {
		c.ThroughputWindow = def.ThroughputWindow
	}
	return c
}

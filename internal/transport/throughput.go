package transport

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

type sample struct {
	at    time.Time
	bytes int
}

// Throughput aggregates byte counts over a sliding window that ends at the
// newest sample. With a one second window BytesPerSecond is a rate.
type Throughput struct {
	mu      sync.Mutex
	window  time.Duration
	samples *queue.Queue
	newest  time.Time
	total   int
}

// NewThroughput creates an aggregate over window.
func NewThroughput(window time.Duration) *Throughput {
	if window <= 0 {
		window = time.Second
	}
	return &Throughput{
		window:  window,
		samples: queue.New(),
	}
}

// Add records n bytes transferred at.
func (t *Throughput) Add(at time.Time, n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples.Add(sample{at: at, bytes: n})
	t.total += n
	if at.After(t.newest) {
		t.newest = at
	}
	t.trim()
}

// BytesPerSecond returns the bytes recorded within the window.
func (t *Throughput) BytesPerSecond() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trim()
	return t.total
}

func (t *Throughput) trim() {
	for t.samples.Length() > 0 {
		oldest := t.samples.Peek().(sample)
		if t.newest.Sub(oldest.at) <= t.window {
			return
		}
		t.samples.Remove()
		t.total -= oldest.bytes
	}
}

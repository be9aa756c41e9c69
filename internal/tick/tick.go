// Package tick runs the foreground simulation loop that drives transport
// updates once per tick.
package tick

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// UpdateFunc is called once per tick with the time elapsed since the previous
// tick.
type UpdateFunc func(dt time.Duration)

// Loop calls an UpdateFunc at a fixed rate from a single goroutine.
type Loop struct {
	tickRate int
	interval time.Duration
	update   UpdateFunc
	log      *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	tick atomic.Uint64
}

// NewLoop creates a loop running update tickRate times per second.
func NewLoop(tickRate int, update UpdateFunc, log *zap.Logger) *Loop {
	if tickRate <= 0 {
		tickRate = 60
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		tickRate: tickRate,
		interval: time.Second / time.Duration(tickRate),
		update:   update,
		log:      log.Named("tick"),
	}
}

// Start begins ticking. Calling Start on a running loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.wg.Add(1)
	go l.run(l.stopCh)
	l.log.Info("loop started", zap.Int("tick_rate", l.tickRate), zap.Duration("interval", l.interval))
}

// Stop ends the loop and waits for the in-progress tick to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	l.mu.Unlock()

	l.wg.Wait()
	l.log.Info("loop stopped", zap.Uint64("ticks", l.CurrentTick()))
}

// CurrentTick returns the number of completed ticks.
func (l *Loop) CurrentTick() uint64 {
	return l.tick.Load()
}

// Interval returns the time between ticks.
func (l *Loop) Interval() time.Duration {
	return l.interval
}

func (l *Loop) run(stopCh <-chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			l.update(dt)
			l.tick.Add(1)
		}
	}
}

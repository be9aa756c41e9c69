package tick

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopStartStop(t *testing.T) {
	var calls atomic.Int64
	var total atomic.Int64
	loop := NewLoop(200, func(dt time.Duration) {
		calls.Add(1)
		total.Add(int64(dt))
	}, nil)

	loop.Start()
	loop.Start() // no-op while running
	time.Sleep(50 * time.Millisecond)
	loop.Stop()

	ticks := loop.CurrentTick()
	if ticks < 1 {
		t.Fatalf("expected at least 1 tick, got %d", ticks)
	}
	if uint64(calls.Load()) != ticks {
		t.Errorf("expected %d update calls, got %d", ticks, calls.Load())
	}
	if total.Load() <= 0 {
		t.Error("expected positive elapsed time across ticks")
	}

	time.Sleep(20 * time.Millisecond)
	if loop.CurrentTick() != ticks {
		t.Error("loop kept ticking after Stop")
	}
	loop.Stop() // no-op when stopped
}

func TestLoopRestart(t *testing.T) {
	var calls atomic.Int64
	loop := NewLoop(200, func(time.Duration) { calls.Add(1) }, nil)

	loop.Start()
	time.Sleep(20 * time.Millisecond)
	loop.Stop()
	first := calls.Load()

	loop.Start()
	time.Sleep(20 * time.Millisecond)
	loop.Stop()

	if calls.Load() <= first {
		t.Errorf("expected more ticks after restart, got %d then %d", first, calls.Load())
	}
}

func TestNewLoopDefaults(t *testing.T) {
	loop := NewLoop(0, func(time.Duration) {}, nil)
	if loop.Interval() != time.Second/60 {
		t.Errorf("expected 60 Hz default, got %v", loop.Interval())
	}
}

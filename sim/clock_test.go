package sim

import (
	"context"
	"testing"
	"time"
)

func TestClockRealTimeAdvancesByTick(t *testing.T) {
	c := NewClock(time.Millisecond)
	start := c.Now()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	now, dt, ok := c.WaitTick(ctx)
	if !ok {
		t.Fatal("WaitTick returned not ok")
	}
	if dt != time.Millisecond {
		t.Fatalf("dt = %v, want 1ms", dt)
	}
	if got := now.Sub(start); got != time.Millisecond {
		t.Fatalf("simulated time advanced %v, want 1ms", got)
	}
}

func TestClockAcceleratedKeepsSimulatedTick(t *testing.T) {
	c := NewClock(10 * time.Millisecond)
	c.SetMode(Accelerated, 100)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	wall := time.Now()
	_, dt, ok := c.WaitTick(ctx)
	if !ok {
		t.Fatal("WaitTick returned not ok")
	}
	// Simulated time per tick is unchanged; only wall time shrinks.
	if dt != 10*time.Millisecond {
		t.Fatalf("dt = %v, want 10ms", dt)
	}
	if elapsed := time.Since(wall); elapsed > 50*time.Millisecond {
		t.Fatalf("accelerated tick took %v of wall time", elapsed)
	}
}

func TestClockSingleStepBlocksUntilStep(t *testing.T) {
	c := NewClock(10 * time.Millisecond)
	c.SetMode(SingleStep, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan time.Duration, 1)
	go func() {
		_, dt, ok := c.WaitTick(ctx)
		if !ok {
			close(done)
			return
		}
		done <- dt
	}()

	select {
	case <-done:
		t.Fatal("WaitTick returned before Step")
	case <-time.After(20 * time.Millisecond):
	}

	c.Step()
	select {
	case dt := <-done:
		if dt != 10*time.Millisecond {
			t.Fatalf("dt = %v, want tick", dt)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitTick did not return after Step")
	}
}

func TestClockAdvanceDeliversCustomDelta(t *testing.T) {
	c := NewClock(10 * time.Millisecond)
	c.SetMode(Playback, 0)
	c.Advance(3 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := c.Now()
	now, dt, ok := c.WaitTick(ctx)
	if !ok {
		t.Fatal("WaitTick returned not ok")
	}
	if dt != 3*time.Second {
		t.Fatalf("dt = %v, want 3s", dt)
	}
	if now.Sub(start) != 3*time.Second {
		t.Fatalf("simulated time advanced %v, want 3s", now.Sub(start))
	}
}

func TestClockModeSwitchAppliesAtNextTick(t *testing.T) {
	c := NewClock(time.Millisecond)
	if c.Mode() != RealTime {
		t.Fatalf("initial mode = %v, want real_time", c.Mode())
	}

	c.SetMode(SingleStep, 0)
	// Staged, not applied yet.
	if c.Mode() != RealTime {
		t.Fatalf("mode switched before next tick: %v", c.Mode())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.Step()
	if _, _, ok := c.WaitTick(ctx); !ok {
		t.Fatal("WaitTick returned not ok")
	}
	if c.Mode() != SingleStep {
		t.Fatalf("mode = %v after tick, want single_step", c.Mode())
	}
}

func TestClockWaitTickHonoursCancellation(t *testing.T) {
	c := NewClock(10 * time.Millisecond)
	c.SetMode(SingleStep, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Apply the staged mode first, then wait with a cancelled context.
	if _, _, ok := c.WaitTick(ctx); ok {
		t.Fatal("WaitTick succeeded with cancelled context")
	}
}

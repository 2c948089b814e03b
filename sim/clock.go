package sim

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ClockMode describes how the simulation clock advances.
type ClockMode int

const (
	// RealTime advances one tick per wall-clock tick.
	RealTime ClockMode = iota
	// Accelerated advances ticks faster than wall time by a factor.
	Accelerated
	// SingleStep advances only when Step is called.
	SingleStep
	// Playback advances when a replay source calls Advance.
	Playback
)

func (m ClockMode) String() string {
	switch m {
	case RealTime:
		return "real_time"
	case Accelerated:
		return "accelerated"
	case SingleStep:
		return "single_step"
	case Playback:
		return "playback"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Clock drives the engine loops. Mode changes are staged and apply at the
// next tick boundary, never mid-tick.
type Clock struct {
	mu     sync.Mutex
	mode   ClockMode
	factor float64
	tick   time.Duration

	pendingMode   ClockMode
	pendingFactor float64
	hasPending    bool

	simTime time.Time

	stepCh chan time.Duration
}

// NewClock builds a real-time clock with the given tick.
func NewClock(tick time.Duration) *Clock {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	return &Clock{
		mode:    RealTime,
		factor:  1,
		tick:    tick,
		simTime: time.Now().UTC(),
		stepCh:  make(chan time.Duration, 1),
	}
}

// Tick returns the simulation tick size.
func (c *Clock) Tick() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tick
}

// Now returns the current simulation time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.simTime
}

// Mode returns the active mode.
func (c *Clock) Mode() ClockMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode stages a mode switch; it takes effect at the next tick. The
// factor only matters for Accelerated.
func (c *Clock) SetMode(mode ClockMode, factor float64) {
	if factor <= 0 {
		factor = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingMode = mode
	c.pendingFactor = factor
	c.hasPending = true
}

// Step triggers one tick in SingleStep mode. Extra calls while a step is
// already pending are coalesced.
func (c *Clock) Step() {
	select {
	case c.stepCh <- 0:
	default:
	}
}

// Advance pushes simulation time forward by d in Playback mode.
func (c *Clock) Advance(d time.Duration) {
	select {
	case c.stepCh <- d:
	default:
	}
}

// WaitTick blocks until the next tick and returns the new simulation time
// and the simulated interval it covers. ok is false when ctx ended.
func (c *Clock) WaitTick(ctx context.Context) (time.Time, time.Duration, bool) {
	c.mu.Lock()
	if c.hasPending {
		c.mode = c.pendingMode
		c.factor = c.pendingFactor
		c.hasPending = false
	}
	mode, factor, tick := c.mode, c.factor, c.tick
	c.mu.Unlock()

	var dt time.Duration
	switch mode {
	case SingleStep, Playback:
		select {
		case <-ctx.Done():
			return time.Time{}, 0, false
		case d := <-c.stepCh:
			dt = d
			if dt <= 0 {
				dt = tick
			}
		}
	case Accelerated:
		wall := time.Duration(float64(tick) / factor)
		select {
		case <-ctx.Done():
			return time.Time{}, 0, false
		case <-time.After(wall):
		}
		dt = tick
	default: // RealTime
		select {
		case <-ctx.Done():
			return time.Time{}, 0, false
		case <-time.After(tick):
		}
		dt = tick
	}

	c.mu.Lock()
	c.simTime = c.simTime.Add(dt)
	now := c.simTime
	c.mu.Unlock()
	return now, dt, true
}

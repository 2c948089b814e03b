package netsim

import (
	"sync"
	"time"
)

// Condition is the live impairment state of one link: the active profile
// plus the transient outage flag the drop injector toggles.
type Condition struct {
	mu        sync.RWMutex
	profile   Profile
	downUntil time.Time
}

// NewCondition builds a condition from a profile.
func NewCondition(p Profile) *Condition {
	return &Condition{profile: p}
}

// Profile returns the active profile.
func (c *Condition) Profile() Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

// SetProfile swaps the active profile. Packets already in flight keep the
// impairments they were assigned.
func (c *Condition) SetProfile(p Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
}

// Down reports whether the link is inside an injected outage.
func (c *Condition) Down() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Before(c.downUntil)
}

// dropFor starts an outage lasting d from now.
func (c *Condition) dropFor(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downUntil = time.Now().Add(d)
}

// restore ends an outage immediately.
func (c *Condition) restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downUntil = time.Time{}
}

// Stats is a read-only snapshot of one link's counters.
type Stats struct {
	Sent       uint64
	Delivered  uint64
	Lost       uint64
	Corrupted  uint64
	Duplicated uint64
	Reordered  uint64
	LinkDrops  uint64

	LatencyMin time.Duration
	LatencyAvg time.Duration
	LatencyMax time.Duration
}

type statsCounters struct {
	mu sync.Mutex
	s  Stats

	latencyTotal time.Duration
	latencyCount uint64
}

func (c *statsCounters) sent()       { c.mu.Lock(); c.s.Sent++; c.mu.Unlock() }
func (c *statsCounters) lost()       { c.mu.Lock(); c.s.Lost++; c.mu.Unlock() }
func (c *statsCounters) corrupted()  { c.mu.Lock(); c.s.Corrupted++; c.mu.Unlock() }
func (c *statsCounters) duplicated() { c.mu.Lock(); c.s.Duplicated++; c.mu.Unlock() }
func (c *statsCounters) reordered()  { c.mu.Lock(); c.s.Reordered++; c.mu.Unlock() }
func (c *statsCounters) linkDrop()   { c.mu.Lock(); c.s.LinkDrops++; c.mu.Unlock() }

func (c *statsCounters) delivered(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Delivered++
	c.latencyTotal += latency
	c.latencyCount++
	if c.s.LatencyMin == 0 || latency < c.s.LatencyMin {
		c.s.LatencyMin = latency
	}
	if latency > c.s.LatencyMax {
		c.s.LatencyMax = latency
	}
}

func (c *statsCounters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.s
	if c.latencyCount > 0 {
		out.LatencyAvg = c.latencyTotal / time.Duration(c.latencyCount)
	}
	return out
}

package physics

import (
	"sync"
	"time"
)

// StandardGravity is the default downward acceleration, m/s^2.
const StandardGravity = 9.80665

// Simulator owns the physics states of all simulated objects and advances
// them in lockstep. All mutation goes through the simulator so callers
// never race a live State.
type Simulator struct {
	mu      sync.Mutex
	states  map[string]*State
	gravity float64
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithGravity overrides the gravity magnitude (0 disables it; Mars rovers
// get 3.71).
func WithGravity(g float64) SimulatorOption {
	return func(s *Simulator) { s.gravity = g }
}

// NewSimulator builds an empty physics simulator with Earth gravity.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		states:  make(map[string]*State),
		gravity: StandardGravity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add creates and tracks a state for the named object. Re-adding an
// existing id resets its state.
func (s *Simulator) Add(id string, massKg float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = NewState(massKg)
}

// Remove drops the named object. Unknown ids are ignored.
func (s *Simulator) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, id)
}

// ApplyForce accumulates a force on the named object for the next step.
func (s *Simulator) ApplyForce(id string, f Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.ApplyForce(f)
	}
}

// ApplyTorque accumulates a torque on the named object for the next step.
func (s *Simulator) ApplyTorque(id string, t Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		st.ApplyTorque(t)
	}
}

// StepAll advances every tracked state by dt, applying gravity as a body
// force first.
func (s *Simulator) StepAll(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		if s.gravity != 0 {
			st.ApplyForce(Vec3{Z: -s.gravity * st.MassKg})
		}
		st.Step(dt)
	}
}

// Snapshot returns a copy of the named object's state.
func (s *Simulator) Snapshot(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return State{}, false
	}
	return st.Snapshot(), true
}

// Len reports the number of tracked objects.
func (s *Simulator) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

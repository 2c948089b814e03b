package physics

import "time"

// State is the rigid-body state of one simulated object. It is owned
// exclusively by the Simulator that created it; snapshots cross goroutine
// boundaries, the live struct never does.
type State struct {
	Position        Vec3
	Velocity        Vec3
	Acceleration    Vec3
	Orientation     Vec3 // Euler angles, radians
	AngularVelocity Vec3 // rad/s

	MassKg  float64
	Inertia float64 // scalar moment approximation, kg*m^2

	// Accumulated since the last step, cleared by Step.
	force  Vec3
	torque Vec3
}

// NewState builds a state with the given mass. Zero or negative mass is
// coerced to 1 kg so force application never divides by zero.
func NewState(massKg float64) *State {
	if massKg <= 0 {
		massKg = 1
	}
	return &State{MassKg: massKg, Inertia: massKg}
}

// ApplyForce accumulates a force for the next step, in newtons.
func (s *State) ApplyForce(f Vec3) {
	s.force = s.force.Add(f)
}

// ApplyTorque accumulates a torque for the next step, in newton-metres.
func (s *State) ApplyTorque(t Vec3) {
	s.torque = s.torque.Add(t)
}

// Step advances the state by dt using semi-implicit Euler: velocity first
// from the accumulated forces, then position from the new velocity. The
// accumulators are cleared afterwards.
func (s *State) Step(dt time.Duration) {
	h := dt.Seconds()
	if h <= 0 {
		return
	}

	s.Acceleration = s.force.Scale(1 / s.MassKg)
	s.Velocity = s.Velocity.Add(s.Acceleration.Scale(h))
	s.Position = s.Position.Add(s.Velocity.Scale(h))

	angAccel := s.torque.Scale(1 / s.Inertia)
	s.AngularVelocity = s.AngularVelocity.Add(angAccel.Scale(h))
	s.Orientation = s.Orientation.Add(s.AngularVelocity.Scale(h))

	s.force = Vec3{}
	s.torque = Vec3{}
}

// Snapshot returns a copy safe to hand to other goroutines.
func (s *State) Snapshot() State {
	out := *s
	out.force = Vec3{}
	out.torque = Vec3{}
	return out
}

package physics

import (
	"math"
	"math/rand"
	"time"

	"github.com/wtyler2505/roverhal/model"
)

// Actuator simulates one actuator output tracking a commanded target.
// Motion follows an exponential first-order approach, optionally shaped by
// a damped-oscillation overshoot. Hard limits stall the actuator instead
// of being exceeded: the offending step leaves the output unchanged and
// latches a fault flag.
type Actuator struct {
	profile model.ActuatorProfile
	rng     *rand.Rand

	value       float64
	velocity    float64
	target      float64
	start       float64
	sinceTarget time.Duration

	loadTorque float64
	faulted    bool
}

// NewActuator builds an actuator simulation resting at the low end of its
// control range. A nil rng gets a time-seeded source.
func NewActuator(profile model.ActuatorProfile, rng *rand.Rand) *Actuator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Actuator{
		profile: profile,
		rng:     rng,
		value:   profile.ControlMin,
		target:  profile.ControlMin,
		start:   profile.ControlMin,
	}
}

// Profile returns the immutable template this actuator was built from.
func (a *Actuator) Profile() model.ActuatorProfile { return a.profile }

// Value returns the current output.
func (a *Actuator) Value() float64 { return a.value }

// Target returns the active command.
func (a *Actuator) Target() float64 { return a.target }

// Faulted reports whether a limit stall has latched.
func (a *Actuator) Faulted() bool { return a.faulted }

// ClearFault unlatches a stall so motion can resume.
func (a *Actuator) ClearFault() { a.faulted = false }

// SetLoadTorque sets the external load torque opposing motion, used for
// the torque limit check and environment coupling.
func (a *Actuator) SetLoadTorque(t float64) { a.loadTorque = math.Abs(t) }

// SetTarget commands a new position. Targets outside the control range are
// clamped; a change smaller than the backlash dead-zone does not engage
// the mechanism.
func (a *Actuator) SetTarget(v float64) {
	v = clamp(v, a.profile.ControlMin, a.profile.ControlMax)
	if math.Abs(v-a.target) <= a.profile.Backlash {
		return
	}
	a.target = v
	a.start = a.value
	a.sinceTarget = 0
}

// Step advances the actuator by dt. While faulted the output holds still.
func (a *Actuator) Step(dt time.Duration) {
	if dt <= 0 || a.faulted {
		return
	}
	a.sinceTarget += dt

	next := a.response(a.sinceTarget)
	next = clamp(next, a.profile.ControlMin, a.profile.ControlMax)

	if m := &a.profile.Motor; m.Kind == model.MotorStepper {
		var missed bool
		next, missed = stepperQuantize(a.rng, m, a.value, next)
		if missed {
			// A missed step leaves the rotor one detent behind; the
			// response keeps chasing the target on later steps.
			a.velocity = 0
			return
		}
	}

	h := dt.Seconds()
	stepVel := (next - a.value) / h
	stepAccel := (stepVel - a.velocity) / h

	if a.exceedsLimit(stepVel, stepAccel) {
		a.faulted = true
		a.velocity = 0
		return
	}

	a.value = next
	a.velocity = stepVel
}

// response is the analytic trajectory since the last target change.
func (a *Actuator) response(t time.Duration) float64 {
	p := &a.profile
	tau := p.ResponseTime.Seconds()
	if tau <= 0 {
		return a.target
	}

	ts := t.Seconds()
	if p.OvershootFraction > 0 && p.DampingRatio > 0 && p.DampingRatio < 1 {
		// Underdamped second-order step response. The natural frequency
		// is derived from the response time as the envelope time constant.
		zeta := p.DampingRatio
		omega := 1 / (zeta * tau)
		omegaD := omega * math.Sqrt(1-zeta*zeta)
		envelope := math.Exp(-zeta * omega * ts)
		phase := math.Cos(omegaD*ts) + (zeta/math.Sqrt(1-zeta*zeta))*math.Sin(omegaD*ts)
		return a.target + (a.start-a.target)*envelope*phase
	}
	return a.target + (a.start-a.target)*math.Exp(-ts/tau)
}

func (a *Actuator) exceedsLimit(vel, accel float64) bool {
	p := &a.profile
	if p.MaxSpeed > 0 && math.Abs(vel) > p.MaxSpeed {
		return true
	}
	if p.MaxAcceleration > 0 && math.Abs(accel) > p.MaxAcceleration {
		return true
	}
	if p.MaxTorque > 0 && a.loadTorque > p.MaxTorque {
		return true
	}
	if p.MaxCurrent > 0 {
		if current := a.drawCurrent(vel); current > p.MaxCurrent {
			return true
		}
	}
	return false
}

// drawCurrent estimates the drive current at the given output velocity.
// DC motors use the back-EMF model; everything else scales load torque
// against the torque limit.
func (a *Actuator) drawCurrent(vel float64) float64 {
	m := &a.profile.Motor
	if m.Kind == model.MotorDC {
		return dcCurrent(m, vel)
	}
	if a.profile.MaxTorque > 0 && a.profile.MaxCurrent > 0 {
		return a.loadTorque / a.profile.MaxTorque * a.profile.MaxCurrent
	}
	return 0
}

package physics

import (
	"math"
	"math/rand"

	"github.com/wtyler2505/roverhal/model"
)

// dcCurrent returns the armature current of a brushed DC motor spinning at
// the given speed: I = (V - Ke*w) / R. Degenerate parameters yield zero so
// an incomplete profile never trips the current limit.
func dcCurrent(m *model.MotorModel, speed float64) float64 {
	if m.Resistance <= 0 {
		return 0
	}
	backEMF := m.BackEMFConstant * math.Abs(speed)
	current := (m.SupplyVoltage - backEMF) / m.Resistance
	if current < 0 {
		return 0
	}
	return current
}

// stepperQuantize snaps the desired output onto the stepper's detent grid
// and rolls the missed-step probability per commanded step. It returns the
// achievable next value and whether a step was missed this call.
func stepperQuantize(rng *rand.Rand, m *model.MotorModel, current, desired float64) (float64, bool) {
	if m.StepAngleDeg <= 0 {
		return desired, false
	}
	step := m.StepAngleDeg

	delta := desired - current
	steps := math.Trunc(delta / step)
	if steps == 0 {
		// Sub-step demand: the rotor holds on the current detent.
		return current, false
	}

	if m.MissedStepProbability > 0 && rng.Float64() < m.MissedStepProbability {
		return current, true
	}
	return current + steps*step, false
}

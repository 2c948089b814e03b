package physics

import (
	"math"
	"math/rand"
	"time"

	"github.com/wtyler2505/roverhal/model"
)

// Sensor generates readings for one simulated sensor by corrupting a true
// value through the profile's error model. Stages run in a fixed order:
// range clamp, calibration, drift, additive noise, quantization, accuracy
// jitter, final clamp. The injected rand source makes runs reproducible.
type Sensor struct {
	profile model.SensorProfile
	rng     *rand.Rand

	elapsed time.Duration
	walk    float64
}

// NewSensor builds a sensor simulation from its profile. A nil rng gets a
// time-seeded source.
func NewSensor(profile model.SensorProfile, rng *rand.Rand) *Sensor {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Sensor{profile: profile, rng: rng}
}

// Profile returns the immutable template this sensor was built from.
func (s *Sensor) Profile() model.SensorProfile { return s.profile }

// Elapsed reports accumulated simulation time, the basis for drift and
// periodic interference.
func (s *Sensor) Elapsed() time.Duration { return s.elapsed }

// Reading advances the sensor by dt and corrupts truth into a measured
// value.
func (s *Sensor) Reading(truth float64, dt time.Duration) float64 {
	if dt > 0 {
		s.elapsed += dt
	}
	p := &s.profile

	v := clamp(truth, p.RangeMin, p.RangeMax)

	// Calibration error: the sensor reports raw*scale + offset. A zero
	// scale in the profile means "uncalibrated error absent", not a dead
	// sensor.
	scale := p.Noise.CalibrationScale
	if scale == 0 {
		scale = 1
	}
	v = v*scale + p.Noise.CalibrationOffset

	v += p.Noise.DriftPerHour * s.elapsed.Hours()
	v += s.noise()

	if p.Resolution > 0 {
		v = math.Round(v/p.Resolution) * p.Resolution
	}
	if p.Accuracy > 0 {
		v += (s.rng.Float64()*2 - 1) * p.Accuracy
	}

	return clamp(v, p.RangeMin, p.RangeMax)
}

func (s *Sensor) noise() float64 {
	n := &s.profile.Noise
	var v float64

	if n.GaussianStdDev > 0 {
		v += s.rng.NormFloat64() * n.GaussianStdDev
	}
	if n.PeriodicAmplitude > 0 && n.PeriodicPeriod > 0 {
		phase := 2 * math.Pi * float64(s.elapsed) / float64(n.PeriodicPeriod)
		v += n.PeriodicAmplitude * math.Sin(phase)
	}
	if n.SpikeProbability > 0 && s.rng.Float64() < n.SpikeProbability {
		sign := 1.0
		if s.rng.Float64() < 0.5 {
			sign = -1
		}
		v += sign * n.SpikeMagnitude
	}
	if n.RandomWalkStep > 0 {
		s.walk += (s.rng.Float64()*2 - 1) * n.RandomWalkStep
		if n.RandomWalkBound > 0 {
			s.walk = clamp(s.walk, -n.RandomWalkBound, n.RandomWalkBound)
		}
		v += s.walk
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

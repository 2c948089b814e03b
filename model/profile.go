package model

import (
	"fmt"
)

// ProfileKind discriminates the device profile variants.
type ProfileKind string

const (
	ProfileSensor   ProfileKind = "sensor"
	ProfileActuator ProfileKind = "actuator"
	ProfileRover    ProfileKind = "rover"
)

// NoiseModel describes the stochastic behaviour layered onto a simulated
// sensor reading. All fields are in the sensor's engineering units unless
// noted otherwise.
type NoiseModel struct {
	// GaussianStdDev is the sigma of the additive white noise term.
	GaussianStdDev float64 `yaml:"gaussian_stddev" json:"gaussian_stddev"`

	// Periodic interference (e.g. motor PWM coupling).
	PeriodicAmplitude float64  `yaml:"periodic_amplitude" json:"periodic_amplitude"`
	PeriodicPeriod    Duration `yaml:"periodic_period" json:"periodic_period"`

	// Rare large outliers.
	SpikeProbability float64 `yaml:"spike_probability" json:"spike_probability"`
	SpikeMagnitude   float64 `yaml:"spike_magnitude" json:"spike_magnitude"`

	// Bounded random walk (slow wander around the true value).
	RandomWalkStep  float64 `yaml:"random_walk_step" json:"random_walk_step"`
	RandomWalkBound float64 `yaml:"random_walk_bound" json:"random_walk_bound"`

	// DriftPerHour is accumulated linearly over elapsed simulation time.
	DriftPerHour float64 `yaml:"drift_per_hour" json:"drift_per_hour"`

	// Calibration error applied before noise: reading = raw*Scale + Offset.
	CalibrationOffset float64 `yaml:"calibration_offset" json:"calibration_offset"`
	CalibrationScale  float64 `yaml:"calibration_scale" json:"calibration_scale"`
}

// SensorProfile is the declarative template for a simulated sensor.
type SensorProfile struct {
	// Measured quantity, e.g. "temperature", "distance", "voltage".
	Quantity string `yaml:"quantity" json:"quantity"`
	Unit     string `yaml:"unit" json:"unit"`

	RangeMin   float64 `yaml:"range_min" json:"range_min"`
	RangeMax   float64 `yaml:"range_max" json:"range_max"`
	Resolution float64 `yaml:"resolution" json:"resolution"`
	// Accuracy is the half-width of the accuracy band; the final reading
	// jitters uniformly within it.
	Accuracy float64 `yaml:"accuracy" json:"accuracy"`

	SamplingRateHz float64 `yaml:"sampling_rate_hz" json:"sampling_rate_hz"`

	Noise NoiseModel `yaml:"noise" json:"noise"`

	// BaseValue is the quiescent reading when no environment coupling
	// drives the quantity.
	BaseValue float64 `yaml:"base_value" json:"base_value"`

	// EnvironmentKey optionally couples this sensor to an environment
	// variable (e.g. "ambient_temperature"); empty means uncoupled.
	EnvironmentKey string `yaml:"environment_key,omitempty" json:"environment_key,omitempty"`
}

// MotorKind selects the electromechanical refinement for an actuator.
type MotorKind string

const (
	MotorNone    MotorKind = ""
	MotorDC      MotorKind = "dc"
	MotorStepper MotorKind = "stepper"
)

// MotorModel carries the simplified electromechanics layered on top of the
// generic first-order response.
type MotorModel struct {
	Kind MotorKind `yaml:"kind" json:"kind"`

	// DC motor parameters.
	BackEMFConstant float64 `yaml:"back_emf_constant,omitempty" json:"back_emf_constant,omitempty"`
	Inertia         float64 `yaml:"inertia,omitempty" json:"inertia,omitempty"`
	SupplyVoltage   float64 `yaml:"supply_voltage,omitempty" json:"supply_voltage,omitempty"`
	Resistance      float64 `yaml:"resistance,omitempty" json:"resistance,omitempty"`

	// Stepper parameters.
	StepAngleDeg         float64 `yaml:"step_angle_deg,omitempty" json:"step_angle_deg,omitempty"`
	DetentTorque         float64 `yaml:"detent_torque,omitempty" json:"detent_torque,omitempty"`
	HoldingTorque        float64 `yaml:"holding_torque,omitempty" json:"holding_torque,omitempty"`
	MissedStepProbability float64 `yaml:"missed_step_probability,omitempty" json:"missed_step_probability,omitempty"`
}

// ActuatorProfile is the declarative template for a simulated actuator.
type ActuatorProfile struct {
	// Controlled quantity, e.g. "position", "velocity", "angle".
	Quantity string `yaml:"quantity" json:"quantity"`
	Unit     string `yaml:"unit" json:"unit"`

	ControlMin float64 `yaml:"control_min" json:"control_min"`
	ControlMax float64 `yaml:"control_max" json:"control_max"`

	// Hard physical limits; exceeding any of them stalls the actuator.
	MaxSpeed        float64 `yaml:"max_speed" json:"max_speed"`
	MaxAcceleration float64 `yaml:"max_acceleration" json:"max_acceleration"`
	MaxCurrent      float64 `yaml:"max_current" json:"max_current"`
	MaxTorque       float64 `yaml:"max_torque" json:"max_torque"`

	// First-order response shaping.
	ResponseTime      Duration `yaml:"response_time" json:"response_time"`
	OvershootFraction float64  `yaml:"overshoot_fraction" json:"overshoot_fraction"`
	DampingRatio      float64  `yaml:"damping_ratio" json:"damping_ratio"`
	Backlash          float64  `yaml:"backlash" json:"backlash"`

	HasFeedback bool `yaml:"has_feedback" json:"has_feedback"`

	Motor MotorModel `yaml:"motor,omitempty" json:"motor,omitempty"`
}

// PowerModel is the rover-level battery and draw model.
type PowerModel struct {
	BatteryCapacityWh float64 `yaml:"battery_capacity_wh" json:"battery_capacity_wh"`
	IdleDrawW         float64 `yaml:"idle_draw_w" json:"idle_draw_w"`
	DrivePeakDrawW    float64 `yaml:"drive_peak_draw_w" json:"drive_peak_draw_w"`
}

// LocomotionModel aggregates the rover's drive characteristics.
type LocomotionModel struct {
	WheelBaseM     float64 `yaml:"wheel_base_m" json:"wheel_base_m"`
	WheelRadiusM   float64 `yaml:"wheel_radius_m" json:"wheel_radius_m"`
	MaxSpeedMS     float64 `yaml:"max_speed_ms" json:"max_speed_ms"`
	MaxTurnRateRad float64 `yaml:"max_turn_rate_rad" json:"max_turn_rate_rad"`
}

// DeviceProfile is the read-only behavioural template for a simulated
// device. Exactly one of Sensor/Actuator/Rover is populated according to
// Kind. Profiles are immutable after load; the simulation engine and
// physics code only ever read them.
type DeviceProfile struct {
	ID       string      `yaml:"id" json:"id"`
	Name     string      `yaml:"name" json:"name"`
	Kind     ProfileKind `yaml:"kind" json:"kind"`
	Protocol Protocol    `yaml:"protocol" json:"protocol"`
	Class    DeviceClass `yaml:"class" json:"class"`

	// MassKg and dimensions feed the physics state of the simulated object.
	MassKg float64 `yaml:"mass_kg" json:"mass_kg"`

	Sensor   *SensorProfile   `yaml:"sensor,omitempty" json:"sensor,omitempty"`
	Actuator *ActuatorProfile `yaml:"actuator,omitempty" json:"actuator,omitempty"`

	// Rover profiles aggregate component profiles by ID plus rover-level
	// power and locomotion models.
	SensorIDs   []string         `yaml:"sensor_ids,omitempty" json:"sensor_ids,omitempty"`
	ActuatorIDs []string         `yaml:"actuator_ids,omitempty" json:"actuator_ids,omitempty"`
	Power       *PowerModel      `yaml:"power,omitempty" json:"power,omitempty"`
	Locomotion  *LocomotionModel `yaml:"locomotion,omitempty" json:"locomotion,omitempty"`
}

// Validate checks structural consistency of a profile. It is called once at
// library-load time; the rest of the code trusts loaded profiles.
func (p *DeviceProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile: empty id")
	}
	switch p.Kind {
	case ProfileSensor:
		if p.Sensor == nil {
			return fmt.Errorf("profile %q: kind sensor without sensor block", p.ID)
		}
		if p.Sensor.RangeMax <= p.Sensor.RangeMin {
			return fmt.Errorf("profile %q: range_max must exceed range_min", p.ID)
		}
		if p.Sensor.Resolution < 0 || p.Sensor.Accuracy < 0 {
			return fmt.Errorf("profile %q: negative resolution or accuracy", p.ID)
		}
		if p.Sensor.SamplingRateHz <= 0 {
			return fmt.Errorf("profile %q: sampling_rate_hz must be positive", p.ID)
		}
	case ProfileActuator:
		if p.Actuator == nil {
			return fmt.Errorf("profile %q: kind actuator without actuator block", p.ID)
		}
		if p.Actuator.ControlMax <= p.Actuator.ControlMin {
			return fmt.Errorf("profile %q: control_max must exceed control_min", p.ID)
		}
		if p.Actuator.ResponseTime <= 0 {
			return fmt.Errorf("profile %q: response_time must be positive", p.ID)
		}
	case ProfileRover:
		if len(p.SensorIDs) == 0 && len(p.ActuatorIDs) == 0 {
			return fmt.Errorf("profile %q: rover profile references no components", p.ID)
		}
	default:
		return fmt.Errorf("profile %q: unknown kind %q", p.ID, p.Kind)
	}
	return nil
}

package sim

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wtyler2505/roverhal/hal"
	"github.com/wtyler2505/roverhal/model"
	"github.com/wtyler2505/roverhal/sim/physics"
)

// Command is the JSON document written to a simulated device's adapter.
type Command struct {
	Command string  `json:"command"`
	Value   float64 `json:"value,omitempty"`
}

// Telemetry is the JSON document a simulated sensor emits through its
// adapter read path.
type Telemetry struct {
	DeviceID  string    `json:"device_id"`
	Quantity  string    `json:"quantity"`
	Unit      string    `json:"unit"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// deviceState bundles everything the engine tracks per simulated device:
// the profile, the mock transport pair, and the physics models.
type deviceState struct {
	profile model.DeviceProfile
	adapter *hal.MockAdapter
	mock    *hal.MockDevice

	sensor   *physics.Sensor
	actuator *physics.Actuator

	// sampleDue accumulates simulated time until the next sensor sample.
	sampleDue time.Duration
}

// samplePeriod is the interval between sensor emissions.
func (d *deviceState) samplePeriod() time.Duration {
	if d.sensor == nil {
		return 0
	}
	hz := d.sensor.Profile().SamplingRateHz
	if hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// handleCommand decodes and applies a command written to the device.
func (d *deviceState) handleCommand(payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("device %s: decode command: %w", d.profile.ID, err)
	}
	switch cmd.Command {
	case "set_target":
		if d.actuator == nil {
			return fmt.Errorf("device %s: not an actuator", d.profile.ID)
		}
		d.actuator.SetTarget(cmd.Value)
	case "clear_fault":
		if d.actuator == nil {
			return fmt.Errorf("device %s: not an actuator", d.profile.ID)
		}
		d.actuator.ClearFault()
	default:
		return fmt.Errorf("device %s: unknown command %q", d.profile.ID, cmd.Command)
	}
	return nil
}

// telemetryPayload encodes one sensor reading.
func (d *deviceState) telemetryPayload(value float64, at time.Time) ([]byte, error) {
	sp := d.sensor.Profile()
	return json.Marshal(Telemetry{
		DeviceID:  d.profile.ID,
		Quantity:  sp.Quantity,
		Unit:      sp.Unit,
		Value:     value,
		Timestamp: at,
	})
}

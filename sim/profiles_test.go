package sim

import (
	"strings"
	"testing"

	"github.com/wtyler2505/roverhal/model"
)

const profilesYAML = `
temp-1:
  name: Chassis Thermometer
  kind: sensor
  mass_kg: 0.02
  sensor:
    quantity: temperature
    unit: C
    range_min: -40
    range_max: 85
    resolution: 0.1
    sampling_rate_hz: 10
    base_value: 20
    environment_key: ambient_temperature
wheel-fl:
  name: Front Left Wheel
  kind: actuator
  mass_kg: 0.4
  actuator:
    quantity: velocity
    unit: deg/s
    control_min: -180
    control_max: 180
    max_speed: 400
    response_time: 250ms
rover-1:
  name: Test Rover
  kind: rover
  mass_kg: 12
  sensor_ids: [temp-1]
  actuator_ids: [wheel-fl]
`

func TestLoadProfilesFillsIDFromKey(t *testing.T) {
	lib, err := LoadProfiles([]byte(profilesYAML))
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if lib.Len() != 3 {
		t.Fatalf("Len = %d, want 3", lib.Len())
	}

	p, ok := lib.Get("temp-1")
	if !ok {
		t.Fatal("temp-1 missing")
	}
	if p.ID != "temp-1" || p.Kind != model.ProfileSensor {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.Sensor.EnvironmentKey != EnvAmbientTemperature {
		t.Fatalf("environment_key = %q", p.Sensor.EnvironmentKey)
	}
}

func TestLoadProfilesRejectsInvalid(t *testing.T) {
	bad := `
broken:
  kind: sensor
  sensor:
    range_min: 10
    range_max: 5
    sampling_rate_hz: 1
`
	if _, err := LoadProfiles([]byte(bad)); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadProfilesRejectsDanglingRoverReference(t *testing.T) {
	bad := `
rover-x:
  kind: rover
  sensor_ids: [nope]
`
	_, err := LoadProfiles([]byte(bad))
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("err = %v, want dangling reference error", err)
	}
}

func TestComponentsExpandsRover(t *testing.T) {
	lib, err := LoadProfiles([]byte(profilesYAML))
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}

	comps, err := lib.Components("rover-1")
	if err != nil {
		t.Fatalf("Components: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("got %d components, want 2", len(comps))
	}
	if comps[0].ID != "temp-1" || comps[1].ID != "wheel-fl" {
		t.Fatalf("unexpected expansion: %s, %s", comps[0].ID, comps[1].ID)
	}

	single, err := lib.Components("temp-1")
	if err != nil || len(single) != 1 || single[0].ID != "temp-1" {
		t.Fatalf("non-rover expansion = %v, %v", single, err)
	}
}

package sim

import (
	"context"
	"testing"
	"time"

	"github.com/wtyler2505/roverhal/sim/scenario"
)

func runScenario(t *testing.T, e *Engine, s *scenario.Scenario) *scenario.Result {
	t.Helper()
	p := scenario.NewPlayer(nil)
	RegisterEngineHandlers(p, e, nil)
	res, err := p.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v (result %+v)", err, res)
	}
	return res
}

func TestScenarioSetEnvironmentAndAssert(t *testing.T) {
	e := newTestEngine(t)

	s := &scenario.Scenario{
		Version: scenario.DocumentVersion,
		ID:      "env-check",
		Steps: []scenario.Step{
			{
				Name:   "heat up",
				Action: scenario.ActionSetEnvironment,
				Params: map[string]any{"key": EnvAmbientTemperature, "value": 55.0},
			},
			{
				Name:   "verify",
				Action: scenario.ActionAssertState,
				Params: map[string]any{"env_key": EnvAmbientTemperature, "equals": 55.0},
			},
		},
	}
	res := runScenario(t, e, s)
	if res.Passed != 2 || res.Asserts != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := e.Environment().Get(EnvAmbientTemperature); got != 55 {
		t.Fatalf("environment = %v", got)
	}
}

func TestScenarioDrivesActuatorThroughAdapter(t *testing.T) {
	e := newTestEngine(t, WithClock(NewClock(time.Millisecond)))
	ctx := context.Background()
	if err := e.AddDevice(ctx, actuatorProfile("wheel-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	s := &scenario.Scenario{
		Version: scenario.DocumentVersion,
		ID:      "drive",
		Steps: []scenario.Step{
			{
				Name:   "set target",
				Action: scenario.ActionSetDeviceState,
				Params: map[string]any{"device_id": "wheel-1", "command": "set_target", "value": 90.0},
			},
			{Name: "settle", Action: scenario.ActionWait, Params: map[string]any{"duration": "400ms"}},
			{
				Name:    "reached",
				Action:  scenario.ActionAssertState,
				Params:  map[string]any{"device_id": "wheel-1", "min": 80.0},
				Retries: 3,
				Backoff: 100 * time.Millisecond,
			},
		},
	}
	res := runScenario(t, e, s)
	if res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestScenarioInjectFaultHandler(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.AddDevice(ctx, sensorProfile("temp-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}

	s := &scenario.Scenario{
		Version: scenario.DocumentVersion,
		ID:      "fault",
		Steps: []scenario.Step{
			{
				Name:   "cut the link",
				Action: scenario.ActionInjectFault,
				Params: map[string]any{"device_id": "temp-1", "kind": "connection_loss"},
			},
		},
	}
	runScenario(t, e, s)

	adapter, _ := e.Device("temp-1")
	if adapter.InjectPacket("temp-1", []byte("x")) {
		t.Fatal("link should be down after inject_fault")
	}
}

func TestScenarioSetNetworkWithoutSimulatorFails(t *testing.T) {
	e := newTestEngine(t)

	p := scenario.NewPlayer(nil)
	RegisterEngineHandlers(p, e, nil)
	s := &scenario.Scenario{
		Version: scenario.DocumentVersion,
		ID:      "net",
		Steps: []scenario.Step{
			{
				Name:   "degrade",
				Action: scenario.ActionSetNetwork,
				Params: map[string]any{"link": "uplink", "preset": "satellite"},
			},
		},
	}
	if _, err := p.Run(context.Background(), s); err == nil {
		t.Fatal("expected failure with no network simulator")
	}
}

package sim

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/wtyler2505/roverhal/hal"
	"github.com/wtyler2505/roverhal/model"
	"github.com/wtyler2505/roverhal/sim/scenario"
)

func sensorProfile(id string) model.DeviceProfile {
	return model.DeviceProfile{
		ID:   id,
		Name: "Test Thermometer",
		Kind: model.ProfileSensor,
		Sensor: &model.SensorProfile{
			Quantity:       "temperature",
			Unit:           "C",
			RangeMin:       -40,
			RangeMax:       85,
			SamplingRateHz: 100,
			BaseValue:      20,
			EnvironmentKey: EnvAmbientTemperature,
		},
	}
}

func actuatorProfile(id string) model.DeviceProfile {
	return model.DeviceProfile{
		ID:   id,
		Name: "Test Wheel",
		Kind: model.ProfileActuator,
		Actuator: &model.ActuatorProfile{
			Quantity:     "velocity",
			Unit:         "deg/s",
			ControlMin:   -180,
			ControlMax:   180,
			ResponseTime: model.Duration(50 * time.Millisecond),
		},
	}
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	reg := hal.NewRegistry(nil)
	factory := hal.NewFactory(reg, nil)
	opts = append(opts, WithEngineSeed(42))
	return NewEngine(nil, factory, reg, opts...)
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) record(ev model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func waitForEvent(t *testing.T, l *eventLog, eventType string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.count(eventType) > 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no %s event observed", eventType)
}

func TestEngineLifecycleTransitions(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if e.State() != Stopped {
		t.Fatalf("initial state = %v, want stopped", e.State())
	}
	if err := e.Pause(); err == nil {
		t.Fatal("pausing a stopped engine should fail")
	}
	if err := e.Resume(); err == nil {
		t.Fatal("resuming a stopped engine should fail")
	}

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(ctx); err == nil {
		t.Fatal("starting a running engine should fail")
	}
	if e.State() != Running {
		t.Fatalf("state = %v after Start, want running", e.State())
	}

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if e.State() != Paused {
		t.Fatalf("state = %v after Pause, want paused", e.State())
	}
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	e.Stop(ctx)
	if e.State() != Stopped {
		t.Fatalf("state = %v after Stop, want stopped", e.State())
	}
	// Stopping twice is harmless.
	e.Stop(ctx)
}

func TestAddDeviceIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	p := sensorProfile("temp-1")
	if err := e.AddDevice(ctx, p); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := e.AddDevice(ctx, p); err != nil {
		t.Fatalf("second AddDevice: %v", err)
	}
	if _, ok := e.Device("temp-1"); !ok {
		t.Fatal("device missing after add")
	}
	if got := e.Physics().Len(); got != 1 {
		t.Fatalf("physics states = %d, want 1", got)
	}
}

func TestAddDeviceRejectsInvalidProfile(t *testing.T) {
	e := newTestEngine(t)
	bad := model.DeviceProfile{ID: "x", Kind: model.ProfileSensor}
	if err := e.AddDevice(context.Background(), bad); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRemoveDeviceIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.AddDevice(ctx, sensorProfile("temp-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := e.RemoveDevice(ctx, "temp-1"); err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}
	if err := e.RemoveDevice(ctx, "temp-1"); err != nil {
		t.Fatalf("second RemoveDevice: %v", err)
	}
	if _, ok := e.Device("temp-1"); ok {
		t.Fatal("device still present after removal")
	}
	if got := e.Physics().Len(); got != 0 {
		t.Fatalf("physics states = %d, want 0", got)
	}
}

func TestSensorTelemetryFlowsThroughAdapter(t *testing.T) {
	e := newTestEngine(t, WithClock(NewClock(time.Millisecond)))
	ctx := context.Background()

	if err := e.AddDevice(ctx, sensorProfile("temp-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	e.Environment().Set(EnvAmbientTemperature, 37.5)

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	adapter, _ := e.Device("temp-1")
	pkt, err := adapter.Read(ctx, hal.ReadOptions{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	var tm Telemetry
	if err := json.Unmarshal(pkt.Payload, &tm); err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	if tm.DeviceID != "temp-1" || tm.Quantity != "temperature" {
		t.Fatalf("unexpected telemetry: %+v", tm)
	}
	// No noise configured, so the reading is the coupled environment value.
	if tm.Value != 37.5 {
		t.Fatalf("value = %v, want 37.5", tm.Value)
	}
}

func TestActuatorTracksWrittenTarget(t *testing.T) {
	e := newTestEngine(t, WithClock(NewClock(time.Millisecond)))
	ctx := context.Background()

	if err := e.AddDevice(ctx, actuatorProfile("wheel-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	adapter, _ := e.Device("wheel-1")
	cmd, _ := json.Marshal(Command{Command: "set_target", Value: 90})
	pkt := model.NewPacket(model.DirectionTX, cmd)
	if err := adapter.Write(ctx, pkt); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := e.ActuatorValue("wheel-1"); ok && v > 80 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	v, _ := e.ActuatorValue("wheel-1")
	t.Fatalf("actuator never approached target, value = %v", v)
}

func TestStepOnceAdvancesWithoutLoops(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.AddDevice(ctx, actuatorProfile("wheel-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	adapter, _ := e.Device("wheel-1")
	cmd, _ := json.Marshal(Command{Command: "set_target", Value: 90})
	pkt := model.NewPacket(model.DirectionTX, cmd)
	if err := adapter.Write(ctx, pkt); err != nil {
		t.Fatalf("Write: %v", err)
	}

	before, _ := e.ActuatorValue("wheel-1")
	for i := 0; i < 50; i++ {
		e.StepOnce()
	}
	after, _ := e.ActuatorValue("wheel-1")
	if after <= before {
		t.Fatalf("actuator did not move: %v -> %v", before, after)
	}
}

func TestSingleStepHoldsPhysicsUntilStepped(t *testing.T) {
	clock := NewClock(5 * time.Millisecond)
	clock.SetMode(SingleStep, 1)
	e := newTestEngine(t, WithClock(clock))
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Physics().Add("body-1", 1)

	// No Step has been issued, so simulated time must stand still and
	// the body must not integrate, no matter how much wall time passes.
	time.Sleep(80 * time.Millisecond)
	st, ok := e.Physics().Snapshot("body-1")
	if !ok {
		t.Fatal("body-1 missing from physics world")
	}
	if st.Velocity.Z != 0 || st.Position.Z != 0 {
		t.Fatalf("body moved without a step: %+v", st)
	}

	for i := 0; i < 4; i++ {
		clock.Step()
		time.Sleep(10 * time.Millisecond)
	}
	deadline := time.Now().Add(time.Second)
	for {
		st, _ = e.Physics().Snapshot("body-1")
		if st.Velocity.Z < 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("body never integrated after stepping: %+v", st)
		}
		clock.Step()
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngineEventsReachSubscribers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var log eventLog
	e.Subscribe(model.EventDeviceAdded, log.record)
	e.Subscribe(model.EventSimulationStarted, log.record)
	e.Subscribe(model.EventEnvironmentChanged, log.record)

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	if err := e.AddDevice(ctx, sensorProfile("temp-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	e.Environment().Set(EnvDustLevel, 0.4)

	waitForEvent(t, &log, model.EventSimulationStarted)
	waitForEvent(t, &log, model.EventDeviceAdded)
	waitForEvent(t, &log, model.EventEnvironmentChanged)
}

func TestInjectFaultConnectionLoss(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var log eventLog
	e.Subscribe(model.EventFaultInjected, log.record)

	if err := e.AddDevice(ctx, sensorProfile("temp-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	if err := e.InjectFault("temp-1", "connection_loss"); err != nil {
		t.Fatalf("InjectFault: %v", err)
	}
	adapter, _ := e.Device("temp-1")
	if _, err := adapter.Read(ctx, hal.ReadOptions{Timeout: 20 * time.Millisecond}); err == nil {
		t.Fatal("read succeeded on a lost link")
	}
	if err := e.InjectFault("temp-1", "restore_link"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	waitForEvent(t, &log, model.EventFaultInjected)

	if err := e.InjectFault("ghost", "connection_loss"); err == nil {
		t.Fatal("expected unknown device error")
	}
	if err := e.InjectFault("temp-1", "flux_capacitor"); err == nil {
		t.Fatal("expected unknown fault kind error")
	}
}

func TestRecorderCapturesEngineEvents(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rec := scenario.NewRecorder("run-1", nil)
	e.SetRecorder(rec)

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.AddDevice(ctx, sensorProfile("temp-1")); err != nil {
		t.Fatalf("AddDevice: %v", err)
	}
	e.Stop(ctx)

	recording := rec.Finish()
	if len(recording.Events) == 0 {
		t.Fatal("recorder captured nothing")
	}
	var sawAdd bool
	for _, ev := range recording.Events {
		if ev.Type == model.EventDeviceAdded {
			sawAdd = true
		}
	}
	if !sawAdd {
		t.Fatal("device_added not recorded")
	}
}

// Package sim orchestrates the simulated rover: device physics, mock
// transports, network impairment, and the event stream tying them
// together.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/wtyler2505/roverhal/hal"
	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
	"github.com/wtyler2505/roverhal/sim/netsim"
	"github.com/wtyler2505/roverhal/sim/physics"
	"github.com/wtyler2505/roverhal/sim/scenario"
)

// EngineState is the engine lifecycle state.
type EngineState int

const (
	Stopped EngineState = iota
	Running
	Paused
	Errored
)

func (s EngineState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Errored:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MetricsRecorder receives engine metrics.
type MetricsRecorder interface {
	SetSimDevices(count int)
	RecordTick()
	RecordDroppedEvent()
}

const defaultEventQueue = 1024

// Engine runs the simulation. Devices are backed by Mock adapters created
// through the shared factory, so code written against the adapter contract
// cannot tell simulation from hardware.
type Engine struct {
	log     logging.Logger
	rec     MetricsRecorder
	factory *hal.Factory
	reg     *hal.Registry
	clock   *Clock
	env     *Environment
	world   *physics.Simulator
	net     *netsim.Simulator
	emitter *hal.Emitter
	seed    int64

	mu       sync.Mutex
	state    EngineState
	devices  map[string]*deviceState
	recorder *scenario.Recorder
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	eventQ chan model.Event
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineMetrics attaches a metrics recorder.
func WithEngineMetrics(rec MetricsRecorder) EngineOption {
	return func(e *Engine) { e.rec = rec }
}

// WithNetwork attaches a network simulator started and stopped with the
// engine.
func WithNetwork(n *netsim.Simulator) EngineOption {
	return func(e *Engine) { e.net = n }
}

// WithClock replaces the default 10ms real-time clock.
func WithClock(c *Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithPhysics replaces the default physics simulator (for custom gravity).
func WithPhysics(w *physics.Simulator) EngineOption {
	return func(e *Engine) {
		if w != nil {
			e.world = w
		}
	}
}

// WithEngineSeed makes sensor and actuator randomness reproducible.
func WithEngineSeed(seed int64) EngineOption {
	return func(e *Engine) { e.seed = seed }
}

// NewEngine builds a stopped engine on top of the shared factory and
// registry.
func NewEngine(log logging.Logger, factory *hal.Factory, reg *hal.Registry, opts ...EngineOption) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	e := &Engine{
		log:     log,
		factory: factory,
		reg:     reg,
		clock:   NewClock(10 * time.Millisecond),
		env:     NewEnvironment(),
		world:   physics.NewSimulator(),
		emitter: hal.NewEmitter(log),
		seed:    time.Now().UnixNano(),
		devices: make(map[string]*deviceState),
		eventQ:  make(chan model.Event, defaultEventQueue),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.env.notify(func(key string, value float64) {
		e.publish(environmentEvent(key, value))
	})
	return e
}

// State returns the lifecycle state.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Clock exposes the simulation clock for mode switching.
func (e *Engine) Clock() *Clock { return e.clock }

// Environment exposes the shared world state.
func (e *Engine) Environment() *Environment { return e.env }

// Physics exposes the physics simulator.
func (e *Engine) Physics() *physics.Simulator { return e.world }

// Subscribe registers an event handler. Handler panics are recovered and
// logged, never propagated into the engine loops.
func (e *Engine) Subscribe(event string, h hal.Handler) {
	e.emitter.Subscribe(event, h)
}

// SetRecorder attaches a recording sink for all published events. Pass nil
// to detach.
func (e *Engine) SetRecorder(r *scenario.Recorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorder = r
}

// Start moves Stopped to Running: starts the network simulator and the
// simulation and event-dispatch loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Stopped {
		e.mu.Unlock()
		return fmt.Errorf("engine is %s, must be stopped to start", e.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = Running
	e.mu.Unlock()

	if e.net != nil {
		if err := e.net.Start(runCtx); err != nil {
			e.mu.Lock()
			e.state = Errored
			e.cancel = nil
			e.mu.Unlock()
			cancel()
			return fmt.Errorf("start network simulator: %w", err)
		}
	}

	e.wg.Add(2)
	go func() { defer e.wg.Done(); e.simulationLoop(runCtx) }()
	go func() { defer e.wg.Done(); e.eventLoop(runCtx) }()

	e.publish(model.NewEvent(model.EventSimulationStarted, "engine", map[string]any{
		"devices": e.deviceCount(),
		"clock":   e.clock.Mode().String(),
	}))
	e.log.Info(ctx, "simulation started",
		logging.Int("devices", e.deviceCount()),
		logging.String("tick", e.clock.Tick().String()),
	)
	return nil
}

// Stop ends the loops and the network simulator and waits for them.
// Devices stay registered for the next run. Stopping a stopped engine is a
// no-op.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.state != Running && e.state != Paused {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.cancel = nil
	e.state = Stopped
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	if e.net != nil {
		e.net.Stop()
	}

	ev := model.NewEvent(model.EventSimulationStopped, "engine", nil)
	e.emitter.Emit(ev)
	e.appendRecording(ev)
	e.log.Info(ctx, "simulation stopped")
}

// Pause suspends loop work without tearing anything down.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.state != Running {
		defer e.mu.Unlock()
		return fmt.Errorf("engine is %s, must be running to pause", e.state)
	}
	e.state = Paused
	e.mu.Unlock()

	e.publish(model.NewEvent(model.EventSimulationPaused, "engine", nil))
	return nil
}

// Resume continues a paused engine.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != Paused {
		defer e.mu.Unlock()
		return fmt.Errorf("engine is %s, must be paused to resume", e.state)
	}
	e.state = Running
	e.mu.Unlock()

	e.publish(model.NewEvent(model.EventSimulationResumed, "engine", nil))
	return nil
}

// StepOnce executes one simulation and physics tick synchronously,
// independent of the loops. Intended for paused or single-step operation.
func (e *Engine) StepOnce() {
	dt := e.clock.Tick()
	e.tickDevices(dt)
	e.world.StepAll(dt)
	if e.rec != nil {
		e.rec.RecordTick()
	}
}

// AddDevice creates a simulated device from its profile: a Mock
// device/adapter pair through the shared factory, physics state, and the
// sensor/actuator models. Adding an existing id is a no-op.
func (e *Engine) AddDevice(ctx context.Context, profile model.DeviceProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.devices[profile.ID]; exists {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	cfg := hal.MockConfig{}
	adapter, err := e.factory.CreateAdapter(cfg, hal.WithAdapterID("sim-"+profile.ID))
	if err != nil {
		return fmt.Errorf("create adapter for %s: %w", profile.ID, err)
	}
	mock, ok := adapter.(*hal.MockAdapter)
	if !ok {
		return fmt.Errorf("adapter for %s is %T, want mock", profile.ID, adapter)
	}

	dev := hal.NewMockDevice(profile.ID)
	mock.AddDevice(dev)

	ds := &deviceState{
		profile: profile,
		adapter: mock,
		mock:    dev,
	}
	rng := rand.New(rand.NewSource(e.seed ^ int64(len(profile.ID))<<16 ^ hashID(profile.ID)))
	if profile.Sensor != nil {
		ds.sensor = physics.NewSensor(*profile.Sensor, rng)
	}
	if profile.Actuator != nil {
		ds.actuator = physics.NewActuator(*profile.Actuator, rng)
		dev.OnWrite(func(payload []byte) {
			if err := ds.handleCommand(payload); err != nil {
				e.log.Warn(context.Background(), "command rejected",
					logging.String("device", profile.ID),
					logging.Err(err),
				)
			}
		})
	}

	if err := mock.Connect(ctx); err != nil {
		_ = e.reg.Remove(mock.ID())
		return fmt.Errorf("connect adapter for %s: %w", profile.ID, err)
	}

	mass := profile.MassKg
	if mass <= 0 {
		mass = 1
	}
	e.world.Add(profile.ID, mass)

	e.mu.Lock()
	e.devices[profile.ID] = ds
	count := len(e.devices)
	e.mu.Unlock()

	if e.rec != nil {
		e.rec.SetSimDevices(count)
	}
	e.publish(model.NewEvent(model.EventDeviceAdded, "engine", map[string]any{
		"device_id": profile.ID,
		"kind":      string(profile.Kind),
	}))
	return nil
}

// RemoveDevice tears a simulated device down: disconnects and deregisters
// its adapter and drops its physics state. Removing an unknown id is a
// no-op.
func (e *Engine) RemoveDevice(ctx context.Context, id string) error {
	e.mu.Lock()
	ds, ok := e.devices[id]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.devices, id)
	count := len(e.devices)
	e.mu.Unlock()

	if err := ds.adapter.Disconnect(ctx); err != nil {
		e.log.Warn(ctx, "adapter disconnect failed during removal",
			logging.String("device", id),
			logging.Err(err),
		)
	}
	_ = e.reg.Remove(ds.adapter.ID())
	e.world.Remove(id)

	if e.rec != nil {
		e.rec.SetSimDevices(count)
	}
	e.publish(model.NewEvent(model.EventDeviceRemoved, "engine", map[string]any{
		"device_id": id,
	}))
	return nil
}

// Device returns the adapter backing a simulated device.
func (e *Engine) Device(id string) (*hal.MockAdapter, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.devices[id]
	if !ok {
		return nil, false
	}
	return ds.adapter, true
}

// ActuatorValue reads a simulated actuator's current output.
func (e *Engine) ActuatorValue(id string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ds, ok := e.devices[id]
	if !ok || ds.actuator == nil {
		return 0, false
	}
	return ds.actuator.Value(), true
}

// InjectFault applies a named fault to a device. Supported kinds:
// connection_loss, restore_link, actuator_stall.
func (e *Engine) InjectFault(id, kind string) error {
	e.mu.Lock()
	ds, ok := e.devices[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown simulated device %q", id)
	}

	switch kind {
	case "connection_loss":
		ds.adapter.InjectConnectionLoss()
	case "restore_link":
		ds.adapter.RestoreLink()
	case "actuator_stall":
		if ds.actuator == nil {
			return fmt.Errorf("device %s has no actuator", id)
		}
		ds.actuator.SetLoadTorque(ds.profile.Actuator.MaxTorque + 1)
	default:
		return fmt.Errorf("unknown fault kind %q", kind)
	}

	e.publish(model.NewEvent(model.EventFaultInjected, "engine", map[string]any{
		"device_id": id,
		"kind":      kind,
	}))
	return nil
}

func (e *Engine) deviceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.devices)
}

// simulationLoop regenerates sensor readings, advances actuators and
// integrates the physics world each clock tick, so every mode of the
// clock (accelerated, single-step, playback) governs physics and
// devices alike. Paused engines keep ticking the clock but skip the
// work.
func (e *Engine) simulationLoop(ctx context.Context) {
	for {
		_, dt, ok := e.clock.WaitTick(ctx)
		if !ok {
			return
		}
		if e.State() != Running {
			continue
		}
		e.tickDevices(dt)
		e.world.StepAll(dt)
		if e.rec != nil {
			e.rec.RecordTick()
		}
	}
}

func (e *Engine) tickDevices(dt time.Duration) {
	e.mu.Lock()
	devices := make([]*deviceState, 0, len(e.devices))
	for _, ds := range e.devices {
		devices = append(devices, ds)
	}
	e.mu.Unlock()

	slope := e.env.Get(EnvTerrainSlope)
	dust := e.env.Get(EnvDustLevel)

	for _, ds := range devices {
		if ds.actuator != nil {
			// Terrain couples into actuator load: steeper and dustier
			// means more torque demanded before the limit trips.
			if maxT := ds.profile.Actuator.MaxTorque; maxT > 0 {
				load := slope / 90 * maxT * (1 + dust)
				ds.actuator.SetLoadTorque(load)
			}
			ds.actuator.Step(dt)
		}
		if ds.sensor != nil {
			e.sampleSensor(ds, dt)
		}
	}
}

func (e *Engine) sampleSensor(ds *deviceState, dt time.Duration) {
	period := ds.samplePeriod()
	if period <= 0 {
		return
	}
	ds.sampleDue += dt
	for ds.sampleDue >= period {
		ds.sampleDue -= period

		truth := ds.sensor.Profile().BaseValue
		if key := ds.sensor.Profile().EnvironmentKey; key != "" {
			if v, ok := e.env.Lookup(key); ok {
				truth = v
			}
		}
		reading := ds.sensor.Reading(truth, period)

		at := e.clock.Now()
		payload, err := ds.telemetryPayload(reading, at)
		if err != nil {
			e.log.Error(context.Background(), "encode telemetry failed",
				logging.String("device", ds.profile.ID),
				logging.Err(err),
			)
			return
		}
		ds.adapter.InjectPacket(ds.profile.ID, payload)

		e.publish(model.NewEvent(model.EventTelemetry, ds.profile.ID, map[string]any{
			"quantity": ds.sensor.Profile().Quantity,
			"value":    reading,
			"unit":     ds.sensor.Profile().Unit,
		}))
	}
}

// eventLoop dispatches queued events to subscribers and the recording
// sink.
func (e *Engine) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-e.eventQ:
					e.emitter.Emit(ev)
					e.appendRecording(ev)
				default:
					return
				}
			}
		case ev := <-e.eventQ:
			e.emitter.Emit(ev)
			e.appendRecording(ev)
		}
	}
}

// publish queues an event; a full queue drops the newest event with a
// warning rather than blocking a simulation loop.
func (e *Engine) publish(ev model.Event) {
	select {
	case e.eventQ <- ev:
	default:
		if e.rec != nil {
			e.rec.RecordDroppedEvent()
		}
		e.log.Warn(context.Background(), "event queue full, event dropped",
			logging.String("event", ev.Type),
			logging.String("source", ev.Source),
		)
	}
}

func (e *Engine) appendRecording(ev model.Event) {
	e.mu.Lock()
	r := e.recorder
	e.mu.Unlock()
	if r != nil {
		r.Append(ev)
	}
}

func hashID(id string) int64 {
	var h int64 = 1469598103934665603
	for i := 0; i < len(id); i++ {
		h ^= int64(id[i])
		h *= 1099511628211
	}
	return h
}

package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/wtyler2505/roverhal/model"
	"github.com/wtyler2505/roverhal/sim/netsim"
	"github.com/wtyler2505/roverhal/sim/scenario"
)

// CommandDevice encodes a command and writes it through the device's
// adapter, the same path external callers use.
func (e *Engine) CommandDevice(ctx context.Context, id string, cmd Command) error {
	adapter, ok := e.Device(id)
	if !ok {
		return fmt.Errorf("unknown simulated device %q", id)
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command for %s: %w", id, err)
	}
	pkt := model.NewPacket(model.DirectionTX, payload).
		WithMeta(model.MetaMockDeviceID, id)
	return adapter.Write(ctx, pkt)
}

// RegisterEngineHandlers binds the engine-backed scenario actions on a
// player. net may be nil when no network simulator is attached; the
// set_network action then fails.
func RegisterEngineHandlers(p *scenario.Player, e *Engine, net *netsim.Simulator) {
	p.RegisterHandler(scenario.ActionSetEnvironment, func(ctx context.Context, step scenario.Step, ec *scenario.ExecutionContext) error {
		key, ok := step.Params["key"].(string)
		if !ok || key == "" {
			return fmt.Errorf("set_environment: missing key param")
		}
		value, ok := floatParam(step.Params, "value")
		if !ok {
			return fmt.Errorf("set_environment: missing value param")
		}
		e.Environment().Set(key, value)
		return nil
	})

	p.RegisterHandler(scenario.ActionSetDeviceState, func(ctx context.Context, step scenario.Step, ec *scenario.ExecutionContext) error {
		id, _ := step.Params["device_id"].(string)
		if id == "" {
			return fmt.Errorf("set_device_state: missing device_id param")
		}
		cmd, _ := step.Params["command"].(string)
		if cmd == "" {
			return fmt.Errorf("set_device_state: missing command param")
		}
		value, _ := floatParam(step.Params, "value")
		return e.CommandDevice(ctx, id, Command{Command: cmd, Value: value})
	})

	p.RegisterHandler(scenario.ActionSendCommand, func(ctx context.Context, step scenario.Step, ec *scenario.ExecutionContext) error {
		id, _ := step.Params["device_id"].(string)
		if id == "" {
			return fmt.Errorf("send_command: missing device_id param")
		}
		raw, _ := step.Params["payload"].(string)
		if raw == "" {
			return fmt.Errorf("send_command: missing payload param")
		}
		adapter, ok := e.Device(id)
		if !ok {
			return fmt.Errorf("send_command: unknown device %q", id)
		}
		pkt := model.NewPacket(model.DirectionTX, []byte(raw)).
			WithMeta(model.MetaMockDeviceID, id)
		return adapter.Write(ctx, pkt)
	})

	p.RegisterHandler(scenario.ActionAssertState, func(ctx context.Context, step scenario.Step, ec *scenario.ExecutionContext) error {
		ec.CountAssert()
		got, err := assertSubject(e, step.Params)
		if err != nil {
			return err
		}
		if want, ok := floatParam(step.Params, "equals"); ok {
			tolerance, _ := floatParam(step.Params, "tolerance")
			if math.Abs(got-want) > tolerance {
				return fmt.Errorf("assert_state: got %v, want %v (tolerance %v)", got, want, tolerance)
			}
			return nil
		}
		if min, ok := floatParam(step.Params, "min"); ok && got < min {
			return fmt.Errorf("assert_state: %v below minimum %v", got, min)
		}
		if max, ok := floatParam(step.Params, "max"); ok && got > max {
			return fmt.Errorf("assert_state: %v above maximum %v", got, max)
		}
		return nil
	})

	p.RegisterHandler(scenario.ActionInjectFault, func(ctx context.Context, step scenario.Step, ec *scenario.ExecutionContext) error {
		id, _ := step.Params["device_id"].(string)
		kind, _ := step.Params["kind"].(string)
		if id == "" || kind == "" {
			return fmt.Errorf("inject_fault: missing device_id or kind param")
		}
		return e.InjectFault(id, kind)
	})

	p.RegisterHandler(scenario.ActionSetNetwork, func(ctx context.Context, step scenario.Step, ec *scenario.ExecutionContext) error {
		if net == nil {
			return fmt.Errorf("set_network: no network simulator attached")
		}
		link, _ := step.Params["link"].(string)
		preset, _ := step.Params["preset"].(string)
		if link == "" || preset == "" {
			return fmt.Errorf("set_network: missing link or preset param")
		}
		profile, err := netsim.Preset(preset)
		if err != nil {
			return err
		}
		return net.SetCondition(link, profile)
	})
}

// assertSubject resolves what an assert_state step measures: an actuator's
// current output (device_id) or an environment variable (env_key).
func assertSubject(e *Engine, params map[string]any) (float64, error) {
	if id, _ := params["device_id"].(string); id != "" {
		v, ok := e.ActuatorValue(id)
		if !ok {
			return 0, fmt.Errorf("assert_state: %q is not a simulated actuator", id)
		}
		return v, nil
	}
	if key, _ := params["env_key"].(string); key != "" {
		v, ok := e.Environment().Lookup(key)
		if !ok {
			return 0, fmt.Errorf("assert_state: environment key %q not set", key)
		}
		return v, nil
	}
	return 0, fmt.Errorf("assert_state: missing device_id or env_key param")
}

// floatParam reads a numeric param, tolerating the int/float ambiguity of
// decoded JSON and hand-built maps.
func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

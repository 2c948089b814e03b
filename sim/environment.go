package sim

import (
	"sync"

	"github.com/wtyler2505/roverhal/model"
)

// Default environment variables. Sensors couple to these by key; actuator
// load derives from slope and dust.
const (
	EnvAmbientTemperature = "ambient_temperature" // celsius
	EnvPressure           = "pressure_kpa"
	EnvTerrainSlope       = "terrain_slope_deg"
	EnvDustLevel          = "dust_level" // 0..1
)

// Environment is the shared world state sensor generation reads from.
type Environment struct {
	mu     sync.RWMutex
	values map[string]float64
	onSet  func(key string, value float64)
}

// NewEnvironment builds an environment with temperate defaults.
func NewEnvironment() *Environment {
	return &Environment{
		values: map[string]float64{
			EnvAmbientTemperature: 20,
			EnvPressure:           101.3,
			EnvTerrainSlope:       0,
			EnvDustLevel:          0,
		},
	}
}

// Get reads a variable; unknown keys read as zero.
func (e *Environment) Get(key string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.values[key]
}

// Lookup reads a variable and reports whether it is set.
func (e *Environment) Lookup(key string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[key]
	return v, ok
}

// Set writes a variable and notifies the change hook.
func (e *Environment) Set(key string, value float64) {
	e.mu.Lock()
	e.values[key] = value
	hook := e.onSet
	e.mu.Unlock()

	if hook != nil {
		hook(key, value)
	}
}

// Snapshot copies all variables.
func (e *Environment) Snapshot() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}

// notify installs the change hook; the engine wires it to event emission.
func (e *Environment) notify(fn func(key string, value float64)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSet = fn
}

// changeEvent builds the event published when a variable changes.
func environmentEvent(key string, value float64) model.Event {
	return model.NewEvent(model.EventEnvironmentChanged, "environment", map[string]any{
		"key":   key,
		"value": value,
	})
}

package model

import "time"

// Event names emitted by the HAL core, the discovery engine, and the
// simulation engine. External consumers (hardware manager, web glue)
// subscribe by name.
const (
	EventDataReceived        = "data_received"
	EventAdapterConnected    = "adapter_connected"
	EventAdapterDisconnected = "adapter_disconnected"
	EventAdapterError        = "adapter_error"
	EventDeviceDiscovered    = "device_discovered"
	EventDeviceLost          = "device_lost"
	EventDeviceRegistered    = "device_registered"
	EventSimulationStarted   = "simulation_started"
	EventSimulationStopped   = "simulation_stopped"
	EventSimulationPaused    = "simulation_paused"
	EventSimulationResumed   = "simulation_resumed"
	EventTelemetry           = "telemetry"
	EventDeviceAdded         = "device_added"
	EventDeviceRemoved       = "device_removed"
	EventFaultInjected       = "fault_injected"
	EventScenarioStep        = "scenario_step"
	EventCheckpoint          = "checkpoint"
	EventEnvironmentChanged  = "environment_changed"
)

// Event is the record pushed through event queues and written into
// recording files.
type Event struct {
	Timestamp time.Time         `json:"timestamp" cbor:"1,keyasint"`
	Type      string            `json:"type" cbor:"2,keyasint"`
	Source    string            `json:"source" cbor:"3,keyasint"`
	Data      map[string]any    `json:"data,omitempty" cbor:"4,keyasint,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" cbor:"5,keyasint,omitempty"`
}

// NewEvent builds a timestamped event.
func NewEvent(eventType, source string, data map[string]any) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Source:    source,
		Data:      data,
	}
}

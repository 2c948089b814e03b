package model

import "time"

// Protocol identifies a wire-level transport family.
type Protocol string

const (
	ProtocolSerial   Protocol = "serial"
	ProtocolI2C      Protocol = "i2c"
	ProtocolSPI      Protocol = "spi"
	ProtocolCAN      Protocol = "can"
	ProtocolEthernet Protocol = "ethernet"
	ProtocolMock     Protocol = "mock"
)

// Valid reports whether p names one of the supported transports.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSerial, ProtocolI2C, ProtocolSPI, ProtocolCAN, ProtocolEthernet, ProtocolMock:
		return true
	}
	return false
}

// DeviceClass is a coarse classification assigned during discovery and used
// by the simulator to pick a behaviour model.
type DeviceClass string

const (
	ClassUnknown         DeviceClass = "unknown"
	ClassSensor          DeviceClass = "sensor"
	ClassActuator        DeviceClass = "actuator"
	ClassMotorController DeviceClass = "motor_controller"
	ClassIMU             DeviceClass = "imu"
	ClassGPS             DeviceClass = "gps"
	ClassCamera          DeviceClass = "camera"
	ClassPowerManagement DeviceClass = "power_management"
	ClassCommunication   DeviceClass = "communication"
	ClassEnvironmental   DeviceClass = "environmental"
)

// HardwareDevice is a registered logical device owned by the external
// hardware manager. The HAL core creates these only on explicit
// registration of a discovery candidate or via manual registration.
type HardwareDevice struct {
	ID           string
	Name         string
	Protocol     Protocol
	AdapterID    string
	Address      string
	Class        DeviceClass
	Capabilities []string
	Metadata     map[string]string
	RegisteredAt time.Time
}

// DiscoveredDevice is a transient discovery candidate. It lives only in the
// discovery engine's in-memory cache until it is promoted to a
// HardwareDevice by explicit registration.
type DiscoveredDevice struct {
	ID           string
	Name         string
	Protocol     Protocol
	Address      string
	Class        DeviceClass
	Capabilities []string
	Metadata     map[string]string

	// Confidence is the [0,1] certainty that the identity guess is right.
	// Merges never lower it.
	Confidence float64

	FirstSeen time.Time
	LastSeen  time.Time
}

// Merge folds a fresh observation of the same device into d. Metadata keys
// from the observation win, capabilities are unioned, and confidence only
// ever goes up.
func (d *DiscoveredDevice) Merge(obs *DiscoveredDevice) {
	if obs == nil {
		return
	}
	if obs.Name != "" {
		d.Name = obs.Name
	}
	if obs.Class != ClassUnknown && obs.Class != "" {
		d.Class = obs.Class
	}
	if obs.Address != "" {
		d.Address = obs.Address
	}
	if obs.Confidence > d.Confidence {
		d.Confidence = obs.Confidence
	}
	for _, c := range obs.Capabilities {
		if !containsString(d.Capabilities, c) {
			d.Capabilities = append(d.Capabilities, c)
		}
	}
	if len(obs.Metadata) > 0 {
		if d.Metadata == nil {
			d.Metadata = make(map[string]string, len(obs.Metadata))
		}
		for k, v := range obs.Metadata {
			d.Metadata[k] = v
		}
	}
	if obs.LastSeen.After(d.LastSeen) {
		d.LastSeen = obs.LastSeen
	}
}

// Clone returns a deep copy so callers can hand snapshots across goroutine
// boundaries without racing the discovery cache.
func (d *DiscoveredDevice) Clone() *DiscoveredDevice {
	if d == nil {
		return nil
	}
	out := *d
	out.Capabilities = append([]string(nil), d.Capabilities...)
	if d.Metadata != nil {
		out.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package hal provides the protocol-adapter contract shared by every
// wire-level transport (serial, I2C, SPI, CAN, Ethernet) and by the
// simulated Mock transport. Callers interact with devices exclusively
// through the Adapter interface and DataPacket currency; transport-native
// framing never leaks past this package.
package hal

import (
	"errors"
	"fmt"

	"github.com/wtyler2505/roverhal/model"
)

// Sentinel errors matched with errors.Is. Typed errors below wrap these to
// carry adapter context.
var (
	// ErrNotConnected indicates an I/O call on an adapter that is not in
	// the Connected state.
	ErrNotConnected = errors.New("adapter not connected")
	// ErrAlreadyConnected indicates Connect on an adapter that is already
	// Connected or Connecting.
	ErrAlreadyConnected = errors.New("adapter already connected")
	// ErrPayloadTooLarge indicates a write exceeding the transport's
	// physical frame or block limit.
	ErrPayloadTooLarge = errors.New("payload exceeds transport limit")
	// ErrTimeout indicates a read or write that did not complete within
	// its deadline.
	ErrTimeout = errors.New("operation timed out")
	// ErrClosed indicates use of an adapter after Disconnect tore it down.
	ErrClosed = errors.New("adapter closed")
	// ErrUnknownProtocol indicates a factory request for a transport type
	// that is not registered.
	ErrUnknownProtocol = errors.New("unknown protocol")
	// ErrAdapterExists indicates a duplicate adapter ID in the registry.
	ErrAdapterExists = errors.New("adapter already registered")
	// ErrAdapterNotFound indicates a registry lookup miss.
	ErrAdapterNotFound = errors.New("adapter not found")
	// ErrQueueFull indicates a bounded inbound queue rejected a packet.
	ErrQueueFull = errors.New("inbound queue full")
	// ErrInvalidTransition indicates a connection-state transition outside
	// the legal table.
	ErrInvalidTransition = errors.New("invalid connection state transition")
)

// ConfigurationError reports invalid or mismatched adapter configuration.
// It is always raised before any transport I/O happens and is never retried.
type ConfigurationError struct {
	Protocol model.Protocol
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s config: %s", e.Protocol, e.Reason)
	}
	return fmt.Sprintf("%s config: field %q: %s", e.Protocol, e.Field, e.Reason)
}

func newConfigError(proto model.Protocol, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Protocol: proto, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConnectionError reports a failure to reach or keep the Connected state.
type ConnectionError struct {
	AdapterID string
	Op        string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("adapter %s: %s: %v", e.AdapterID, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransmissionError reports a write or read failure while the adapter was
// nominally connected: timeout, size limit, bus error, or simulated fault.
type TransmissionError struct {
	AdapterID string
	Op        string // "read" or "write"
	Err       error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("adapter %s: %s failed: %v", e.AdapterID, e.Op, e.Err)
}

func (e *TransmissionError) Unwrap() error { return e.Err }

func newTransmissionError(id, op string, err error) *TransmissionError {
	return &TransmissionError{AdapterID: id, Op: op, Err: err}
}

package model

import "time"

// Direction marks which way a DataPacket travelled relative to the host.
type Direction int

const (
	DirectionTX Direction = iota // host -> device
	DirectionRX                  // device -> host
)

func (d Direction) String() string {
	switch d {
	case DirectionTX:
		return "tx"
	case DirectionRX:
		return "rx"
	default:
		return "unknown"
	}
}

// Metadata keys shared across transports. Adapters populate only the keys
// that apply to their wire format; everything else stays behind the adapter.
const (
	MetaArbitrationID = "arbitration_id" // CAN message identifier (uint32)
	MetaExtendedID    = "extended_id"    // CAN 29-bit identifier flag (bool)
	MetaRemoteFrame   = "remote_frame"   // CAN RTR flag (bool)
	MetaFDFrame       = "fd_frame"       // CAN-FD frame flag (bool)
	MetaRegister      = "register"       // I2C/SPI register or sub-address (uint8)
	MetaDeviceAddress = "device_address" // I2C 7-bit device address (uint8)
	MetaChipSelect    = "chip_select"    // SPI chip-select index (int)
	MetaPeerAddress   = "peer_addr"      // Ethernet remote endpoint (string)
	MetaPort          = "port"           // serial port or socket name (string)
	MetaMockDeviceID  = "mock_device_id" // simulated device that produced the packet
	MetaFragment      = "fragment"       // fragment index of an oversized response (int)
	MetaFragmentTotal = "fragment_total" // total fragments in the burst (int)
)

// DataPacket is the only currency that crosses an adapter boundary.
// The payload is always an owned copy; callers may retain the packet
// without worrying about transport buffer reuse.
type DataPacket struct {
	Direction Direction
	Payload   []byte
	Metadata  map[string]any
	Timestamp time.Time
}

// NewPacket builds a packet with a defensive copy of payload and a
// populated timestamp.
func NewPacket(dir Direction, payload []byte) *DataPacket {
	return &DataPacket{
		Direction: dir,
		Payload:   append([]byte(nil), payload...),
		Metadata:  make(map[string]any),
		Timestamp: time.Now().UTC(),
	}
}

// WithMeta sets a metadata key and returns the packet for chaining during
// construction.
func (p *DataPacket) WithMeta(key string, value any) *DataPacket {
	if p.Metadata == nil {
		p.Metadata = make(map[string]any)
	}
	p.Metadata[key] = value
	return p
}

// Meta returns a metadata value and whether it was present.
func (p *DataPacket) Meta(key string) (any, bool) {
	if p == nil || p.Metadata == nil {
		return nil, false
	}
	v, ok := p.Metadata[key]
	return v, ok
}

// MetaUint32 fetches a metadata value as uint32, tolerating the integer
// types that turn up after a JSON or CBOR round-trip.
func (p *DataPacket) MetaUint32(key string) (uint32, bool) {
	v, ok := p.Meta(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint32:
		return n, true
	case uint64:
		return uint32(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	default:
		return 0, false
	}
}

// MetaBool fetches a metadata value as bool.
func (p *DataPacket) MetaBool(key string) bool {
	v, ok := p.Meta(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MetaString fetches a metadata value as string.
func (p *DataPacket) MetaString(key string) (string, bool) {
	v, ok := p.Meta(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a deep copy of the packet. Adapters clone before handing a
// packet to more than one consumer.
func (p *DataPacket) Clone() *DataPacket {
	if p == nil {
		return nil
	}
	out := &DataPacket{
		Direction: p.Direction,
		Payload:   append([]byte(nil), p.Payload...),
		Timestamp: p.Timestamp,
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

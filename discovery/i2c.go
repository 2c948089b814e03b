package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// 7-bit address range usable by ordinary devices; below and above are
// reserved by the bus specification.
const (
	i2cScanFirst = 0x08
	i2cScanLast  = 0x77
)

// I2CScanner probes every usable address on one bus with a one-byte read.
// Addresses that acknowledge become candidates; known fixed addresses get a
// name and class from the fingerprint table.
type I2CScanner struct {
	log logging.Logger
	bus string

	// probeBus swapped in tests; returns the addresses that acknowledged.
	probeBus func(ctx context.Context) ([]uint8, error)
}

// NewI2CScanner builds a scanner for the named bus ("" means the host
// default).
func NewI2CScanner(log logging.Logger, bus string) *I2CScanner {
	if log == nil {
		log = logging.Noop()
	}
	s := &I2CScanner{log: log, bus: bus}
	s.probeBus = s.probeHardware
	return s
}

func (s *I2CScanner) Protocol() model.Protocol { return model.ProtocolI2C }

// Scan probes the address range and classifies responders.
func (s *I2CScanner) Scan(ctx context.Context) ([]*model.DiscoveredDevice, error) {
	addrs, err := s.probeBus(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var found []*model.DiscoveredDevice
	for _, addr := range addrs {
		dev := &model.DiscoveredDevice{
			ID:         fmt.Sprintf("i2c:%s:0x%02x", s.busLabel(), addr),
			Name:       fmt.Sprintf("i2c device 0x%02x", addr),
			Protocol:   model.ProtocolI2C,
			Address:    fmt.Sprintf("0x%02x", addr),
			Class:      model.ClassUnknown,
			Confidence: ConfidenceAddress,
			FirstSeen:  now,
			LastSeen:   now,
			Metadata:   map[string]string{"bus": s.busLabel()},
		}
		if fp, ok := i2cKnownAddresses[addr]; ok {
			dev.Name = fp.Name
			dev.Class = fp.Class
			dev.Confidence = ConfidenceVendor
		}
		found = append(found, dev)
	}
	return found, nil
}

func (s *I2CScanner) busLabel() string {
	if s.bus == "" {
		return "default"
	}
	return s.bus
}

func (s *I2CScanner) probeHardware(ctx context.Context) ([]uint8, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	bus, err := i2creg.Open(s.bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", s.busLabel(), err)
	}
	defer bus.Close()

	var addrs []uint8
	buf := make([]byte, 1)
	for addr := uint8(i2cScanFirst); addr <= i2cScanLast; addr++ {
		if ctx.Err() != nil {
			return addrs, ctx.Err()
		}
		dev := i2c.Dev{Bus: bus, Addr: uint16(addr)}
		if err := dev.Tx(nil, buf); err == nil {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}

package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const probeReadTimeout = 500 * time.Millisecond

// SerialScanner enumerates USB serial ports and fingerprints them against
// the pattern table. When a pattern carries an identification command the
// scanner opens the port and tries a read-back, which lifts confidence if
// the device answers.
type SerialScanner struct {
	log       logging.Logger
	baudRate  int
	withProbe bool

	// hooks swapped in tests
	listPorts func() ([]*enumerator.PortDetails, error)
	probe     func(port string, baud int, cmd string) (string, error)
}

// SerialScannerOption configures a SerialScanner.
type SerialScannerOption func(*SerialScanner)

// WithProbeBaudRate sets the baud rate used for read-back probes.
func WithProbeBaudRate(baud int) SerialScannerOption {
	return func(s *SerialScanner) {
		if baud > 0 {
			s.baudRate = baud
		}
	}
}

// WithoutProbes disables active read-back; enumeration data alone decides
// confidence.
func WithoutProbes() SerialScannerOption {
	return func(s *SerialScanner) { s.withProbe = false }
}

// NewSerialScanner builds a serial scanner.
func NewSerialScanner(log logging.Logger, opts ...SerialScannerOption) *SerialScanner {
	if log == nil {
		log = logging.Noop()
	}
	s := &SerialScanner{
		log:       log,
		baudRate:  115200,
		withProbe: true,
		listPorts: enumerator.GetDetailedPortsList,
		probe:     probeSerialPort,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SerialScanner) Protocol() model.Protocol { return model.ProtocolSerial }

// Scan enumerates ports and returns one candidate per recognised port.
func (s *SerialScanner) Scan(ctx context.Context) ([]*model.DiscoveredDevice, error) {
	ports, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}

	now := time.Now().UTC()
	var found []*model.DiscoveredDevice
	for _, port := range ports {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if !port.IsUSB {
			continue
		}

		pattern := matchSerial(port.VID, port.PID, port.Product)
		if pattern == nil {
			continue
		}

		dev := &model.DiscoveredDevice{
			ID:         "serial:" + port.Name,
			Name:       pattern.Name,
			Protocol:   model.ProtocolSerial,
			Address:    port.Name,
			Class:      pattern.Class,
			Confidence: serialConfidence(pattern),
			FirstSeen:  now,
			LastSeen:   now,
			Metadata: map[string]string{
				"vid":     strings.ToUpper(port.VID),
				"pid":     strings.ToUpper(port.PID),
				"product": port.Product,
				"serial":  port.SerialNumber,
			},
		}

		if s.withProbe && pattern.Probe != "" {
			if ident, err := s.probe(port.Name, s.baudRate, pattern.Probe); err == nil && ident != "" {
				dev.Confidence = ConfidenceReadBack
				dev.Metadata["identity"] = ident
			} else if err != nil {
				s.log.Debug(ctx, "serial read-back probe failed",
					logging.String("port", port.Name),
					logging.Err(err),
				)
			}
		}
		found = append(found, dev)
	}
	return found, nil
}

// probeSerialPort opens the port, sends the identification command, and
// returns the first response line.
func probeSerialPort(portName string, baud int, cmd string) (string, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return "", err
	}
	defer port.Close()

	if err := port.SetReadTimeout(probeReadTimeout); err != nil {
		return "", err
	}
	if _, err := port.Write([]byte(cmd)); err != nil {
		return "", err
	}

	buf := make([]byte, 128)
	n, err := port.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

package hal

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// SerialAdapter drives a UART device through go.bug.st/serial. Serial is a
// stream transport: Read returns whatever bytes arrived within the timeout,
// up to the requested size.
type SerialAdapter struct {
	*base
	cfg SerialConfig

	portMu sync.Mutex
	port   serial.Port
}

// NewSerialAdapter builds a serial adapter from a validated config.
func NewSerialAdapter(id string, cfg SerialConfig, log logging.Logger) *SerialAdapter {
	a := &SerialAdapter{cfg: cfg}
	a.base = newBase(id, model.ProtocolSerial, cfg.CommonConfig, a, log)
	return a
}

func (a *SerialAdapter) open(_ context.Context) (map[string]any, error) {
	mode, err := serialMode(a.cfg)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(a.cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", a.cfg.Port, err)
	}

	a.portMu.Lock()
	a.port = port
	a.portMu.Unlock()

	return map[string]any{
		"port":      a.cfg.Port,
		"baud_rate": mode.BaudRate,
		"data_bits": mode.DataBits,
		"parity":    a.cfg.Parity,
		"stop_bits": a.cfg.StopBits,
	}, nil
}

func (a *SerialAdapter) close() error {
	a.portMu.Lock()
	defer a.portMu.Unlock()
	if a.port == nil {
		return nil
	}
	err := a.port.Close()
	a.port = nil
	return err
}

// check probes the modem status lines; an unplugged USB adapter fails here
// and the health loop downgrades the adapter to Error.
func (a *SerialAdapter) check() error {
	a.portMu.Lock()
	port := a.port
	a.portMu.Unlock()
	if port == nil {
		return fmt.Errorf("serial port gone")
	}
	if _, err := port.GetModemStatusBits(); err != nil {
		return fmt.Errorf("modem status: %w", err)
	}
	return nil
}

// Write sends the payload as-is; serial has no framing of its own.
func (a *SerialAdapter) Write(ctx context.Context, pkt *model.DataPacket) error {
	if err := a.requireConnected("write"); err != nil {
		return err
	}
	a.portMu.Lock()
	port := a.port
	a.portMu.Unlock()
	if port == nil {
		return newTransmissionError(a.id, "write", ErrNotConnected)
	}

	n, err := port.Write(pkt.Payload)
	if err != nil {
		return newTransmissionError(a.id, "write", err)
	}
	a.noteWrite(n)
	return nil
}

// Read blocks up to the timeout for inbound bytes. A timeout with no data
// is a TransmissionError wrapping ErrTimeout.
func (a *SerialAdapter) Read(ctx context.Context, opts ReadOptions) (*model.DataPacket, error) {
	if err := a.requireConnected("read"); err != nil {
		return nil, err
	}
	a.portMu.Lock()
	port := a.port
	a.portMu.Unlock()
	if port == nil {
		return nil, newTransmissionError(a.id, "read", ErrNotConnected)
	}

	size := opts.Size
	if size <= 0 {
		size = 256
	}
	if err := port.SetReadTimeout(a.readTimeout(opts)); err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}

	buf := make([]byte, size)
	n, err := port.Read(buf)
	if err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}
	if n == 0 {
		// go.bug.st/serial signals a timeout as a zero-byte read.
		return nil, newTransmissionError(a.id, "read", ErrTimeout)
	}

	pkt := model.NewPacket(model.DirectionRX, buf[:n]).
		WithMeta(model.MetaPort, a.cfg.Port)
	a.noteRead(n)
	a.emitData(pkt)
	return pkt, nil
}

func serialMode(cfg SerialConfig) (*serial.Mode, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate, DataBits: cfg.DataBits}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch cfg.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", cfg.Parity)
	}
	switch cfg.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %v", cfg.StopBits)
	}
	return mode, nil
}

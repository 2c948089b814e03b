package hal

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// SPIAdapter drives one chip select on an SPI port through periph.io. SPI
// is full-duplex: Write clocks the payload out discarding MISO, Read clocks
// dummy bytes out to shift the response in. The port mutex serializes
// transactions on the physically shared bus.
type SPIAdapter struct {
	*base
	cfg SPIConfig

	busMu sync.Mutex
	port  spi.PortCloser
	conn  spi.Conn
}

// NewSPIAdapter builds an SPI adapter from a validated config.
func NewSPIAdapter(id string, cfg SPIConfig, log logging.Logger) *SPIAdapter {
	a := &SPIAdapter{cfg: cfg}
	a.base = newBase(id, model.ProtocolSPI, cfg.CommonConfig, a, log)
	return a
}

func (a *SPIAdapter) open(_ context.Context) (map[string]any, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	port, err := spireg.Open(a.cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("open spi port %s: %w", a.cfg.Port, err)
	}

	mode := spi.Mode(a.cfg.Mode)
	if a.cfg.BitOrder == "lsb" {
		mode |= spi.LSBFirst
	}
	bits := a.cfg.BitsPer
	if bits == 0 {
		bits = 8
	}
	conn, err := port.Connect(physic.Frequency(a.cfg.SpeedHz)*physic.Hertz, mode, bits)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("configure spi port %s: %w", a.cfg.Port, err)
	}

	a.busMu.Lock()
	a.port = port
	a.conn = conn
	a.busMu.Unlock()

	return map[string]any{
		"port":        a.cfg.Port,
		"mode":        a.cfg.Mode,
		"speed_hz":    a.cfg.SpeedHz,
		"bit_order":   a.cfg.BitOrder,
		"chip_select": a.cfg.ChipSelect,
	}, nil
}

func (a *SPIAdapter) close() error {
	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.port == nil {
		return nil
	}
	err := a.port.Close()
	a.port = nil
	a.conn = nil
	return err
}

// check has no wire-level probe: SPI devices do not acknowledge. Liveness
// is limited to the port handle still being open.
func (a *SPIAdapter) check() error {
	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("spi port gone")
	}
	return nil
}

// Write clocks out up to MaxSPIBlock bytes.
func (a *SPIAdapter) Write(ctx context.Context, pkt *model.DataPacket) error {
	if err := a.requireConnected("write"); err != nil {
		return err
	}
	if err := a.checkPayload("write", len(pkt.Payload), MaxSPIBlock); err != nil {
		return err
	}

	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.conn == nil {
		return newTransmissionError(a.id, "write", ErrNotConnected)
	}
	if err := a.conn.Tx(pkt.Payload, nil); err != nil {
		return newTransmissionError(a.id, "write", err)
	}
	a.noteWrite(len(pkt.Payload))
	return nil
}

// Read clocks dummy bytes to shift in up to MaxSPIBlock bytes.
func (a *SPIAdapter) Read(ctx context.Context, opts ReadOptions) (*model.DataPacket, error) {
	if err := a.requireConnected("read"); err != nil {
		return nil, err
	}
	size := opts.Size
	if size <= 0 {
		size = 1
	}
	if size > MaxSPIBlock {
		return nil, newTransmissionError(a.id, "read",
			fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, size, MaxSPIBlock))
	}

	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.conn == nil {
		return nil, newTransmissionError(a.id, "read", ErrNotConnected)
	}

	buf := make([]byte, size)
	if err := a.conn.Tx(make([]byte, size), buf); err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}

	pkt := model.NewPacket(model.DirectionRX, buf).
		WithMeta(model.MetaChipSelect, a.cfg.ChipSelect)
	a.noteRead(size)
	a.emitData(pkt)
	return pkt, nil
}

// Transfer performs a full-duplex exchange under one bus lock: tx is
// clocked out while the same number of bytes shifts in.
func (a *SPIAdapter) Transfer(ctx context.Context, tx []byte) (*model.DataPacket, error) {
	if err := a.requireConnected("write"); err != nil {
		return nil, err
	}
	if err := a.checkPayload("write", len(tx), MaxSPIBlock); err != nil {
		return nil, err
	}

	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.conn == nil {
		return nil, newTransmissionError(a.id, "write", ErrNotConnected)
	}

	rx := make([]byte, len(tx))
	if err := a.conn.Tx(tx, rx); err != nil {
		return nil, newTransmissionError(a.id, "write", err)
	}
	a.noteWrite(len(tx))
	a.noteRead(len(rx))

	pkt := model.NewPacket(model.DirectionRX, rx).
		WithMeta(model.MetaChipSelect, a.cfg.ChipSelect)
	a.emitData(pkt)
	return pkt, nil
}

package hal

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// periph host drivers are loaded once per process, shared by the I2C and
// SPI adapters.
var (
	hostInitOnce sync.Once
	hostInitErr  error
)

func initHost() error {
	hostInitOnce.Do(func() {
		_, hostInitErr = host.Init()
	})
	return hostInitErr
}

// I2CAdapter drives one device address on a shared I2C bus through
// periph.io. The bus mutex is held across each complete transaction
// (register write + read-back) so concurrent callers cannot interleave
// mid-transaction on the physically shared bus.
type I2CAdapter struct {
	*base
	cfg I2CConfig

	busMu sync.Mutex
	bus   i2c.BusCloser
	dev   *i2c.Dev
}

// NewI2CAdapter builds an I2C adapter from a validated config.
func NewI2CAdapter(id string, cfg I2CConfig, log logging.Logger) *I2CAdapter {
	a := &I2CAdapter{cfg: cfg}
	a.base = newBase(id, model.ProtocolI2C, cfg.CommonConfig, a, log)
	return a
}

func (a *I2CAdapter) open(_ context.Context) (map[string]any, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	bus, err := i2creg.Open(a.cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %s: %w", a.cfg.Bus, err)
	}

	a.busMu.Lock()
	a.bus = bus
	a.dev = &i2c.Dev{Bus: bus, Addr: a.cfg.Address}
	a.busMu.Unlock()

	return map[string]any{
		"bus":     a.cfg.Bus,
		"address": fmt.Sprintf("%#02x", a.cfg.Address),
	}, nil
}

func (a *I2CAdapter) close() error {
	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.bus == nil {
		return nil
	}
	err := a.bus.Close()
	a.bus = nil
	a.dev = nil
	return err
}

// check performs a one-byte read probe, the same primitive active address
// scanning uses. A device that fell off the bus NAKs and fails the probe.
func (a *I2CAdapter) check() error {
	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.dev == nil {
		return fmt.Errorf("i2c bus gone")
	}
	probe := make([]byte, 1)
	if err := a.dev.Tx(nil, probe); err != nil {
		return fmt.Errorf("address probe %#02x: %w", a.cfg.Address, err)
	}
	return nil
}

// Write sends up to MaxI2CBlock bytes. When the packet carries a register
// metadata key the register byte is prepended, matching SMBus block-write
// framing.
func (a *I2CAdapter) Write(ctx context.Context, pkt *model.DataPacket) error {
	if err := a.requireConnected("write"); err != nil {
		return err
	}
	if err := a.checkPayload("write", len(pkt.Payload), MaxI2CBlock); err != nil {
		return err
	}

	frame := pkt.Payload
	if reg, ok := pkt.MetaUint32(model.MetaRegister); ok {
		frame = append([]byte{byte(reg)}, pkt.Payload...)
	}

	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.dev == nil {
		return newTransmissionError(a.id, "write", ErrNotConnected)
	}
	if err := a.dev.Tx(frame, nil); err != nil {
		return newTransmissionError(a.id, "write", err)
	}
	a.noteWrite(len(pkt.Payload))
	return nil
}

// Read fetches up to MaxI2CBlock bytes. With a register metadata key the
// transaction is a combined write-then-read; the bus lock spans both halves.
func (a *I2CAdapter) Read(ctx context.Context, opts ReadOptions) (*model.DataPacket, error) {
	if err := a.requireConnected("read"); err != nil {
		return nil, err
	}
	size := opts.Size
	if size <= 0 {
		size = 1
	}
	if size > MaxI2CBlock {
		return nil, newTransmissionError(a.id, "read",
			fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, size, MaxI2CBlock))
	}

	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.dev == nil {
		return nil, newTransmissionError(a.id, "read", ErrNotConnected)
	}

	buf := make([]byte, size)
	if err := a.dev.Tx(nil, buf); err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}

	pkt := model.NewPacket(model.DirectionRX, buf).
		WithMeta(model.MetaDeviceAddress, uint32(a.cfg.Address))
	a.noteRead(size)
	a.emitData(pkt)
	return pkt, nil
}

// ReadRegister performs a combined register-select + read transaction under
// a single bus lock.
func (a *I2CAdapter) ReadRegister(ctx context.Context, register byte, size int) (*model.DataPacket, error) {
	if err := a.requireConnected("read"); err != nil {
		return nil, err
	}
	if size <= 0 {
		size = 1
	}
	if size > MaxI2CBlock {
		return nil, newTransmissionError(a.id, "read",
			fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, size, MaxI2CBlock))
	}

	a.busMu.Lock()
	defer a.busMu.Unlock()
	if a.dev == nil {
		return nil, newTransmissionError(a.id, "read", ErrNotConnected)
	}

	buf := make([]byte, size)
	if err := a.dev.Tx([]byte{register}, buf); err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}

	pkt := model.NewPacket(model.DirectionRX, buf).
		WithMeta(model.MetaDeviceAddress, uint32(a.cfg.Address)).
		WithMeta(model.MetaRegister, uint32(register))
	a.noteRead(size)
	a.emitData(pkt)
	return pkt, nil
}

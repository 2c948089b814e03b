package hal

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// canFD frame flag bits and raw frame size per linux/can.h.
const (
	canFDFrameSize = 72
	canEFFFlag     = uint32(1) << 31
	canRTRFlag     = uint32(1) << 30
)

// CANAdapter drives a SocketCAN interface through go.einride.tech/can.
// CAN is a packet transport: a listener goroutine fans inbound frames into
// a bounded queue drained by Read. Classic frames go through the einride
// transmitter; CAN-FD frames are marshalled raw because the classic
// transmitter carries at most 8 bytes.
type CANAdapter struct {
	*base
	cfg CANConfig

	connMu sync.Mutex
	conn   net.Conn
	tx     *socketcan.Transmitter

	queue *packetQueue

	listenerMu  sync.Mutex
	listenerErr error
	listenerWg  sync.WaitGroup

	filters map[uint32]struct{}
}

// NewCANAdapter builds a CAN adapter from a validated config.
func NewCANAdapter(id string, cfg CANConfig, log logging.Logger) *CANAdapter {
	a := &CANAdapter{cfg: cfg}
	a.base = newBase(id, model.ProtocolCAN, cfg.CommonConfig, a, log)
	a.queue = newPacketQueue(a.common.ReadQueueSize, a.log)
	if len(cfg.Filters) > 0 {
		a.filters = make(map[uint32]struct{}, len(cfg.Filters))
		for _, f := range cfg.Filters {
			a.filters[f] = struct{}{}
		}
	}
	return a
}

func (a *CANAdapter) open(ctx context.Context) (map[string]any, error) {
	conn, err := socketcan.DialContext(ctx, "can", a.cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", a.cfg.Interface, err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.tx = socketcan.NewTransmitter(conn)
	a.connMu.Unlock()

	a.listenerMu.Lock()
	a.listenerErr = nil
	a.listenerMu.Unlock()

	a.listenerWg.Add(1)
	go a.listen(conn)

	return map[string]any{
		"interface":   a.cfg.Interface,
		"bitrate":     a.cfg.Bitrate,
		"fd":          a.cfg.FD,
		"max_payload": a.cfg.MaxPayload(),
	}, nil
}

func (a *CANAdapter) close() error {
	a.connMu.Lock()
	conn := a.conn
	a.conn = nil
	a.tx = nil
	a.connMu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	a.listenerWg.Wait()
	a.queue.Drain()
	return err
}

// check surfaces a listener failure (interface down, socket closed) so the
// health loop can downgrade the adapter.
func (a *CANAdapter) check() error {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	return a.listenerErr
}

// listen drains the socket into the inbound queue until the connection
// closes. Frames outside the configured filter set are dropped silently.
func (a *CANAdapter) listen(conn net.Conn) {
	defer a.listenerWg.Done()

	recv := socketcan.NewReceiver(conn)
	for recv.Receive() {
		frame := recv.Frame()
		if a.filters != nil {
			if _, ok := a.filters[frame.ID]; !ok {
				continue
			}
		}
		pkt := model.NewPacket(model.DirectionRX, frame.Data[:frame.Length]).
			WithMeta(model.MetaArbitrationID, frame.ID).
			WithMeta(model.MetaExtendedID, frame.IsExtended).
			WithMeta(model.MetaRemoteFrame, frame.IsRemote)
		if a.queue.Push(pkt) {
			a.noteRead(int(frame.Length))
			a.emitData(pkt)
		}
	}
	if err := recv.Err(); err != nil {
		a.listenerMu.Lock()
		a.listenerErr = fmt.Errorf("can receiver: %w", err)
		a.listenerMu.Unlock()
	}
}

// Write transmits one frame. The arbitration ID comes from packet
// metadata; payloads over the configured frame limit (8 classic, 64 FD)
// fail before the socket is touched.
func (a *CANAdapter) Write(ctx context.Context, pkt *model.DataPacket) error {
	if err := a.requireConnected("write"); err != nil {
		return err
	}
	if err := a.checkPayload("write", len(pkt.Payload), a.cfg.MaxPayload()); err != nil {
		return err
	}

	id, ok := pkt.MetaUint32(model.MetaArbitrationID)
	if !ok {
		return newTransmissionError(a.id, "write",
			fmt.Errorf("packet missing %s metadata", model.MetaArbitrationID))
	}
	extended := pkt.MetaBool(model.MetaExtendedID)
	remote := pkt.MetaBool(model.MetaRemoteFrame)

	a.connMu.Lock()
	conn, tx := a.conn, a.tx
	a.connMu.Unlock()
	if conn == nil {
		return newTransmissionError(a.id, "write", ErrNotConnected)
	}

	if a.cfg.FD && len(pkt.Payload) > MaxCANClassicPayload {
		if err := writeFDFrame(conn, id, extended, pkt.Payload); err != nil {
			return newTransmissionError(a.id, "write", err)
		}
		a.noteWrite(len(pkt.Payload))
		return nil
	}

	frame := can.Frame{
		ID:         id,
		Length:     uint8(len(pkt.Payload)),
		IsExtended: extended,
		IsRemote:   remote,
	}
	copy(frame.Data[:], pkt.Payload)
	if err := tx.TransmitFrame(ctx, frame); err != nil {
		return newTransmissionError(a.id, "write", err)
	}
	a.noteWrite(len(pkt.Payload))
	return nil
}

// Read pops the oldest inbound frame, waiting up to the timeout.
func (a *CANAdapter) Read(ctx context.Context, opts ReadOptions) (*model.DataPacket, error) {
	if err := a.requireConnected("read"); err != nil {
		return nil, err
	}
	pkt, err := a.queue.Pop(ctx, a.readTimeout(opts))
	if err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}
	return pkt, nil
}

// writeFDFrame marshals a raw canfd_frame (linux/can.h layout) onto the
// socket: 4-byte little-endian id with EFF flag, length byte, flags byte,
// two reserved bytes, then a fixed 64-byte data area.
func writeFDFrame(conn net.Conn, id uint32, extended bool, payload []byte) error {
	if len(payload) > MaxCANFDPayload {
		return fmt.Errorf("fd payload %d exceeds %d", len(payload), MaxCANFDPayload)
	}
	rawID := id
	if extended {
		rawID |= canEFFFlag
	}
	var frame [canFDFrameSize]byte
	binary.LittleEndian.PutUint32(frame[0:4], rawID)
	frame[4] = uint8(len(payload))
	copy(frame[8:], payload)

	if _, err := conn.Write(frame[:]); err != nil {
		return fmt.Errorf("write fd frame: %w", err)
	}
	return nil
}

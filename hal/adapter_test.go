package hal

import (
	"context"
	"errors"
	"testing"

	"github.com/wtyler2505/roverhal/model"
)

// Constructing an adapter must never touch its transport; Write and Read
// on a never-connected adapter fail up front for every protocol.
func TestWriteAndReadBeforeConnectFail(t *testing.T) {
	adapters := []Adapter{
		NewSerialAdapter("ser-1", SerialConfig{Port: "/dev/ttyUSB9", BaudRate: 115200}, nil),
		NewI2CAdapter("i2c-1", I2CConfig{Bus: "9", Address: 0x48}, nil),
		NewSPIAdapter("spi-1", SPIConfig{Port: "/dev/spidev9.0", Mode: 0, SpeedHz: 1_000_000}, nil),
		NewCANAdapter("can-1", CANConfig{Interface: "vcan9"}, nil),
		NewEthernetAdapter("eth-1", EthernetConfig{Transport: "tcp", Host: "127.0.0.1", Port: 9}, nil),
	}

	ctx := context.Background()
	pkt := model.NewPacket(model.DirectionTX, []byte{0x01})

	for _, a := range adapters {
		if got := a.State(); got != StateDisconnected {
			t.Fatalf("%s: state after construction = %v, want disconnected", a.ID(), got)
		}

		err := a.Write(ctx, pkt)
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("%s: write before connect = %v, want ErrNotConnected", a.ID(), err)
		}
		var te *TransmissionError
		if !errors.As(err, &te) {
			t.Fatalf("%s: write error %v is not a TransmissionError", a.ID(), err)
		}

		if _, err := a.Read(ctx, ReadOptions{}); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("%s: read before connect = %v, want ErrNotConnected", a.ID(), err)
		}

		stats := a.Stats()
		if stats.PacketsSent != 0 || stats.PacketsReceived != 0 {
			t.Fatalf("%s: rejected I/O counted in stats: %+v", a.ID(), stats)
		}
	}
}

func TestCANPayloadLimitByFrameFormat(t *testing.T) {
	classic := CANConfig{Interface: "vcan0"}
	if got := classic.MaxPayload(); got != MaxCANClassicPayload {
		t.Fatalf("classic MaxPayload = %d, want %d", got, MaxCANClassicPayload)
	}
	fd := CANConfig{Interface: "vcan0", FD: true}
	if got := fd.MaxPayload(); got != MaxCANFDPayload {
		t.Fatalf("fd MaxPayload = %d, want %d", got, MaxCANFDPayload)
	}

	a := NewCANAdapter("can-limit", classic, nil)
	if err := a.checkPayload("write", MaxCANClassicPayload, classic.MaxPayload()); err != nil {
		t.Fatalf("8-byte classic frame rejected: %v", err)
	}
	err := a.checkPayload("write", MaxCANClassicPayload+1, classic.MaxPayload())
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("9-byte classic frame = %v, want ErrPayloadTooLarge", err)
	}

	afd := NewCANAdapter("canfd-limit", fd, nil)
	if err := afd.checkPayload("write", MaxCANFDPayload, fd.MaxPayload()); err != nil {
		t.Fatalf("64-byte fd frame rejected: %v", err)
	}
	if err := afd.checkPayload("write", MaxCANFDPayload+1, fd.MaxPayload()); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("65-byte fd frame = %v, want ErrPayloadTooLarge", err)
	}
}

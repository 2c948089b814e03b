package hal

import (
	"errors"
	"strings"
	"testing"

	"github.com/wtyler2505/roverhal/model"
)

func TestCreateConfigSerial(t *testing.T) {
	f := NewFactory(nil, nil)

	cfg, err := f.CreateConfig(model.ProtocolSerial, map[string]any{
		"port":      "/dev/ttyUSB0",
		"baud_rate": 115200,
	})
	if err != nil {
		t.Fatalf("CreateConfig: %v", err)
	}
	serial, ok := cfg.(SerialConfig)
	if !ok {
		t.Fatalf("config type = %T", cfg)
	}
	if serial.Port != "/dev/ttyUSB0" || serial.BaudRate != 115200 {
		t.Fatalf("config = %+v", serial)
	}
}

func TestCreateConfigRejectsUnknownField(t *testing.T) {
	f := NewFactory(nil, nil)
	_, err := f.CreateConfig(model.ProtocolSerial, map[string]any{
		"port":      "/dev/ttyUSB0",
		"baud_rate": 9600,
		"bord_rate": 9600,
	})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if !strings.Contains(err.Error(), "bord_rate") {
		t.Fatalf("err = %v, should name the bad field", err)
	}
}

func TestCreateConfigRejectsInvalidValues(t *testing.T) {
	f := NewFactory(nil, nil)
	if _, err := f.CreateConfig(model.ProtocolSerial, map[string]any{"port": ""}); err == nil {
		t.Fatal("empty port accepted")
	}
	if _, err := f.CreateConfig(model.ProtocolMock, map[string]any{"failure_rate": 1.5}); err == nil {
		t.Fatal("out-of-range failure_rate accepted")
	}
}

func TestCreateConfigUnknownProtocol(t *testing.T) {
	f := NewFactory(nil, nil)
	_, err := f.CreateConfig(model.Protocol("telepathy"), nil)
	if !errors.Is(err, ErrUnknownProtocol) {
		t.Fatalf("err = %v, want unknown protocol", err)
	}
}

func TestCreateAdapterRegistersInstance(t *testing.T) {
	reg := NewRegistry(nil)
	f := NewFactory(reg, nil)

	a, err := f.CreateAdapter(MockConfig{}, WithAdapterID("sim-temp-1"))
	if err != nil {
		t.Fatalf("CreateAdapter: %v", err)
	}
	if a.ID() != "sim-temp-1" || a.Protocol() != model.ProtocolMock {
		t.Fatalf("adapter = %s/%s", a.ID(), a.Protocol())
	}
	if _, err := reg.Get("sim-temp-1"); err != nil {
		t.Fatalf("registry lookup: %v", err)
	}

	// Re-using the pinned ID collides in the registry.
	if _, err := f.CreateAdapter(MockConfig{}, WithAdapterID("sim-temp-1")); !errors.Is(err, ErrAdapterExists) {
		t.Fatalf("duplicate id: %v", err)
	}
}

func TestCreateAdapterGeneratesDistinctIDs(t *testing.T) {
	f := NewFactory(nil, nil)
	a, err := f.CreateAdapter(MockConfig{})
	if err != nil {
		t.Fatalf("CreateAdapter: %v", err)
	}
	b, err := f.CreateAdapter(MockConfig{})
	if err != nil {
		t.Fatalf("CreateAdapter: %v", err)
	}
	if a.ID() == b.ID() || a.ID() == "" {
		t.Fatalf("ids = %q, %q", a.ID(), b.ID())
	}
}

func TestCreateAdapterNilConfig(t *testing.T) {
	f := NewFactory(nil, nil)
	if _, err := f.CreateAdapter(nil); err == nil {
		t.Fatal("nil config accepted")
	}
}

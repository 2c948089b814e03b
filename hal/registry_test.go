package hal

import (
	"context"
	"errors"
	"testing"

	"github.com/wtyler2505/roverhal/model"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	a := NewMockAdapter("mock-1", MockConfig{}, nil)

	if err := r.Register(a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(a); !errors.Is(err, ErrAdapterExists) {
		t.Fatalf("duplicate register: %v", err)
	}

	got, err := r.Get("mock-1")
	if err != nil || got.ID() != "mock-1" {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := r.Get("ghost"); !errors.Is(err, ErrAdapterNotFound) {
		t.Fatalf("missing Get: %v", err)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(NewMockAdapter("mock-1", MockConfig{}, nil))

	if err := r.Remove("mock-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove("mock-1"); !errors.Is(err, ErrAdapterNotFound) {
		t.Fatalf("second Remove: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d", r.Len())
	}
}

func TestRegistryByProtocol(t *testing.T) {
	r := NewRegistry(nil)
	_ = r.Register(NewMockAdapter("mock-1", MockConfig{}, nil))
	_ = r.Register(NewMockAdapter("mock-2", MockConfig{}, nil))

	mocks := r.ByProtocol(model.ProtocolMock)
	if len(mocks) != 2 {
		t.Fatalf("ByProtocol(mock) = %d adapters", len(mocks))
	}
	if got := r.ByProtocol(model.ProtocolCAN); len(got) != 0 {
		t.Fatalf("ByProtocol(can) = %d adapters", len(got))
	}
}

func TestRegistryDisconnectAll(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil)

	a := NewMockAdapter("mock-1", MockConfig{}, nil)
	b := NewMockAdapter("mock-2", MockConfig{}, nil)
	_ = r.Register(a)
	_ = r.Register(b)
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := r.DisconnectAll(ctx); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d after DisconnectAll", r.Len())
	}
	if a.State() != StateDisconnected || b.State() != StateDisconnected {
		t.Fatalf("states = %v, %v", a.State(), b.State())
	}
}

package hal

import "testing"

func TestLegalTransitions(t *testing.T) {
	allowed := []struct{ from, to ConnectionState }{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnecting, StateError},
		{StateConnecting, StateDisconnected},
		{StateConnected, StateDisconnected},
		{StateConnected, StateError},
		{StateError, StateConnecting},
		{StateError, StateDisconnected},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("%v -> %v should be legal", tr.from, tr.to)
		}
	}

	forbidden := []struct{ from, to ConnectionState }{
		{StateDisconnected, StateConnected},
		{StateDisconnected, StateError},
		{StateConnected, StateConnecting},
		{StateError, StateConnected},
	}
	for _, tr := range forbidden {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("%v -> %v should be illegal", tr.from, tr.to)
		}
	}
}

func TestConnectionStateString(t *testing.T) {
	if StateConnected.String() != "connected" || StateError.String() != "error" {
		t.Fatal("unexpected state names")
	}
	if ConnectionState(42).String() != "state(42)" {
		t.Fatalf("unknown state = %q", ConnectionState(42).String())
	}
}

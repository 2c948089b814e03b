package hal

import (
	"testing"

	"github.com/wtyler2505/roverhal/model"
)

func TestEmitterDispatchesToMatchingSubscribers(t *testing.T) {
	e := NewEmitter(nil)

	var got []string
	e.Subscribe("alpha", func(ev model.Event) { got = append(got, "a1") })
	e.Subscribe("alpha", func(ev model.Event) { got = append(got, "a2") })
	e.Subscribe("beta", func(ev model.Event) { got = append(got, "b") })

	e.Emit(model.Event{Type: "alpha"})
	if len(got) != 2 || got[0] != "a1" || got[1] != "a2" {
		t.Fatalf("dispatched = %v", got)
	}

	e.Emit(model.Event{Type: "gamma"})
	if len(got) != 2 {
		t.Fatal("unmatched event reached a subscriber")
	}
}

func TestEmitterRecoversPanickingHandler(t *testing.T) {
	e := NewEmitter(nil)

	var after bool
	e.Subscribe("x", func(ev model.Event) { panic("boom") })
	e.Subscribe("x", func(ev model.Event) { after = true })

	e.Emit(model.Event{Type: "x"})
	if !after {
		t.Fatal("handler after the panicking one never ran")
	}
}

func TestEmitterIgnoresNilHandler(t *testing.T) {
	e := NewEmitter(nil)
	e.Subscribe("x", nil)
	e.Emit(model.Event{Type: "x"})
}

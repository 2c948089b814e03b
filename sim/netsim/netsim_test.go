package netsim

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wtyler2505/roverhal/model"
)

type sink struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (s *sink) deliver(_ string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *sink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestProfileValidation(t *testing.T) {
	bad := Profile{Name: "bad", LossProbability: 1.5}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected probability bounds error")
	}
	bad = Profile{Name: "bad", Latency: model.Duration(-time.Second)}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected negative duration error")
	}
	good, err := Preset("satellite")
	if err != nil {
		t.Fatalf("Preset: %v", err)
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("satellite preset invalid: %v", err)
	}
}

func TestPresetUnknown(t *testing.T) {
	if _, err := Preset("carrier_pigeon"); err == nil {
		t.Fatal("expected unknown preset error")
	}
}

func TestLoadProfilesFillsName(t *testing.T) {
	doc := []byte(`
mars_relay:
  latency: 1200ms
  jitter: 100ms
  loss_probability: 0.05
  bandwidth_bps: 256000
`)
	profiles, err := LoadProfiles(doc)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	p, ok := profiles["mars_relay"]
	if !ok {
		t.Fatal("profile missing")
	}
	if p.Name != "mars_relay" {
		t.Fatalf("name = %q, want map key", p.Name)
	}
	if p.Latency.Duration() != 1200*time.Millisecond {
		t.Fatalf("latency = %v", p.Latency)
	}
}

func TestLoadProfilesRejectsInvalid(t *testing.T) {
	doc := []byte("bad:\n  loss_probability: 2\n")
	if _, err := LoadProfiles(doc); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestIdealLinkDeliversEverything(t *testing.T) {
	out := &sink{}
	sim := NewSimulator(nil, out.deliver, WithSeed(1))
	ideal, _ := Preset("ideal")
	if err := sim.AddLink("uplink", ideal); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	for i := 0; i < 20; i++ {
		if err := sim.SendPacket("uplink", []byte{byte(i)}); err != nil {
			t.Fatalf("SendPacket: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return out.count() == 20 })

	stats, err := sim.LinkStats("uplink")
	if err != nil {
		t.Fatalf("LinkStats: %v", err)
	}
	if stats.Sent != 20 || stats.Delivered != 20 || stats.Lost != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestTotalLossDeliversNothing(t *testing.T) {
	out := &sink{}
	sim := NewSimulator(nil, out.deliver, WithSeed(1))
	if err := sim.AddLink("uplink", Profile{Name: "void", LossProbability: 1}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	for i := 0; i < 10; i++ {
		_ = sim.SendPacket("uplink", []byte{byte(i)})
	}

	var stats Stats
	waitFor(t, time.Second, func() bool {
		stats, _ = sim.LinkStats("uplink")
		return stats.Lost == 10
	})
	if out.count() != 0 {
		t.Fatalf("delivered %d packets through a fully lossy link", out.count())
	}
}

func TestCorruptionFlipsExactlyOneBit(t *testing.T) {
	out := &sink{}
	sim := NewSimulator(nil, out.deliver, WithSeed(2))
	if err := sim.AddLink("uplink", Profile{Name: "noisy", CorruptionProbability: 1}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	original := []byte{0xAA, 0x55, 0x00, 0xFF}
	if err := sim.SendPacket("uplink", original); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	waitFor(t, time.Second, func() bool { return out.count() == 1 })

	got := out.all()[0]
	flipped := 0
	for i := range got {
		diff := got[i] ^ original[i]
		for diff != 0 {
			flipped += int(diff & 1)
			diff >>= 1
		}
	}
	if flipped != 1 {
		t.Fatalf("flipped bits = %d, want exactly 1", flipped)
	}
}

func TestDuplicationDeliversTwice(t *testing.T) {
	out := &sink{}
	sim := NewSimulator(nil, out.deliver, WithSeed(3))
	if err := sim.AddLink("uplink", Profile{Name: "dup", DuplicationProbability: 1}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	payload := []byte("telemetry")
	if err := sim.SendPacket("uplink", payload); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
	waitFor(t, time.Second, func() bool { return out.count() == 2 })

	for _, got := range out.all() {
		if !bytes.Equal(got, payload) {
			t.Fatalf("duplicate differs: %q", got)
		}
	}
	stats, _ := sim.LinkStats("uplink")
	if stats.Duplicated != 1 {
		t.Fatalf("Duplicated = %d, want 1", stats.Duplicated)
	}
}

func TestDroppedLinkLosesTraffic(t *testing.T) {
	out := &sink{}
	sim := NewSimulator(nil, out.deliver, WithSeed(4))
	ideal, _ := Preset("ideal")
	if err := sim.AddLink("uplink", ideal); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	if err := sim.DropLink("uplink", time.Minute); err != nil {
		t.Fatalf("DropLink: %v", err)
	}
	for i := 0; i < 5; i++ {
		_ = sim.SendPacket("uplink", []byte{byte(i)})
	}
	var stats Stats
	waitFor(t, time.Second, func() bool {
		stats, _ = sim.LinkStats("uplink")
		return stats.Lost == 5
	})
	if stats.LinkDrops != 1 {
		t.Fatalf("LinkDrops = %d, want 1", stats.LinkDrops)
	}

	if err := sim.RestoreLink("uplink"); err != nil {
		t.Fatalf("RestoreLink: %v", err)
	}
	_ = sim.SendPacket("uplink", []byte("back"))
	waitFor(t, time.Second, func() bool { return out.count() == 1 })
}

func TestReorderHoldsPacketBack(t *testing.T) {
	out := &sink{}
	sim := NewSimulator(nil, out.deliver, WithSeed(5))
	if err := sim.AddLink("uplink", Profile{Name: "swap", ReorderProbability: 1}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	_ = sim.SendPacket("uplink", []byte("first"))
	waitFor(t, time.Second, func() bool { return out.count() == 1 })

	stats, _ := sim.LinkStats("uplink")
	if stats.Reordered != 1 {
		t.Fatalf("Reordered = %d, want 1", stats.Reordered)
	}
	if stats.LatencyMax < 10*time.Millisecond {
		t.Fatalf("reordered packet latency %v, want at least the hold delay", stats.LatencyMax)
	}
}

func TestSetConditionSwitchesProfile(t *testing.T) {
	out := &sink{}
	sim := NewSimulator(nil, out.deliver, WithSeed(6))
	ideal, _ := Preset("ideal")
	if err := sim.AddLink("uplink", ideal); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	if err := sim.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sim.Stop()

	if err := sim.SetCondition("uplink", Profile{Name: "void", LossProbability: 1}); err != nil {
		t.Fatalf("SetCondition: %v", err)
	}
	_ = sim.SendPacket("uplink", []byte("x"))

	var stats Stats
	waitFor(t, time.Second, func() bool {
		stats, _ = sim.LinkStats("uplink")
		return stats.Lost == 1
	})
	if out.count() != 0 {
		t.Fatal("packet survived a fully lossy condition")
	}
}

func TestUnknownLinkErrors(t *testing.T) {
	sim := NewSimulator(nil, nil)
	if err := sim.SendPacket("nope", []byte("x")); err == nil {
		t.Fatal("expected unknown link error")
	}
	if _, err := sim.LinkStats("nope"); err == nil {
		t.Fatal("expected unknown link error")
	}
}

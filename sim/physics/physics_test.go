package physics

import (
	"math"
	"testing"
	"time"
)

func TestVec3Operations(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 3}
	b := Vec3{X: 4, Y: 5, Z: 6}

	if got := a.Add(b); got != (Vec3{X: 5, Y: 7, Z: 9}) {
		t.Fatalf("Add = %+v", got)
	}
	if got := b.Sub(a); got != (Vec3{X: 3, Y: 3, Z: 3}) {
		t.Fatalf("Sub = %+v", got)
	}
	if got := a.Scale(2); got != (Vec3{X: 2, Y: 4, Z: 6}) {
		t.Fatalf("Scale = %+v", got)
	}
	if got := a.Dot(b); got != 32 {
		t.Fatalf("Dot = %v, want 32", got)
	}
	if got := a.Cross(b); got != (Vec3{X: -3, Y: 6, Z: -3}) {
		t.Fatalf("Cross = %+v", got)
	}
	if got := (Vec3{X: 3, Y: 4}).Norm(); got != 5 {
		t.Fatalf("Norm = %v, want 5", got)
	}
}

func TestStateSemiImplicitEuler(t *testing.T) {
	st := NewState(2)
	st.ApplyForce(Vec3{X: 4}) // a = 2 m/s^2

	st.Step(time.Second)

	if st.Velocity.X != 2 {
		t.Fatalf("velocity.X = %v, want 2", st.Velocity.X)
	}
	// Semi-implicit: position uses the updated velocity.
	if st.Position.X != 2 {
		t.Fatalf("position.X = %v, want 2", st.Position.X)
	}

	// Force accumulator cleared: a further step coasts.
	st.Step(time.Second)
	if st.Velocity.X != 2 {
		t.Fatalf("velocity.X after coast = %v, want 2", st.Velocity.X)
	}
	if st.Position.X != 4 {
		t.Fatalf("position.X after coast = %v, want 4", st.Position.X)
	}
}

func TestSimulatorGravityAndRemove(t *testing.T) {
	sim := NewSimulator() // Earth gravity
	sim.Add("rover", 10)

	sim.StepAll(time.Second)

	snap, ok := sim.Snapshot("rover")
	if !ok {
		t.Fatal("snapshot missing")
	}
	if math.Abs(snap.Velocity.Z+StandardGravity) > 1e-9 {
		t.Fatalf("velocity.Z = %v, want %v", snap.Velocity.Z, -StandardGravity)
	}

	sim.Remove("rover")
	if sim.Len() != 0 {
		t.Fatalf("Len = %d, want 0", sim.Len())
	}
	if _, ok := sim.Snapshot("rover"); ok {
		t.Fatal("snapshot returned for removed object")
	}
}

func TestSimulatorCustomGravity(t *testing.T) {
	sim := NewSimulator(WithGravity(0))
	sim.Add("probe", 1)
	sim.ApplyForce("probe", Vec3{Y: 3})

	sim.StepAll(time.Second)

	snap, _ := sim.Snapshot("probe")
	if snap.Velocity != (Vec3{Y: 3}) {
		t.Fatalf("velocity = %+v, want {0 3 0}", snap.Velocity)
	}
}

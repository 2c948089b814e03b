package scenario

import (
	"reflect"
	"testing"
	"time"
)

func sampleScenario() *Scenario {
	return &Scenario{
		Version:     DocumentVersion,
		ID:          "thermal-soak",
		Name:        "Thermal soak",
		Description: "Heat the chassis and watch the sensors follow",
		Metadata:    map[string]string{"author": "bench"},
		Setup: []Step{
			{Name: "env", Action: ActionSetEnvironment, Params: map[string]any{"ambient_temperature": 40.0}},
		},
		Steps: []Step{
			{Name: "loop", Action: ActionLoopStart, Iterations: 3},
			{Name: "wait", Action: ActionWait, Params: map[string]any{"duration": "10ms"}, Timeout: time.Second},
			{Name: "check", Action: ActionAssertState, Retries: 2, Backoff: 5 * time.Millisecond},
			{Name: "endloop", Action: ActionLoopEnd},
		},
		Teardown: []Step{
			{Name: "reset", Action: ActionSetEnvironment, Params: map[string]any{"ambient_temperature": 20.0}},
		},
	}
}

func TestScenarioJSONRoundTrip(t *testing.T) {
	original := sampleScenario()

	data, err := EncodeJSON(original)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	decoded, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	// Params decode numbers as float64; the sample uses float64 literals
	// so the whole document must round-trip exactly.
	if !reflect.DeepEqual(original, decoded) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestValidateRejectsUnknownAction(t *testing.T) {
	s := sampleScenario()
	s.Steps = append(s.Steps, Step{Name: "bad", Action: "summon_demons"})
	if err := s.Validate(); err == nil {
		t.Fatal("expected unknown action error")
	}
}

func TestValidateRejectsUnbalancedLoops(t *testing.T) {
	s := sampleScenario()
	s.Steps = s.Steps[:len(s.Steps)-1] // drop loop_end
	if err := s.Validate(); err == nil {
		t.Fatal("expected unbalanced loop error")
	}

	s = sampleScenario()
	s.Steps = append(s.Steps, Step{Name: "extra", Action: ActionLoopEnd})
	if err := s.Validate(); err == nil {
		t.Fatal("expected stray loop_end error")
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	s := sampleScenario()
	s.Version = 99
	if err := s.Validate(); err == nil {
		t.Fatal("expected version error")
	}
}

func TestValidateRejectsZeroIterationLoop(t *testing.T) {
	s := sampleScenario()
	s.Steps[0].Iterations = 0
	if err := s.Validate(); err == nil {
		t.Fatal("expected iterations error")
	}
}

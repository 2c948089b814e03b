// Package scenario defines scripted test sequences for the simulator and
// the machinery to execute, record, and replay them.
package scenario

import (
	"fmt"
	"time"
)

// ActionType names what a step does. The player ships built-in handling
// for wait, log, and the loop markers; everything else resolves through
// the handler registry.
type ActionType string

const (
	ActionSetEnvironment ActionType = "set_environment"
	ActionSetDeviceState ActionType = "set_device_state"
	ActionSendCommand    ActionType = "send_command"
	ActionWait           ActionType = "wait"
	ActionAssertState    ActionType = "assert_state"
	ActionInjectFault    ActionType = "inject_fault"
	ActionSetNetwork     ActionType = "set_network"
	ActionLog            ActionType = "log"
	ActionCheckpoint     ActionType = "checkpoint"
	ActionLoopStart      ActionType = "loop_start"
	ActionLoopEnd        ActionType = "loop_end"
)

// Step is one scripted action.
type Step struct {
	Name   string         `json:"name"`
	Action ActionType     `json:"action"`
	Params map[string]any `json:"params,omitempty"`

	// Timeout bounds one attempt; zero means no per-step bound.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Retries is the number of re-attempts after the first failure, each
	// preceded by a fixed Backoff.
	Retries int           `json:"retries,omitempty"`
	Backoff time.Duration `json:"backoff,omitempty"`

	// SkipIf names an execution-context key; a "key" entry skips when the
	// key is set, "key=value" skips on equality.
	SkipIf string `json:"skip_if,omitempty"`

	// Iterations applies to loop_start markers.
	Iterations int `json:"iterations,omitempty"`
}

// Scenario is a versioned scripted sequence. Teardown always runs, whatever
// happened before it.
type Scenario struct {
	Version     int               `json:"version"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Setup    []Step `json:"setup,omitempty"`
	Steps    []Step `json:"steps"`
	Teardown []Step `json:"teardown,omitempty"`
}

// Validate checks structural consistency: ids, known actions, balanced
// loop markers, positive iteration counts.
func (s *Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario: empty id")
	}
	if s.Version != DocumentVersion {
		return fmt.Errorf("scenario %s: unsupported version %d", s.ID, s.Version)
	}
	for _, phase := range []struct {
		name  string
		steps []Step
	}{
		{"setup", s.Setup},
		{"steps", s.Steps},
		{"teardown", s.Teardown},
	} {
		if err := validateSteps(phase.steps); err != nil {
			return fmt.Errorf("scenario %s: %s: %w", s.ID, phase.name, err)
		}
	}
	return nil
}

func validateSteps(steps []Step) error {
	depth := 0
	for i, step := range steps {
		if !knownAction(step.Action) {
			return fmt.Errorf("step %d (%s): unknown action %q", i, step.Name, step.Action)
		}
		switch step.Action {
		case ActionLoopStart:
			if step.Iterations <= 0 {
				return fmt.Errorf("step %d (%s): loop_start needs positive iterations", i, step.Name)
			}
			depth++
		case ActionLoopEnd:
			depth--
			if depth < 0 {
				return fmt.Errorf("step %d (%s): loop_end without loop_start", i, step.Name)
			}
		}
		if step.Retries < 0 {
			return fmt.Errorf("step %d (%s): negative retries", i, step.Name)
		}
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced loop markers")
	}
	return nil
}

func knownAction(a ActionType) bool {
	switch a {
	case ActionSetEnvironment, ActionSetDeviceState, ActionSendCommand,
		ActionWait, ActionAssertState, ActionInjectFault, ActionSetNetwork,
		ActionLog, ActionCheckpoint, ActionLoopStart, ActionLoopEnd:
		return true
	}
	return false
}

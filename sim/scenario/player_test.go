package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wtyler2505/roverhal/model"
)

func runnable(steps []Step, teardown []Step) *Scenario {
	return &Scenario{
		Version:  DocumentVersion,
		ID:       "t",
		Name:     "test",
		Steps:    steps,
		Teardown: teardown,
	}
}

func TestPlayerRunsAllPhases(t *testing.T) {
	var order []string
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, step Step, _ *ExecutionContext) error {
		order = append(order, step.Name)
		return nil
	})

	s := runnable(
		[]Step{{Name: "main1", Action: ActionSendCommand}},
		[]Step{{Name: "td", Action: ActionSendCommand}},
	)
	s.Setup = []Step{{Name: "setup1", Action: ActionSendCommand}}

	res, err := p.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"setup1", "main1", "td"}
	if len(order) != 3 || order[0] != want[0] || order[1] != want[1] || order[2] != want[2] {
		t.Fatalf("execution order = %v, want %v", order, want)
	}
	if res.Passed != 3 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestTeardownRunsAfterMainFailure(t *testing.T) {
	tornDown := false
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, step Step, _ *ExecutionContext) error {
		if step.Name == "boom" {
			return errors.New("device on fire")
		}
		tornDown = true
		return nil
	})

	s := runnable(
		[]Step{{Name: "boom", Action: ActionSendCommand}},
		[]Step{{Name: "cleanup", Action: ActionSendCommand}},
	)

	res, err := p.Run(context.Background(), s)
	if err == nil {
		t.Fatal("expected run failure")
	}
	if !tornDown {
		t.Fatal("teardown skipped after main failure")
	}
	if res.Failed != 1 || res.Passed != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestTeardownRunsAfterSetupFailure(t *testing.T) {
	tornDown := false
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, step Step, _ *ExecutionContext) error {
		if step.Name == "bad-setup" {
			return errors.New("nope")
		}
		tornDown = true
		return nil
	})

	s := runnable(nil, []Step{{Name: "cleanup", Action: ActionSendCommand}})
	s.Setup = []Step{{Name: "bad-setup", Action: ActionSendCommand}}

	if _, err := p.Run(context.Background(), s); err == nil {
		t.Fatal("expected setup failure")
	}
	if !tornDown {
		t.Fatal("teardown skipped after setup failure")
	}
}

func TestTeardownSurvivesCancelledContext(t *testing.T) {
	tornDown := false
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, _ Step, _ *ExecutionContext) error {
		tornDown = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := runnable(
		[]Step{{Name: "never", Action: ActionSendCommand}},
		[]Step{{Name: "cleanup", Action: ActionSendCommand}},
	)

	if _, err := p.Run(ctx, s); err == nil {
		t.Fatal("expected cancellation error")
	}
	if !tornDown {
		t.Fatal("teardown skipped after cancellation")
	}
}

func TestRetryBudgetWithBackoff(t *testing.T) {
	attempts := 0
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, _ Step, _ *ExecutionContext) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	s := runnable([]Step{
		{Name: "flaky", Action: ActionSendCommand, Retries: 2, Backoff: time.Millisecond},
	}, nil)

	res, err := p.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if res.Passed != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRetriesExhaustedFailsScenario(t *testing.T) {
	attempts := 0
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, _ Step, _ *ExecutionContext) error {
		attempts++
		return errors.New("permanent")
	})

	s := runnable([]Step{
		{Name: "doomed", Action: ActionSendCommand, Retries: 2},
	}, nil)

	if _, err := p.Run(context.Background(), s); err == nil {
		t.Fatal("expected failure after retries exhaust")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestStepTimeoutFailsStep(t *testing.T) {
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(ctx context.Context, _ Step, _ *ExecutionContext) error {
		<-ctx.Done()
		return ctx.Err()
	})

	s := runnable([]Step{
		{Name: "slow", Action: ActionSendCommand, Timeout: 10 * time.Millisecond},
	}, nil)

	start := time.Now()
	_, err := p.Run(context.Background(), s)
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestSkipConditions(t *testing.T) {
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, _ Step, ec *ExecutionContext) error {
		ec.Set("degraded", "true")
		return nil
	})
	executed := false
	p.RegisterHandler(ActionInjectFault, func(_ context.Context, _ Step, _ *ExecutionContext) error {
		executed = true
		return nil
	})

	s := runnable([]Step{
		{Name: "mark", Action: ActionSendCommand},
		{Name: "skipped-by-key", Action: ActionInjectFault, SkipIf: "degraded"},
		{Name: "skipped-by-value", Action: ActionInjectFault, SkipIf: "degraded=true"},
		{Name: "not-skipped", Action: ActionInjectFault, SkipIf: "degraded=false"},
	}, nil)

	res, err := p.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Skipped != 2 {
		t.Fatalf("Skipped = %d, want 2", res.Skipped)
	}
	if !executed {
		t.Fatal("non-matching skip condition suppressed the step")
	}
}

func TestLoopsRepeatBody(t *testing.T) {
	count := 0
	p := NewPlayer(nil)
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, _ Step, _ *ExecutionContext) error {
		count++
		return nil
	})

	s := runnable([]Step{
		{Name: "outer", Action: ActionLoopStart, Iterations: 3},
		{Name: "inner", Action: ActionLoopStart, Iterations: 2},
		{Name: "work", Action: ActionSendCommand},
		{Name: "inner-end", Action: ActionLoopEnd},
		{Name: "outer-end", Action: ActionLoopEnd},
	}, nil)

	if _, err := p.Run(context.Background(), s); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 6 {
		t.Fatalf("body executions = %d, want 6", count)
	}
}

func TestUnregisteredActionIsConfigurationError(t *testing.T) {
	p := NewPlayer(nil)
	s := runnable([]Step{{Name: "x", Action: ActionInjectFault}}, nil)

	executedAnything := false
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, _ Step, _ *ExecutionContext) error {
		executedAnything = true
		return nil
	})
	s.Setup = []Step{{Name: "setup", Action: ActionSendCommand}}

	if _, err := p.Run(context.Background(), s); err == nil {
		t.Fatal("expected missing handler error")
	}
	if executedAnything {
		t.Fatal("steps ran despite missing handler")
	}
}

func TestStepEventsEmitted(t *testing.T) {
	var events []model.Event
	p := NewPlayer(nil, WithEvents(func(ev model.Event) { events = append(events, ev) }))
	p.RegisterHandler(ActionSendCommand, func(_ context.Context, _ Step, _ *ExecutionContext) error {
		return nil
	})

	s := runnable([]Step{
		{Name: "cmd", Action: ActionSendCommand},
		{Name: "mark", Action: ActionCheckpoint},
	}, nil)

	if _, err := p.Run(context.Background(), s); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var stepEvents, checkpoints int
	for _, ev := range events {
		switch ev.Type {
		case model.EventScenarioStep:
			stepEvents++
		case model.EventCheckpoint:
			checkpoints++
		}
	}
	if stepEvents != 2 || checkpoints != 1 {
		t.Fatalf("stepEvents = %d, checkpoints = %d", stepEvents, checkpoints)
	}
}

func TestAssertCounting(t *testing.T) {
	p := NewPlayer(nil)
	p.RegisterHandler(ActionAssertState, func(_ context.Context, _ Step, ec *ExecutionContext) error {
		ec.CountAssert()
		return nil
	})

	s := runnable([]Step{
		{Name: "a1", Action: ActionAssertState},
		{Name: "a2", Action: ActionAssertState},
	}, nil)

	res, err := p.Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Asserts != 2 {
		t.Fatalf("Asserts = %d, want 2", res.Asserts)
	}
}

package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// HandlerFunc executes one step. ec carries shared run state; handlers may
// set values later steps test with skip conditions.
type HandlerFunc func(ctx context.Context, step Step, ec *ExecutionContext) error

// ExecutionContext aggregates state and counters for one run. It is
// discarded when the run finishes; the Result keeps the numbers.
type ExecutionContext struct {
	mu     sync.Mutex
	values map[string]any

	passed  int
	failed  int
	skipped int
	asserts int
}

// NewExecutionContext builds an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{values: make(map[string]any)}
}

// Set stores a shared value.
func (ec *ExecutionContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.values[key] = value
}

// Get reads a shared value.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.values[key]
	return v, ok
}

// CountAssert records one executed assertion.
func (ec *ExecutionContext) CountAssert() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.asserts++
}

func (ec *ExecutionContext) notePassed()  { ec.mu.Lock(); ec.passed++; ec.mu.Unlock() }
func (ec *ExecutionContext) noteFailed()  { ec.mu.Lock(); ec.failed++; ec.mu.Unlock() }
func (ec *ExecutionContext) noteSkipped() { ec.mu.Lock(); ec.skipped++; ec.mu.Unlock() }

// Result summarises a finished run.
type Result struct {
	ScenarioID string
	Passed     int
	Failed     int
	Skipped    int
	Asserts    int
	Duration   time.Duration
	Err        error
}

// Player executes scenarios against handlers registered per action type.
type Player struct {
	log      logging.Logger
	handlers map[ActionType]HandlerFunc
	events   func(model.Event)
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithEvents streams scenario_step and checkpoint events to fn.
func WithEvents(fn func(model.Event)) PlayerOption {
	return func(p *Player) { p.events = fn }
}

// NewPlayer builds a player with no handlers registered.
func NewPlayer(log logging.Logger, opts ...PlayerOption) *Player {
	if log == nil {
		log = logging.Noop()
	}
	p := &Player{
		log:      log,
		handlers: make(map[ActionType]HandlerFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterHandler binds an action type to its implementation. Registering
// an action twice replaces the earlier handler.
func (p *Player) RegisterHandler(action ActionType, fn HandlerFunc) {
	if fn == nil {
		return
	}
	p.handlers[action] = fn
}

// Run executes the scenario: setup, then the main steps, then teardown.
// Teardown always runs, even when setup or a main step fails or the
// context is cancelled. The first failure decides the Result error.
func (p *Player) Run(ctx context.Context, s *Scenario) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkHandlers(s); err != nil {
		return nil, err
	}

	start := time.Now()
	ec := NewExecutionContext()
	var runErr error

	if err := p.runPhase(ctx, s, "setup", s.Setup, ec); err != nil {
		runErr = fmt.Errorf("setup: %w", err)
	} else if err := p.runPhase(ctx, s, "main", s.Steps, ec); err != nil {
		runErr = err
	}

	// Teardown must run regardless of earlier failures and must survive a
	// cancelled parent context.
	tdCtx := context.WithoutCancel(ctx)
	if err := p.runPhase(tdCtx, s, "teardown", s.Teardown, ec); err != nil {
		p.log.Error(tdCtx, "scenario teardown failed",
			logging.String("scenario", s.ID),
			logging.Err(err),
		)
		if runErr == nil {
			runErr = fmt.Errorf("teardown: %w", err)
		}
	}

	ec.mu.Lock()
	res := &Result{
		ScenarioID: s.ID,
		Passed:     ec.passed,
		Failed:     ec.failed,
		Skipped:    ec.skipped,
		Asserts:    ec.asserts,
		Duration:   time.Since(start),
		Err:        runErr,
	}
	ec.mu.Unlock()
	return res, runErr
}

// checkHandlers rejects scenarios referencing unregistered actions before
// anything executes.
func (p *Player) checkHandlers(s *Scenario) error {
	var missing []string
	seen := map[ActionType]bool{}
	for _, steps := range [][]Step{s.Setup, s.Steps, s.Teardown} {
		for _, step := range steps {
			if builtinAction(step.Action) || seen[step.Action] {
				continue
			}
			seen[step.Action] = true
			if _, ok := p.handlers[step.Action]; !ok {
				missing = append(missing, string(step.Action))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("scenario %s: no handler registered for actions: %s",
			s.ID, strings.Join(missing, ", "))
	}
	return nil
}

func builtinAction(a ActionType) bool {
	switch a {
	case ActionWait, ActionLog, ActionCheckpoint, ActionLoopStart, ActionLoopEnd:
		return true
	}
	return false
}

func (p *Player) runPhase(ctx context.Context, s *Scenario, phase string, steps []Step, ec *ExecutionContext) error {
	nodes, err := parseLoops(steps)
	if err != nil {
		return err
	}
	return p.runNodes(ctx, s, phase, nodes, ec)
}

// loop structure parsed from the flat step list.
type node struct {
	step       *Step
	iterations int
	body       []node
}

func parseLoops(steps []Step) ([]node, error) {
	nodes, rest, err := parseUntilEnd(steps, false)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.New("unbalanced loop markers")
	}
	return nodes, nil
}

func parseUntilEnd(steps []Step, inLoop bool) ([]node, []Step, error) {
	var nodes []node
	for len(steps) > 0 {
		step := steps[0]
		steps = steps[1:]
		switch step.Action {
		case ActionLoopStart:
			body, rest, err := parseUntilEnd(steps, true)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, node{iterations: step.Iterations, body: body})
			steps = rest
		case ActionLoopEnd:
			if !inLoop {
				return nil, nil, errors.New("loop_end without loop_start")
			}
			return nodes, steps, nil
		default:
			s := step
			nodes = append(nodes, node{step: &s})
		}
	}
	if inLoop {
		return nil, nil, errors.New("loop_start without loop_end")
	}
	return nodes, steps, nil
}

func (p *Player) runNodes(ctx context.Context, s *Scenario, phase string, nodes []node, ec *ExecutionContext) error {
	for _, n := range nodes {
		if n.step == nil {
			for i := 0; i < n.iterations; i++ {
				if err := p.runNodes(ctx, s, phase, n.body, ec); err != nil {
					return err
				}
			}
			continue
		}
		if err := p.runStep(ctx, s, phase, *n.step, ec); err != nil {
			return err
		}
	}
	return nil
}

func (p *Player) runStep(ctx context.Context, s *Scenario, phase string, step Step, ec *ExecutionContext) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if shouldSkip(step.SkipIf, ec) {
		ec.noteSkipped()
		p.emitStep(s, phase, step, "skipped", nil)
		return nil
	}

	var err error
	attempts := step.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && step.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(step.Backoff):
			}
		}
		err = p.attempt(ctx, step, ec)
		if err == nil {
			break
		}
		p.log.Warn(ctx, "scenario step attempt failed",
			logging.String("scenario", s.ID),
			logging.String("step", step.Name),
			logging.Int("attempt", attempt+1),
			logging.Err(err),
		)
	}

	if err != nil {
		ec.noteFailed()
		p.emitStep(s, phase, step, "failed", err)
		return fmt.Errorf("step %q: %w", step.Name, err)
	}
	ec.notePassed()
	p.emitStep(s, phase, step, "passed", nil)
	return nil
}

func (p *Player) attempt(ctx context.Context, step Step, ec *ExecutionContext) error {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	switch step.Action {
	case ActionWait:
		return waitStep(ctx, step)
	case ActionLog:
		msg, _ := step.Params["message"].(string)
		p.log.Info(ctx, "scenario log", logging.String("message", msg))
		return nil
	case ActionCheckpoint:
		if p.events != nil {
			p.events(model.NewEvent(model.EventCheckpoint, "scenario", map[string]any{
				"name": step.Name,
			}))
		}
		return nil
	}

	fn := p.handlers[step.Action]
	done := make(chan error, 1)
	go func() { done <- fn(ctx, step, ec) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func waitStep(ctx context.Context, step Step) error {
	d, err := durationParam(step.Params, "duration")
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// durationParam accepts either a duration string ("250ms") or a float
// second count, the two spellings scenario authors actually use.
func durationParam(params map[string]any, key string) (time.Duration, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing %q param", key)
	}
	switch v := raw.(type) {
	case string:
		return time.ParseDuration(v)
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	default:
		return 0, fmt.Errorf("%q param has unsupported type %T", key, raw)
	}
}

func shouldSkip(cond string, ec *ExecutionContext) bool {
	if cond == "" {
		return false
	}
	key, want, hasValue := strings.Cut(cond, "=")
	got, ok := ec.Get(strings.TrimSpace(key))
	if !ok {
		return false
	}
	if !hasValue {
		return true
	}
	return fmt.Sprintf("%v", got) == strings.TrimSpace(want)
}

func (p *Player) emitStep(s *Scenario, phase string, step Step, outcome string, err error) {
	if p.events == nil {
		return
	}
	data := map[string]any{
		"scenario": s.ID,
		"phase":    phase,
		"step":     step.Name,
		"action":   string(step.Action),
		"outcome":  outcome,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	p.events(model.NewEvent(model.EventScenarioStep, "scenario", data))
}

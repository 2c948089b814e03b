package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wtyler2505/roverhal/hal"
	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultScanInterval = 30 * time.Second
	defaultCandidateTTL = 5 * time.Minute
)

// Engine runs one scan task per protocol and maintains the candidate cache.
// Scanner failures are logged and skipped; a broken transport never stops
// the other scans.
type Engine struct {
	log     logging.Logger
	rec     MetricsRecorder
	manager HardwareManager
	tracer  trace.Tracer
	emitter *hal.Emitter

	interval time.Duration
	ttl      time.Duration

	mu         sync.RWMutex
	scanners   []Scanner
	candidates map[string]*model.DiscoveredDevice

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithScanInterval sets the continuous-scan period.
func WithScanInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithCandidateTTL sets how long an unseen candidate survives before a
// device_lost event evicts it.
func WithCandidateTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.ttl = d
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec MetricsRecorder) EngineOption {
	return func(e *Engine) { e.rec = rec }
}

// WithHardwareManager sets the collaborator that receives promoted devices.
func WithHardwareManager(m HardwareManager) EngineOption {
	return func(e *Engine) { e.manager = m }
}

// NewEngine builds an engine with the given scanners.
func NewEngine(log logging.Logger, scanners []Scanner, opts ...EngineOption) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	e := &Engine{
		log:        log,
		tracer:     otel.Tracer("roverhal/discovery"),
		emitter:    hal.NewEmitter(log),
		interval:   defaultScanInterval,
		ttl:        defaultCandidateTTL,
		scanners:   append([]Scanner(nil), scanners...),
		candidates: make(map[string]*model.DiscoveredDevice),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a handler for discovery events
// (device_discovered, device_lost, device_registered).
func (e *Engine) Subscribe(event string, h hal.Handler) {
	e.emitter.Subscribe(event, h)
}

// AddScanner appends a scanner. Safe while the engine is running; the next
// sweep picks it up.
func (e *Engine) AddScanner(s Scanner) {
	if s == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scanners = append(e.scanners, s)
}

// Start launches the continuous scan loop. It is an error to start a
// running engine.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return fmt.Errorf("discovery engine already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.stopped = make(chan struct{})
	go e.run(runCtx)

	e.log.Info(ctx, "discovery engine started",
		logging.String("interval", e.interval.String()),
		logging.String("candidate_ttl", e.ttl.String()),
	)
	return nil
}

// Stop ends the continuous loop and waits for it to drain. Stopping an
// idle engine is a no-op.
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel, stopped := e.cancel, e.stopped
	e.cancel, e.stopped = nil, nil
	e.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.stopped)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// First sweep immediately so callers see candidates without waiting
	// out a full interval.
	e.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ScanOnce(ctx)
			e.evictStale()
		}
	}
}

// ScanOnce runs every scanner once and folds the results into the cache.
// Individual scanner errors are logged; the sweep continues.
func (e *Engine) ScanOnce(ctx context.Context) {
	e.mu.RLock()
	scanners := append([]Scanner(nil), e.scanners...)
	e.mu.RUnlock()

	for _, s := range scanners {
		if ctx.Err() != nil {
			return
		}
		e.scanOne(ctx, s)
	}
}

func (e *Engine) scanOne(ctx context.Context, s Scanner) {
	proto := string(s.Protocol())
	ctx, span := e.tracer.Start(ctx, "discovery.scan",
		trace.WithAttributes(attribute.String("protocol", proto)))
	defer span.End()

	start := time.Now()
	found, err := s.Scan(ctx)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if e.rec != nil {
			e.rec.RecordScan(proto, "error", elapsed)
		}
		e.log.Warn(ctx, "discovery scan failed",
			logging.String("protocol", proto),
			logging.Err(err),
		)
		return
	}
	if e.rec != nil {
		e.rec.RecordScan(proto, "ok", elapsed)
	}

	for _, obs := range found {
		e.observe(obs)
	}
}

// AddManual seeds a candidate without touching any transport. Useful for
// devices the scanners cannot see, or for tests.
func (e *Engine) AddManual(dev *model.DiscoveredDevice) {
	if dev == nil || dev.ID == "" {
		return
	}
	e.observe(dev.Clone())
}

func (e *Engine) observe(obs *model.DiscoveredDevice) {
	if obs == nil || obs.ID == "" {
		return
	}
	now := time.Now().UTC()
	if obs.LastSeen.IsZero() {
		obs.LastSeen = now
	}

	e.mu.Lock()
	existing, ok := e.candidates[obs.ID]
	if ok {
		existing.Merge(obs)
	} else {
		if obs.FirstSeen.IsZero() {
			obs.FirstSeen = now
		}
		e.candidates[obs.ID] = obs
	}
	count := len(e.candidates)
	e.mu.Unlock()

	if e.rec != nil {
		e.rec.SetCandidates(count)
	}
	if !ok {
		e.emitter.Emit(model.NewEvent(model.EventDeviceDiscovered, "discovery", map[string]any{
			"device_id":  obs.ID,
			"protocol":   string(obs.Protocol),
			"address":    obs.Address,
			"class":      string(obs.Class),
			"confidence": obs.Confidence,
		}))
	}
}

func (e *Engine) evictStale() {
	cutoff := time.Now().UTC().Add(-e.ttl)

	e.mu.Lock()
	var lost []*model.DiscoveredDevice
	for id, dev := range e.candidates {
		if dev.LastSeen.Before(cutoff) {
			lost = append(lost, dev)
			delete(e.candidates, id)
		}
	}
	count := len(e.candidates)
	e.mu.Unlock()

	if len(lost) == 0 {
		return
	}
	if e.rec != nil {
		e.rec.SetCandidates(count)
	}
	for _, dev := range lost {
		e.emitter.Emit(model.NewEvent(model.EventDeviceLost, "discovery", map[string]any{
			"device_id": dev.ID,
			"protocol":  string(dev.Protocol),
			"last_seen": dev.LastSeen,
		}))
	}
}

// Candidates returns a snapshot of the cache sorted by id.
func (e *Engine) Candidates() []*model.DiscoveredDevice {
	e.mu.RLock()
	out := make([]*model.DiscoveredDevice, 0, len(e.candidates))
	for _, dev := range e.candidates {
		out = append(out, dev.Clone())
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Candidate returns a copy of one cache entry.
func (e *Engine) Candidate(id string) (*model.DiscoveredDevice, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	dev, ok := e.candidates[id]
	if !ok {
		return nil, false
	}
	return dev.Clone(), true
}

// RegisterDevice promotes a candidate to a HardwareDevice through the
// hardware manager. The candidate stays in the cache so later scans keep
// refreshing it.
func (e *Engine) RegisterDevice(ctx context.Context, id string) (*model.HardwareDevice, error) {
	if e.manager == nil {
		return nil, fmt.Errorf("no hardware manager configured")
	}

	cand, ok := e.Candidate(id)
	if !ok {
		return nil, fmt.Errorf("unknown discovery candidate %q", id)
	}

	dev := &model.HardwareDevice{
		ID:           cand.ID,
		Name:         cand.Name,
		Protocol:     cand.Protocol,
		Address:      cand.Address,
		Class:        cand.Class,
		Capabilities: append([]string(nil), cand.Capabilities...),
		Metadata:     cand.Metadata,
		RegisteredAt: time.Now().UTC(),
	}
	if err := e.manager.RegisterDevice(ctx, dev); err != nil {
		return nil, fmt.Errorf("register device %s: %w", id, err)
	}

	e.emitter.Emit(model.NewEvent(model.EventDeviceRegistered, "discovery", map[string]any{
		"device_id": dev.ID,
		"protocol":  string(dev.Protocol),
	}))
	e.log.Info(ctx, "device registered",
		logging.String("device_id", dev.ID),
		logging.String("protocol", string(dev.Protocol)),
	)
	return dev, nil
}

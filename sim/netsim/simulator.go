package netsim

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
)

const defaultQueueDepth = 512

// DeliverFunc receives packets that survive the impairment pipeline.
type DeliverFunc func(link string, payload []byte)

// MetricsRecorder receives network-simulator metrics.
type MetricsRecorder interface {
	RecordNetPacket(link, outcome string)
	RecordNetLatency(seconds float64)
	RecordLinkDrop()
}

// Simulator runs one impairment pipeline per link. Each link owns a sender
// goroutine (bandwidth backpressure plus the probability gates), a
// time-ordered delivery buffer, and, when the profile calls for it, a drop
// injector that takes the whole link down at the configured hourly rate.
type Simulator struct {
	log     logging.Logger
	rec     MetricsRecorder
	deliver DeliverFunc
	seed    int64

	mu      sync.Mutex
	links   map[string]*link
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithNetMetrics attaches a metrics recorder.
func WithNetMetrics(rec MetricsRecorder) SimulatorOption {
	return func(s *Simulator) { s.rec = rec }
}

// WithSeed makes the impairment randomness reproducible.
func WithSeed(seed int64) SimulatorOption {
	return func(s *Simulator) { s.seed = seed }
}

// NewSimulator builds a network simulator delivering surviving packets
// through fn.
func NewSimulator(log logging.Logger, fn DeliverFunc, opts ...SimulatorOption) *Simulator {
	if log == nil {
		log = logging.Noop()
	}
	s := &Simulator{
		log:     log,
		deliver: fn,
		seed:    time.Now().UnixNano(),
		links:   make(map[string]*link),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type link struct {
	name  string
	cond  *Condition
	queue chan []byte
	stats statsCounters
	rng   *rand.Rand
	buf   *deliveryBuffer
}

// AddLink registers a link with the given profile. Links added while the
// simulator runs start their pipeline immediately.
func (s *Simulator) AddLink(name string, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[name]; exists {
		return fmt.Errorf("netsim link %q already exists", name)
	}

	l := &link{
		name:  name,
		cond:  NewCondition(p),
		queue: make(chan []byte, defaultQueueDepth),
		rng:   rand.New(rand.NewSource(s.seed ^ int64(len(s.links)+1))),
		buf:   newDeliveryBuffer(),
	}
	s.links[name] = l
	if s.running {
		s.startLink(l)
	}
	return nil
}

// SetCondition swaps the named link's profile at runtime.
func (s *Simulator) SetCondition(name string, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l, err := s.link(name)
	if err != nil {
		return err
	}
	l.cond.SetProfile(p)
	return nil
}

// DropLink forces an outage on the named link for d.
func (s *Simulator) DropLink(name string, d time.Duration) error {
	l, err := s.link(name)
	if err != nil {
		return err
	}
	l.cond.dropFor(d)
	l.stats.linkDrop()
	if s.rec != nil {
		s.rec.RecordLinkDrop()
	}
	return nil
}

// RestoreLink ends an outage on the named link.
func (s *Simulator) RestoreLink(name string) error {
	l, err := s.link(name)
	if err != nil {
		return err
	}
	l.cond.restore()
	return nil
}

// LinkStats returns a snapshot of the named link's counters.
func (s *Simulator) LinkStats(name string) (Stats, error) {
	l, err := s.link(name)
	if err != nil {
		return Stats{}, err
	}
	return l.stats.snapshot(), nil
}

func (s *Simulator) link(name string) (*link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[name]
	if !ok {
		return nil, fmt.Errorf("unknown netsim link %q", name)
	}
	return l, nil
}

// Start launches the per-link pipelines.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("network simulator already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.runCtx = runCtx
	for _, l := range s.links {
		s.startLink(l)
	}
	return nil
}

// Stop tears the pipelines down and waits for them.
func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Simulator) startLink(l *link) {
	ctx := s.runCtx
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.senderLoop(ctx, l)
	}()
	go func() {
		defer s.wg.Done()
		l.buf.run(ctx)
	}()

	if p := l.cond.Profile(); p.DropsPerHour > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dropLoop(ctx, l)
		}()
	}
}

// SendPacket enqueues a payload on the named link. A full queue drops the
// packet rather than blocking the caller.
func (s *Simulator) SendPacket(name string, payload []byte) error {
	l, err := s.link(name)
	if err != nil {
		return err
	}

	l.stats.sent()
	select {
	case l.queue <- append([]byte(nil), payload...):
		return nil
	default:
		l.stats.lost()
		if s.rec != nil {
			s.rec.RecordNetPacket(l.name, "queue_full")
		}
		s.log.Warn(context.Background(), "netsim queue full, packet dropped",
			logging.String("link", l.name),
		)
		return nil
	}
}

func (s *Simulator) senderLoop(ctx context.Context, l *link) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-l.queue:
			s.impair(ctx, l, payload)
		}
	}
}

// impair runs one packet through the pipeline: bandwidth backpressure,
// outage and loss gates, corruption, then latency assignment and delivery
// scheduling (with optional duplication and reorder hold).
func (s *Simulator) impair(ctx context.Context, l *link, payload []byte) {
	p := l.cond.Profile()

	if p.BandwidthBPS > 0 {
		wait := time.Duration(float64(len(payload)*8) / float64(p.BandwidthBPS) * float64(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}

	if l.cond.Down() || l.rng.Float64() < p.LossProbability {
		l.stats.lost()
		if s.rec != nil {
			s.rec.RecordNetPacket(l.name, "lost")
		}
		return
	}

	if p.CorruptionProbability > 0 && l.rng.Float64() < p.CorruptionProbability && len(payload) > 0 {
		bit := l.rng.Intn(len(payload) * 8)
		payload[bit/8] ^= 1 << (bit % 8)
		l.stats.corrupted()
		if s.rec != nil {
			s.rec.RecordNetPacket(l.name, "corrupted")
		}
	}

	latency := s.latency(l, &p)
	if p.ReorderProbability > 0 && l.rng.Float64() < p.ReorderProbability {
		// Hold the packet long enough for its successors to overtake it
		// in the time-ordered buffer.
		latency += p.Latency.Duration() + 4*p.Jitter.Duration() + 10*time.Millisecond
		l.stats.reordered()
		if s.rec != nil {
			s.rec.RecordNetPacket(l.name, "reordered")
		}
	}

	s.schedule(l, payload, latency)
	if p.DuplicationProbability > 0 && l.rng.Float64() < p.DuplicationProbability {
		dup := append([]byte(nil), payload...)
		s.schedule(l, dup, latency+time.Millisecond)
		l.stats.duplicated()
		if s.rec != nil {
			s.rec.RecordNetPacket(l.name, "duplicated")
		}
	}
}

func (s *Simulator) latency(l *link, p *Profile) time.Duration {
	latency := p.Latency.Duration()
	if p.Jitter > 0 {
		latency += time.Duration(l.rng.NormFloat64() * float64(p.Jitter))
	}
	if p.SpikeProbability > 0 && l.rng.Float64() < p.SpikeProbability && p.SpikeMultiplier > 1 {
		latency = time.Duration(float64(latency) * p.SpikeMultiplier)
	}
	if latency < 0 {
		latency = 0
	}
	return latency
}

func (s *Simulator) schedule(l *link, payload []byte, latency time.Duration) {
	l.buf.push(delivery{
		due:     time.Now().Add(latency),
		payload: payload,
		deliver: func(d delivery) {
			l.stats.delivered(latency)
			if s.rec != nil {
				s.rec.RecordNetPacket(l.name, "delivered")
				s.rec.RecordNetLatency(latency.Seconds())
			}
			if s.deliver != nil {
				s.deliver(l.name, d.payload)
			}
		},
	})
}

func (s *Simulator) dropLoop(ctx context.Context, l *link) {
	for {
		p := l.cond.Profile()
		if p.DropsPerHour <= 0 {
			return
		}
		mean := time.Duration(float64(time.Hour) / p.DropsPerHour)
		wait := time.Duration(l.rng.ExpFloat64() * float64(mean))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		window := p.RecoveryWindow.Duration()
		if window <= 0 {
			window = time.Second
		}
		window = time.Duration(float64(window) * (0.5 + l.rng.Float64()))
		l.cond.dropFor(window)
		l.stats.linkDrop()
		if s.rec != nil {
			s.rec.RecordLinkDrop()
		}
		s.log.Info(ctx, "netsim link outage injected",
			logging.String("link", l.name),
			logging.String("recovery", window.String()),
		)
	}
}

// delivery buffer: a min-heap ordered by due time, drained by one
// goroutine per link.

type delivery struct {
	due     time.Time
	payload []byte
	deliver func(delivery)
}

type deliveryHeap []delivery

func (h deliveryHeap) Len() int           { return len(h) }
func (h deliveryHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h deliveryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *deliveryHeap) Push(x any)        { *h = append(*h, x.(delivery)) }
func (h *deliveryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type deliveryBuffer struct {
	mu   sync.Mutex
	heap deliveryHeap
	wake chan struct{}
}

func newDeliveryBuffer() *deliveryBuffer {
	return &deliveryBuffer{wake: make(chan struct{}, 1)}
}

func (b *deliveryBuffer) push(d delivery) {
	b.mu.Lock()
	heap.Push(&b.heap, d)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *deliveryBuffer) run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		b.mu.Lock()
		var next *delivery
		if b.heap.Len() > 0 {
			if head := b.heap[0]; !head.due.After(time.Now()) {
				d := heap.Pop(&b.heap).(delivery)
				b.mu.Unlock()
				d.deliver(d)
				continue
			} else {
				next = &head
			}
		}
		b.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next != nil {
			timer.Reset(time.Until(next.due))
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		case <-timer.C:
		}
	}
}

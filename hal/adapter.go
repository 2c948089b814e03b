package hal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// ReadOptions tunes a single Read call.
type ReadOptions struct {
	// Size caps the number of payload bytes; zero uses the transport
	// default.
	Size int
	// Timeout bounds the wait for data; zero uses the configured default
	// read timeout.
	Timeout time.Duration
}

// Stats is a read-only snapshot of adapter I/O counters.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Errors          uint64
	ConnectedAt     time.Time
	LastActivity    time.Time
}

// MetricsRecorder receives adapter-level measurements. The HAL core calls
// it on the hot path, so implementations keep work O(1);
// internal/observability provides the Prometheus-backed implementation.
type MetricsRecorder interface {
	RecordPacket(protocol, direction string, bytes int)
	RecordAdapterError(protocol string)
	SetLiveAdapters(count int)
}

// Adapter is the uniform contract every transport satisfies. All methods
// are safe for concurrent use. Write and Read fail with a
// *TransmissionError whenever the adapter is not Connected, the payload
// exceeds the transport's physical limit, or the operation times out.
type Adapter interface {
	ID() string
	Protocol() model.Protocol
	State() ConnectionState
	// Info returns the protocol-info snapshot captured on the last
	// successful connect; nil when never connected.
	Info() map[string]any
	Stats() Stats

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Write(ctx context.Context, pkt *model.DataPacket) error
	Read(ctx context.Context, opts ReadOptions) (*model.DataPacket, error)

	// Subscribe registers a handler for adapter events
	// (adapter_connected, adapter_disconnected, adapter_error,
	// data_received).
	Subscribe(event string, h Handler)
}

// transport is the hook set a concrete adapter provides to the shared base.
// open establishes the wire-level resource and returns the protocol-info
// snapshot; check is the asynchronous liveness probe run by the health
// loop.
type transport interface {
	open(ctx context.Context) (map[string]any, error)
	close() error
	check() error
}

// base implements the connection lifecycle, health checking, reconnect
// policy, stats and event plumbing shared by all six transports.
type base struct {
	id     string
	proto  model.Protocol
	common CommonConfig
	log    logging.Logger
	events *Emitter
	rec    MetricsRecorder

	mu      sync.Mutex
	state   ConnectionState
	info    map[string]any
	lastErr string
	stats   Stats

	t transport

	bgCancel context.CancelFunc
	bgWg     sync.WaitGroup
}

func newBase(id string, proto model.Protocol, common CommonConfig, t transport, log logging.Logger) *base {
	if log == nil {
		log = logging.Noop()
	}
	log = log.With(logging.String("adapter_id", id), logging.String("protocol", string(proto)))
	return &base{
		id:     id,
		proto:  proto,
		common: common.withDefaults(),
		log:    log,
		events: NewEmitter(log),
		t:      t,
		state:  StateDisconnected,
	}
}

func (b *base) ID() string               { return b.id }
func (b *base) Protocol() model.Protocol { return b.proto }

func (b *base) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) Info() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.info == nil {
		return nil
	}
	out := make(map[string]any, len(b.info))
	for k, v := range b.info {
		out[k] = v
	}
	return out
}

func (b *base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// LastError returns the most recent recorded error message.
func (b *base) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

func (b *base) Subscribe(event string, h Handler) { b.events.Subscribe(event, h) }

// setMetrics attaches a metrics recorder; called by the factory.
func (b *base) setMetrics(rec MetricsRecorder) { b.rec = rec }

// Connect drives Disconnected/Error -> Connecting -> Connected|Error.
func (b *base) Connect(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateConnected, StateConnecting:
		b.mu.Unlock()
		return &ConnectionError{AdapterID: b.id, Op: "connect", Err: ErrAlreadyConnected}
	}
	b.state = StateConnecting
	b.mu.Unlock()

	info, err := b.t.open(ctx)
	if err != nil {
		b.mu.Lock()
		b.state = StateError
		b.lastErr = err.Error()
		b.stats.Errors++
		b.mu.Unlock()
		b.emitError(err)
		return &ConnectionError{AdapterID: b.id, Op: "connect", Err: err}
	}

	b.mu.Lock()
	b.state = StateConnected
	b.info = info
	b.lastErr = ""
	b.stats.ConnectedAt = time.Now()
	startLoop := b.bgCancel == nil
	var bgCtx context.Context
	if startLoop {
		bgCtx, b.bgCancel = context.WithCancel(context.Background())
	}
	b.mu.Unlock()

	b.log.Info(ctx, "adapter connected")
	b.emit(model.EventAdapterConnected, nil)

	if startLoop {
		b.bgWg.Add(1)
		go b.healthLoop(bgCtx)
	}
	return nil
}

// Disconnect tears the adapter down: the health loop is cancelled and
// awaited before the transport is closed, so no background probe ever
// touches a closed resource. Disconnecting an already-disconnected adapter
// is a no-op.
func (b *base) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateDisconnected {
		b.mu.Unlock()
		return nil
	}
	cancel := b.bgCancel
	b.bgCancel = nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		b.bgWg.Wait()
	}

	err := b.t.close()

	b.mu.Lock()
	b.state = StateDisconnected
	b.info = nil
	b.mu.Unlock()

	b.log.Info(ctx, "adapter disconnected")
	b.emit(model.EventAdapterDisconnected, nil)
	return err
}

// healthLoop periodically probes the transport while Connected and, when
// auto-reconnect is enabled, retries with a fixed delay after the adapter
// drops to Error. The loop is bounded only by adapter shutdown.
func (b *base) healthLoop(ctx context.Context) {
	defer b.bgWg.Done()

	ticker := time.NewTicker(b.common.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		switch b.State() {
		case StateConnected:
			if err := b.t.check(); err != nil {
				b.log.Warn(ctx, "health check failed", logging.Any("error", err))
				b.markError(err)
			}
		case StateError:
			if !b.common.AutoReconnect {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.common.ReconnectDelay):
			}
			b.tryReconnect(ctx)
		}
	}
}

func (b *base) tryReconnect(ctx context.Context) {
	b.mu.Lock()
	if b.state != StateError {
		b.mu.Unlock()
		return
	}
	b.state = StateConnecting
	b.mu.Unlock()

	info, err := b.t.open(ctx)
	b.mu.Lock()
	if err != nil {
		b.state = StateError
		b.lastErr = err.Error()
		b.mu.Unlock()
		b.log.Warn(ctx, "reconnect attempt failed", logging.Any("error", err))
		return
	}
	b.state = StateConnected
	b.info = info
	b.lastErr = ""
	b.stats.ConnectedAt = time.Now()
	b.mu.Unlock()

	b.log.Info(ctx, "adapter reconnected")
	b.emit(model.EventAdapterConnected, nil)
}

// markError downgrades Connected -> Error and releases the transport
// resource. Called from the health loop and from transports that detect an
// unexpected close mid-operation.
func (b *base) markError(err error) {
	b.mu.Lock()
	if b.state != StateConnected && b.state != StateConnecting {
		b.mu.Unlock()
		return
	}
	b.state = StateError
	b.lastErr = err.Error()
	b.stats.Errors++
	b.mu.Unlock()

	_ = b.t.close()
	b.emitError(err)
}

// requireConnected gates Write/Read; any other state yields a
// TransmissionError before the transport is touched.
func (b *base) requireConnected(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateConnected {
		return newTransmissionError(b.id, op, fmt.Errorf("%w (state %s)", ErrNotConnected, b.state))
	}
	return nil
}

// checkPayload enforces a transport's physical frame or block limit.
func (b *base) checkPayload(op string, size, limit int) error {
	if limit > 0 && size > limit {
		return newTransmissionError(b.id, op,
			fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, size, limit))
	}
	return nil
}

func (b *base) noteWrite(n int) {
	b.mu.Lock()
	b.stats.PacketsSent++
	b.stats.BytesSent += uint64(n)
	b.stats.LastActivity = time.Now()
	b.mu.Unlock()
	if b.rec != nil {
		b.rec.RecordPacket(string(b.proto), "tx", n)
	}
}

func (b *base) noteRead(n int) {
	b.mu.Lock()
	b.stats.PacketsReceived++
	b.stats.BytesReceived += uint64(n)
	b.stats.LastActivity = time.Now()
	b.mu.Unlock()
	if b.rec != nil {
		b.rec.RecordPacket(string(b.proto), "rx", n)
	}
}

func (b *base) readTimeout(opts ReadOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return b.common.DefaultReadTimeout
}

func (b *base) emit(eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["protocol"] = string(b.proto)
	b.events.Emit(model.Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Source:    b.id,
		Data:      data,
	})
}

func (b *base) emitError(err error) {
	b.emit(model.EventAdapterError, map[string]any{"error": err.Error()})
	if b.rec != nil {
		b.rec.RecordAdapterError(string(b.proto))
	}
}

// emitData publishes an inbound packet to data_received subscribers.
func (b *base) emitData(pkt *model.DataPacket) {
	b.emit(model.EventDataReceived, map[string]any{
		"bytes": len(pkt.Payload),
	})
}

package hal

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// MockResponse is one scripted request->response pair on a mock device.
type MockResponse struct {
	Response []byte
	Delay    time.Duration
}

// AutoResponse is an unsolicited payload a mock device emits periodically
// while the adapter is connected.
type AutoResponse struct {
	Payload []byte
	Period  time.Duration
}

// MockDevice is one simulated endpoint behind a MockAdapter. The
// simulation engine scripts responses and injects telemetry through it;
// tests drive it directly.
type MockDevice struct {
	ID string

	mu        sync.Mutex
	responses map[string]MockResponse
	autos     []AutoResponse
	onWrite   func([]byte)
}

// NewMockDevice builds an empty simulated device.
func NewMockDevice(id string) *MockDevice {
	return &MockDevice{
		ID:        id,
		responses: make(map[string]MockResponse),
	}
}

// ScriptResponse registers the exact response for the exact request bytes.
// Re-scripting the same request replaces the previous pair.
func (d *MockDevice) ScriptResponse(request, response []byte, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[string(request)] = MockResponse{
		Response: append([]byte(nil), response...),
		Delay:    delay,
	}
}

// AddAutoResponse registers a periodic unsolicited payload.
func (d *MockDevice) AddAutoResponse(payload []byte, period time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autos = append(d.autos, AutoResponse{
		Payload: append([]byte(nil), payload...),
		Period:  period,
	})
}

// OnWrite installs a hook invoked with every payload written to this
// device. The simulation engine uses it to observe actuator set-points.
func (d *MockDevice) OnWrite(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onWrite = fn
}

func (d *MockDevice) lookup(request []byte) (MockResponse, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resp, ok := d.responses[string(request)]
	return resp, ok
}

func (d *MockDevice) notifyWrite(payload []byte) {
	d.mu.Lock()
	fn := d.onWrite
	d.mu.Unlock()
	if fn != nil {
		fn(append([]byte(nil), payload...))
	}
}

func (d *MockDevice) autoResponses() []AutoResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AutoResponse(nil), d.autos...)
}

// MockAdapter is the simulated transport the simulation engine drives. It
// honors the full adapter contract: scripted request->response exchange,
// periodic auto-responses, failure/latency/loss/bandwidth injection,
// fragmentation of oversized responses, and a connection-loss fault that
// the health loop observes like a real dead link.
type MockAdapter struct {
	*base
	cfg MockConfig

	mu       sync.Mutex
	devices  map[string]*MockDevice
	linkDown bool
	rng      *rand.Rand

	queue *packetQueue

	autoCancel context.CancelFunc
	autoWg     sync.WaitGroup
}

// NewMockAdapter builds a mock adapter from a validated config.
func NewMockAdapter(id string, cfg MockConfig, log logging.Logger) *MockAdapter {
	a := &MockAdapter{
		cfg:     cfg,
		devices: make(map[string]*MockDevice),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	a.base = newBase(id, model.ProtocolMock, cfg.CommonConfig, a, log)
	a.queue = newPacketQueue(a.common.ReadQueueSize, a.log)
	return a
}

func (a *MockAdapter) open(_ context.Context) (map[string]any, error) {
	a.mu.Lock()
	if a.cfg.ConnectFailure {
		a.mu.Unlock()
		return nil, fmt.Errorf("simulated connect failure")
	}
	if a.linkDown {
		a.mu.Unlock()
		return nil, fmt.Errorf("simulated link down")
	}
	devices := len(a.devices)
	var autoCtx context.Context
	autoCtx, a.autoCancel = context.WithCancel(context.Background())
	a.mu.Unlock()

	a.startAutoResponders(autoCtx)

	return map[string]any{
		"name":    a.cfg.Name,
		"devices": devices,
	}, nil
}

func (a *MockAdapter) close() error {
	a.mu.Lock()
	cancel := a.autoCancel
	a.autoCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		a.autoWg.Wait()
	}
	a.queue.Drain()
	return nil
}

// check fails while a simulated link loss is active, downgrading the
// adapter to Error within one health-check interval.
func (a *MockAdapter) check() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.linkDown {
		return fmt.Errorf("simulated link loss")
	}
	return nil
}

// AddDevice attaches a simulated device; its auto-responses start on the
// next connect. Adding the same ID replaces the previous device.
func (a *MockAdapter) AddDevice(d *MockDevice) {
	if d == nil {
		return
	}
	a.mu.Lock()
	a.devices[d.ID] = d
	a.mu.Unlock()
}

// RemoveDevice detaches a simulated device; unknown IDs are a no-op.
func (a *MockAdapter) RemoveDevice(id string) {
	a.mu.Lock()
	delete(a.devices, id)
	a.mu.Unlock()
}

// Device returns an attached device by ID.
func (a *MockAdapter) Device(id string) (*MockDevice, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[id]
	return d, ok
}

// InjectConnectionLoss simulates the link dying. The health loop observes
// it on its next tick and transitions Connected -> Error; with
// auto-reconnect enabled the adapter recovers after RestoreLink.
func (a *MockAdapter) InjectConnectionLoss() {
	a.mu.Lock()
	a.linkDown = true
	a.mu.Unlock()
	a.emit(model.EventFaultInjected, map[string]any{"fault": "connection_loss"})
}

// RestoreLink clears a simulated link loss.
func (a *MockAdapter) RestoreLink() {
	a.mu.Lock()
	a.linkDown = false
	a.mu.Unlock()
}

// InjectPacket pushes an unsolicited inbound packet attributed to the
// given device, as if the hardware had spontaneously transmitted. This is
// the simulation engine's telemetry path.
func (a *MockAdapter) InjectPacket(deviceID string, payload []byte) bool {
	a.mu.Lock()
	down := a.linkDown
	a.mu.Unlock()
	if down {
		return false
	}
	pkt := model.NewPacket(model.DirectionRX, payload).
		WithMeta(model.MetaMockDeviceID, deviceID)
	if !a.queue.Push(pkt) {
		return false
	}
	a.noteRead(len(payload))
	a.emitData(pkt)
	return true
}

// Write routes the payload to the targeted device (mock_device_id
// metadata, defaulting to the sole attached device), applies failure and
// bandwidth injection, and schedules any scripted response after its
// configured delay. Requests with no scripted match produce no response.
func (a *MockAdapter) Write(ctx context.Context, pkt *model.DataPacket) error {
	if err := a.requireConnected("write"); err != nil {
		return err
	}

	a.mu.Lock()
	if a.linkDown {
		a.mu.Unlock()
		return newTransmissionError(a.id, "write", fmt.Errorf("simulated link loss"))
	}
	if a.cfg.FailureRate > 0 && a.rng.Float64() < a.cfg.FailureRate {
		a.mu.Unlock()
		return newTransmissionError(a.id, "write", fmt.Errorf("simulated transmission fault"))
	}
	target := a.resolveDeviceLocked(pkt)
	a.mu.Unlock()

	if bw := a.cfg.BandwidthBPS; bw > 0 {
		delay := time.Duration(float64(len(pkt.Payload)) / float64(bw) * float64(time.Second))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return newTransmissionError(a.id, "write", ctx.Err())
		}
	}

	a.noteWrite(len(pkt.Payload))

	if target == nil {
		return nil
	}
	target.notifyWrite(pkt.Payload)

	if resp, ok := target.lookup(pkt.Payload); ok {
		a.scheduleResponse(target.ID, resp)
	}
	return nil
}

func (a *MockAdapter) resolveDeviceLocked(pkt *model.DataPacket) *MockDevice {
	if id, ok := pkt.MetaString(model.MetaMockDeviceID); ok {
		return a.devices[id]
	}
	if len(a.devices) == 1 {
		for _, d := range a.devices {
			return d
		}
	}
	return nil
}

// scheduleResponse delivers a scripted response after its delay, passing
// the packet-loss gate and fragmenting oversized payloads into MTU-sized
// inbound packets with fragment metadata.
func (a *MockAdapter) scheduleResponse(deviceID string, resp MockResponse) {
	delay := resp.Delay + a.cfg.ResponseDelay
	deliver := func() {
		a.mu.Lock()
		lost := a.cfg.PacketLossRate > 0 && a.rng.Float64() < a.cfg.PacketLossRate
		a.mu.Unlock()
		if lost {
			return
		}
		for _, pkt := range a.fragment(deviceID, resp.Response) {
			if a.queue.Push(pkt) {
				a.noteRead(len(pkt.Payload))
				a.emitData(pkt)
			}
		}
	}
	if delay <= 0 {
		deliver()
		return
	}
	time.AfterFunc(delay, deliver)
}

func (a *MockAdapter) fragment(deviceID string, payload []byte) []*model.DataPacket {
	mtu := a.cfg.MTU
	if mtu <= 0 || len(payload) <= mtu {
		return []*model.DataPacket{
			model.NewPacket(model.DirectionRX, payload).
				WithMeta(model.MetaMockDeviceID, deviceID),
		}
	}
	total := (len(payload) + mtu - 1) / mtu
	out := make([]*model.DataPacket, 0, total)
	for i := 0; i < total; i++ {
		start := i * mtu
		end := start + mtu
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, model.NewPacket(model.DirectionRX, payload[start:end]).
			WithMeta(model.MetaMockDeviceID, deviceID).
			WithMeta(model.MetaFragment, i).
			WithMeta(model.MetaFragmentTotal, total))
	}
	return out
}

// Read pops the oldest inbound packet, waiting up to the timeout.
func (a *MockAdapter) Read(ctx context.Context, opts ReadOptions) (*model.DataPacket, error) {
	if err := a.requireConnected("read"); err != nil {
		return nil, err
	}
	pkt, err := a.queue.Pop(ctx, a.readTimeout(opts))
	if err != nil {
		return nil, newTransmissionError(a.id, "read", err)
	}
	return pkt, nil
}

// startAutoResponders launches one goroutine per device auto-response for
// the lifetime of the connection.
func (a *MockAdapter) startAutoResponders(ctx context.Context) {
	a.mu.Lock()
	devices := make([]*MockDevice, 0, len(a.devices))
	for _, d := range a.devices {
		devices = append(devices, d)
	}
	a.mu.Unlock()

	for _, d := range devices {
		for _, auto := range d.autoResponses() {
			if auto.Period <= 0 {
				continue
			}
			a.autoWg.Add(1)
			go func(deviceID string, auto AutoResponse) {
				defer a.autoWg.Done()
				ticker := time.NewTicker(auto.Period)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						a.InjectPacket(deviceID, auto.Payload)
					}
				}
			}(d.ID, auto)
		}
	}
}

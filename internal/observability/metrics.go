package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HALCollector bundles Prometheus metrics for the hardware-abstraction
// layer and the simulation core. It satisfies the recorder interfaces the
// domain packages accept, so none of them imports prometheus directly.
type HALCollector struct {
	gatherer prometheus.Gatherer

	Packets       *prometheus.CounterVec
	PacketBytes   *prometheus.CounterVec
	AdapterErrors *prometheus.CounterVec
	LiveAdapters  prometheus.Gauge

	DiscoveryScans    *prometheus.CounterVec
	DiscoveryScanTime *prometheus.HistogramVec
	DiscoveredDevices prometheus.Gauge

	SimDevices    prometheus.Gauge
	SimTicks      prometheus.Counter
	DroppedEvents prometheus.Counter

	NetPackets   *prometheus.CounterVec
	NetLatency   prometheus.Histogram
	NetLinkDrops prometheus.Counter
}

// NewHALCollector registers the collector's metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Re-registration reuses existing collectors of the same shape.
func NewHALCollector(reg prometheus.Registerer) (*HALCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	packets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hal_packets_total",
		Help: "Packets moved through adapters, labeled by protocol and direction.",
	}, []string{"protocol", "direction"}), "hal_packets_total")
	if err != nil {
		return nil, err
	}
	packetBytes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hal_packet_bytes_total",
		Help: "Payload bytes moved through adapters, labeled by protocol and direction.",
	}, []string{"protocol", "direction"}), "hal_packet_bytes_total")
	if err != nil {
		return nil, err
	}
	adapterErrors, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hal_adapter_errors_total",
		Help: "Adapter error transitions, labeled by protocol.",
	}, []string{"protocol"}), "hal_adapter_errors_total")
	if err != nil {
		return nil, err
	}
	liveAdapters, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hal_live_adapters",
		Help: "Current number of adapters in the registry.",
	}), "hal_live_adapters")
	if err != nil {
		return nil, err
	}

	scans, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_scans_total",
		Help: "Completed discovery scans, labeled by protocol and outcome.",
	}, []string{"protocol", "outcome"}), "discovery_scans_total")
	if err != nil {
		return nil, err
	}
	scanTime, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discovery_scan_duration_seconds",
		Help:    "Discovery scan latency in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"protocol"}), "discovery_scan_duration_seconds")
	if err != nil {
		return nil, err
	}
	discovered, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "discovery_candidates",
		Help: "Current number of discovery candidates in the cache.",
	}), "discovery_candidates")
	if err != nil {
		return nil, err
	}

	simDevices, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_devices",
		Help: "Current number of simulated devices.",
	}), "sim_devices")
	if err != nil {
		return nil, err
	}
	simTicks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Simulation loop ticks executed.",
	}), "sim_ticks_total")
	if err != nil {
		return nil, err
	}
	droppedEvents, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_dropped_events_total",
		Help: "Events dropped because the engine event queue was full.",
	}), "sim_dropped_events_total")
	if err != nil {
		return nil, err
	}

	netPackets, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netsim_packets_total",
		Help: "Network-simulator packet outcomes, labeled by link and outcome.",
	}, []string{"link", "outcome"}), "netsim_packets_total")
	if err != nil {
		return nil, err
	}
	netLatency, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "netsim_delivery_latency_seconds",
		Help:    "Simulated delivery latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}), "netsim_delivery_latency_seconds")
	if err != nil {
		return nil, err
	}
	linkDrops, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netsim_link_drops_total",
		Help: "Whole-connection drops injected by the network simulator.",
	}), "netsim_link_drops_total")
	if err != nil {
		return nil, err
	}

	return &HALCollector{
		gatherer:          gatherer,
		Packets:           packets,
		PacketBytes:       packetBytes,
		AdapterErrors:     adapterErrors,
		LiveAdapters:      liveAdapters,
		DiscoveryScans:    scans,
		DiscoveryScanTime: scanTime,
		DiscoveredDevices: discovered,
		SimDevices:        simDevices,
		SimTicks:          simTicks,
		DroppedEvents:     droppedEvents,
		NetPackets:        netPackets,
		NetLatency:        netLatency,
		NetLinkDrops:      linkDrops,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HALCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordPacket satisfies hal.MetricsRecorder.
func (c *HALCollector) RecordPacket(protocol, direction string, bytes int) {
	if c == nil {
		return
	}
	c.Packets.WithLabelValues(protocol, direction).Inc()
	c.PacketBytes.WithLabelValues(protocol, direction).Add(float64(bytes))
}

// RecordAdapterError satisfies hal.MetricsRecorder.
func (c *HALCollector) RecordAdapterError(protocol string) {
	if c == nil {
		return
	}
	c.AdapterErrors.WithLabelValues(protocol).Inc()
}

// SetLiveAdapters satisfies hal.MetricsRecorder.
func (c *HALCollector) SetLiveAdapters(count int) {
	if c == nil {
		return
	}
	c.LiveAdapters.Set(float64(count))
}

// RecordScan satisfies discovery.MetricsRecorder.
func (c *HALCollector) RecordScan(protocol, outcome string, seconds float64) {
	if c == nil {
		return
	}
	c.DiscoveryScans.WithLabelValues(protocol, outcome).Inc()
	c.DiscoveryScanTime.WithLabelValues(protocol).Observe(seconds)
}

// SetCandidates satisfies discovery.MetricsRecorder.
func (c *HALCollector) SetCandidates(count int) {
	if c == nil {
		return
	}
	c.DiscoveredDevices.Set(float64(count))
}

// SetSimDevices satisfies sim.MetricsRecorder.
func (c *HALCollector) SetSimDevices(count int) {
	if c == nil {
		return
	}
	c.SimDevices.Set(float64(count))
}

// RecordTick satisfies sim.MetricsRecorder.
func (c *HALCollector) RecordTick() {
	if c == nil {
		return
	}
	c.SimTicks.Inc()
}

// RecordDroppedEvent satisfies sim.MetricsRecorder.
func (c *HALCollector) RecordDroppedEvent() {
	if c == nil {
		return
	}
	c.DroppedEvents.Inc()
}

// RecordNetPacket satisfies netsim.MetricsRecorder.
func (c *HALCollector) RecordNetPacket(link, outcome string) {
	if c == nil {
		return
	}
	c.NetPackets.WithLabelValues(link, outcome).Inc()
}

// RecordNetLatency satisfies netsim.MetricsRecorder.
func (c *HALCollector) RecordNetLatency(seconds float64) {
	if c == nil {
		return
	}
	c.NetLatency.Observe(seconds)
}

// RecordLinkDrop satisfies netsim.MetricsRecorder.
func (c *HALCollector) RecordLinkDrop() {
	if c == nil {
		return
	}
	c.NetLinkDrops.Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

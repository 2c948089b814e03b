// Package discovery probes the transports for attached hardware and keeps a
// cache of identification candidates. Candidates are guesses with a
// confidence score; they become real devices only when a caller promotes
// them through the hardware manager.
package discovery

import (
	"context"

	"github.com/wtyler2505/roverhal/model"
)

// Confidence levels assigned by the scanners. A merge never lowers the
// stored confidence, so repeated weak sightings cannot erase a strong one.
const (
	ConfidenceReadBack    = 0.95 // device answered an identification probe
	ConfidenceDescription = 0.85 // port/product description matched a pattern
	ConfidenceVendor      = 0.70 // VID/PID match only
	ConfidenceAddress     = 0.50 // address or chip select present, nothing else
)

// Scanner probes one transport family for candidate devices. Implementations
// must be safe to call repeatedly and must honour ctx cancellation.
type Scanner interface {
	Protocol() model.Protocol
	Scan(ctx context.Context) ([]*model.DiscoveredDevice, error)
}

// HardwareManager is the external collaborator that owns registered devices.
// The engine hands promoted candidates to it and keeps none of the results.
type HardwareManager interface {
	RegisterDevice(ctx context.Context, dev *model.HardwareDevice) error
}

// MetricsRecorder receives discovery metrics. A nil recorder disables
// recording without any conditional logic at call sites.
type MetricsRecorder interface {
	RecordScan(protocol, outcome string, seconds float64)
	SetCandidates(count int)
}

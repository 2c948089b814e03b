package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
	"go.einride.tech/can/pkg/socketcan"
)

const defaultSniffWindow = 2 * time.Second

// CANScanner passively sniffs the bus for a short window and classifies the
// arbitration ids it sees against the range table. It never transmits.
type CANScanner struct {
	log    logging.Logger
	iface  string
	window time.Duration

	// sniff swapped in tests; returns the distinct arbitration ids seen.
	sniff func(ctx context.Context) ([]uint32, error)
}

// NewCANScanner builds a scanner for the named interface (e.g. "can0").
func NewCANScanner(log logging.Logger, iface string, window time.Duration) *CANScanner {
	if log == nil {
		log = logging.Noop()
	}
	if window <= 0 {
		window = defaultSniffWindow
	}
	s := &CANScanner{log: log, iface: iface, window: window}
	s.sniff = s.sniffHardware
	return s
}

func (s *CANScanner) Protocol() model.Protocol { return model.ProtocolCAN }

// Scan sniffs for the configured window and returns one candidate per
// distinct arbitration id that falls into a known range.
func (s *CANScanner) Scan(ctx context.Context) ([]*model.DiscoveredDevice, error) {
	ids, err := s.sniff(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var found []*model.DiscoveredDevice
	for _, id := range ids {
		r, ok := classifyCANID(id)
		name := fmt.Sprintf("CAN node 0x%03x", id)
		class := model.ClassUnknown
		confidence := ConfidenceAddress
		if ok {
			name = fmt.Sprintf("%s 0x%03x", r.Name, id)
			class = r.Class
			confidence = ConfidenceVendor
		}
		found = append(found, &model.DiscoveredDevice{
			ID:         fmt.Sprintf("can:%s:0x%03x", s.iface, id),
			Name:       name,
			Protocol:   model.ProtocolCAN,
			Address:    fmt.Sprintf("0x%03x", id),
			Class:      class,
			Confidence: confidence,
			FirstSeen:  now,
			LastSeen:   now,
			Metadata:   map[string]string{"interface": s.iface},
		})
	}
	return found, nil
}

func (s *CANScanner) sniffHardware(ctx context.Context) ([]uint32, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.window)
	defer cancel()

	conn, err := socketcan.DialContext(dialCtx, "can", s.iface)
	if err != nil {
		return nil, fmt.Errorf("open can interface %s: %w", s.iface, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.window)
	_ = conn.SetReadDeadline(deadline)

	recv := socketcan.NewReceiver(conn)
	seen := make(map[uint32]struct{})
	for time.Now().Before(deadline) && ctx.Err() == nil {
		if !recv.Receive() {
			break
		}
		frame := recv.Frame()
		seen[frame.ID] = struct{}{}
	}

	ids := make([]uint32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

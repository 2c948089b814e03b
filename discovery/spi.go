package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// SPIDeclaration names one device expected on a chip select. SPI has no
// in-band enumeration, so discovery here is declaration driven: the scanner
// reports exactly what the wiring description claims, at low confidence.
type SPIDeclaration struct {
	ChipSelect string            `yaml:"chip_select" json:"chip_select"`
	Name       string            `yaml:"name" json:"name"`
	Class      model.DeviceClass `yaml:"class" json:"class"`
}

// SPIScanner turns pre-declared chip selects into candidates.
type SPIScanner struct {
	log   logging.Logger
	decls []SPIDeclaration
}

// NewSPIScanner builds a scanner from the wiring declarations.
func NewSPIScanner(log logging.Logger, decls []SPIDeclaration) *SPIScanner {
	if log == nil {
		log = logging.Noop()
	}
	return &SPIScanner{log: log, decls: append([]SPIDeclaration(nil), decls...)}
}

func (s *SPIScanner) Protocol() model.Protocol { return model.ProtocolSPI }

// Scan reports one candidate per declaration. No transport is touched.
func (s *SPIScanner) Scan(ctx context.Context) ([]*model.DiscoveredDevice, error) {
	now := time.Now().UTC()
	var found []*model.DiscoveredDevice
	for _, d := range s.decls {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if d.ChipSelect == "" {
			continue
		}
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("spi device %s", d.ChipSelect)
		}
		class := d.Class
		if class == "" {
			class = model.ClassUnknown
		}
		found = append(found, &model.DiscoveredDevice{
			ID:         "spi:" + d.ChipSelect,
			Name:       name,
			Protocol:   model.ProtocolSPI,
			Address:    d.ChipSelect,
			Class:      class,
			Confidence: ConfidenceAddress,
			FirstSeen:  now,
			LastSeen:   now,
			Metadata:   map[string]string{"declared": "true"},
		})
	}
	return found, nil
}

package hal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/wtyler2505/roverhal/internal/logging"
	"github.com/wtyler2505/roverhal/model"
)

// Factory builds adapters from typed configuration. Config/type mismatch
// or an unknown protocol fails with a ConfigurationError before any I/O.
type Factory struct {
	log      logging.Logger
	registry *Registry
	rec      MetricsRecorder
}

// FactoryOption customises Factory construction.
type FactoryOption func(*Factory)

// WithFactoryMetrics attaches a metrics recorder propagated to every
// adapter the factory builds.
func WithFactoryMetrics(rec MetricsRecorder) FactoryOption {
	return func(f *Factory) { f.rec = rec }
}

// NewFactory builds a factory. A non-nil registry makes CreateAdapter
// register every instance it constructs.
func NewFactory(registry *Registry, log logging.Logger, opts ...FactoryOption) *Factory {
	if log == nil {
		log = logging.Noop()
	}
	f := &Factory{log: log, registry: registry}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// CreateConfig builds the typed config for a protocol from loosely-typed
// parameters (as delivered by an external API caller). Unknown protocols
// and unknown or ill-typed fields fail before construction.
func (f *Factory) CreateConfig(proto model.Protocol, params map[string]any) (Config, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, newConfigError(proto, "", "unencodable parameters: %v", err)
	}

	decode := func(dst any) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		return dec.Decode(dst)
	}

	var cfg Config
	switch proto {
	case model.ProtocolSerial:
		var c SerialConfig
		if err := decode(&c); err != nil {
			return nil, newConfigError(proto, "", "%v", err)
		}
		cfg = c
	case model.ProtocolI2C:
		var c I2CConfig
		if err := decode(&c); err != nil {
			return nil, newConfigError(proto, "", "%v", err)
		}
		cfg = c
	case model.ProtocolSPI:
		var c SPIConfig
		if err := decode(&c); err != nil {
			return nil, newConfigError(proto, "", "%v", err)
		}
		cfg = c
	case model.ProtocolCAN:
		var c CANConfig
		if err := decode(&c); err != nil {
			return nil, newConfigError(proto, "", "%v", err)
		}
		cfg = c
	case model.ProtocolEthernet:
		var c EthernetConfig
		if err := decode(&c); err != nil {
			return nil, newConfigError(proto, "", "%v", err)
		}
		cfg = c
	case model.ProtocolMock:
		var c MockConfig
		if err := decode(&c); err != nil {
			return nil, newConfigError(proto, "", "%v", err)
		}
		cfg = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, proto)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AdapterOption customises a single CreateAdapter call.
type AdapterOption func(*adapterOptions)

type adapterOptions struct {
	id string
}

// WithAdapterID pins the adapter ID instead of generating one.
func WithAdapterID(id string) AdapterOption {
	return func(o *adapterOptions) { o.id = id }
}

// CreateAdapter validates cfg, constructs the matching transport adapter,
// and registers it when the factory carries a registry. The concrete
// config type is the protocol tag; there is no runtime duck-typing.
func (f *Factory) CreateAdapter(cfg Config, opts ...AdapterOption) (Adapter, error) {
	if cfg == nil {
		return nil, &ConfigurationError{Reason: "nil config"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o adapterOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	id := o.id
	if id == "" {
		id = fmt.Sprintf("%s-%s", cfg.Protocol(), uuid.NewString()[:8])
	}

	var a Adapter
	switch c := cfg.(type) {
	case SerialConfig:
		a = NewSerialAdapter(id, c, f.log)
	case I2CConfig:
		a = NewI2CAdapter(id, c, f.log)
	case SPIConfig:
		a = NewSPIAdapter(id, c, f.log)
	case CANConfig:
		a = NewCANAdapter(id, c, f.log)
	case EthernetConfig:
		a = NewEthernetAdapter(id, c, f.log)
	case MockConfig:
		a = NewMockAdapter(id, c, f.log)
	default:
		return nil, fmt.Errorf("%w: config type %T", ErrUnknownProtocol, cfg)
	}

	if f.rec != nil {
		if withMetrics, ok := a.(interface{ setMetrics(MetricsRecorder) }); ok {
			withMetrics.setMetrics(f.rec)
		}
	}

	if f.registry != nil {
		if err := f.registry.Register(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

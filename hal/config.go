package hal

import (
	"time"

	"github.com/wtyler2505/roverhal/model"
)

// Physical payload limits per transport.
const (
	MaxCANClassicPayload = 8
	MaxCANFDPayload      = 64
	MaxI2CBlock          = 32
	MaxSPIBlock          = 32
)

// Config is the typed, immutable connection configuration for one adapter.
// Validate is called by the factory before any I/O; a failed validation is
// a ConfigurationError and is never retried.
type Config interface {
	Protocol() model.Protocol
	Validate() error
}

// CommonConfig carries the knobs every transport shares. Zero values are
// replaced with defaults at adapter construction.
type CommonConfig struct {
	// AutoReconnect enables the fixed-delay reconnect loop after an
	// asynchronous health-check failure.
	AutoReconnect  bool          `yaml:"auto_reconnect" json:"auto_reconnect"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`

	// HealthCheckInterval paces the background liveness probe.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// ReadQueueSize bounds the inbound packet queue for packet-style
	// transports.
	ReadQueueSize int `yaml:"read_queue_size" json:"read_queue_size"`

	// DefaultReadTimeout applies when a Read carries no explicit timeout.
	DefaultReadTimeout time.Duration `yaml:"default_read_timeout" json:"default_read_timeout"`
}

const (
	defaultReconnectDelay      = 2 * time.Second
	defaultHealthCheckInterval = 5 * time.Second
	defaultReadTimeout         = 1 * time.Second
)

func (c CommonConfig) withDefaults() CommonConfig {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaultHealthCheckInterval
	}
	if c.ReadQueueSize <= 0 {
		c.ReadQueueSize = defaultQueueSize
	}
	if c.DefaultReadTimeout <= 0 {
		c.DefaultReadTimeout = defaultReadTimeout
	}
	return c
}

// SerialConfig configures a UART/serial adapter.
type SerialConfig struct {
	CommonConfig `yaml:",inline"`

	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baud_rate" json:"baud_rate"`
	DataBits int    `yaml:"data_bits" json:"data_bits"`
	// Parity is one of "none", "odd", "even".
	Parity string `yaml:"parity" json:"parity"`
	// StopBits is 1, 1.5 or 2.
	StopBits float64 `yaml:"stop_bits" json:"stop_bits"`
}

func (c SerialConfig) Protocol() model.Protocol { return model.ProtocolSerial }

func (c SerialConfig) Validate() error {
	if c.Port == "" {
		return newConfigError(model.ProtocolSerial, "port", "must not be empty")
	}
	if c.BaudRate <= 0 {
		return newConfigError(model.ProtocolSerial, "baud_rate", "must be positive, got %d", c.BaudRate)
	}
	switch c.DataBits {
	case 0, 5, 6, 7, 8:
	default:
		return newConfigError(model.ProtocolSerial, "data_bits", "must be 5-8, got %d", c.DataBits)
	}
	switch c.Parity {
	case "", "none", "odd", "even":
	default:
		return newConfigError(model.ProtocolSerial, "parity", "must be none/odd/even, got %q", c.Parity)
	}
	switch c.StopBits {
	case 0, 1, 1.5, 2:
	default:
		return newConfigError(model.ProtocolSerial, "stop_bits", "must be 1, 1.5 or 2, got %v", c.StopBits)
	}
	return nil
}

// I2CConfig configures an I2C bus adapter bound to a single 7-bit device
// address.
type I2CConfig struct {
	CommonConfig `yaml:",inline"`

	// Bus is a periph bus reference, e.g. "/dev/i2c-1" or "1".
	Bus     string `yaml:"bus" json:"bus"`
	Address uint16 `yaml:"address" json:"address"`
}

func (c I2CConfig) Protocol() model.Protocol { return model.ProtocolI2C }

func (c I2CConfig) Validate() error {
	if c.Bus == "" {
		return newConfigError(model.ProtocolI2C, "bus", "must not be empty")
	}
	// 7-bit addressing; 0x00-0x07 and 0x78-0x7f are reserved.
	if c.Address < 0x08 || c.Address > 0x77 {
		return newConfigError(model.ProtocolI2C, "address", "must be a 7-bit address in [0x08,0x77], got %#02x", c.Address)
	}
	return nil
}

// SPIConfig configures an SPI port adapter.
type SPIConfig struct {
	CommonConfig `yaml:",inline"`

	// Port is a periph port reference, e.g. "/dev/spidev0.0".
	Port    string `yaml:"port" json:"port"`
	Mode    int    `yaml:"mode" json:"mode"`
	SpeedHz int64  `yaml:"speed_hz" json:"speed_hz"`
	// BitOrder is "msb" or "lsb".
	BitOrder   string `yaml:"bit_order" json:"bit_order"`
	BitsPer    int    `yaml:"bits_per_word" json:"bits_per_word"`
	ChipSelect int    `yaml:"chip_select" json:"chip_select"`
}

func (c SPIConfig) Protocol() model.Protocol { return model.ProtocolSPI }

func (c SPIConfig) Validate() error {
	if c.Port == "" {
		return newConfigError(model.ProtocolSPI, "port", "must not be empty")
	}
	if c.Mode < 0 || c.Mode > 3 {
		return newConfigError(model.ProtocolSPI, "mode", "must be 0-3, got %d", c.Mode)
	}
	if c.SpeedHz <= 0 {
		return newConfigError(model.ProtocolSPI, "speed_hz", "must be positive, got %d", c.SpeedHz)
	}
	switch c.BitOrder {
	case "", "msb", "lsb":
	default:
		return newConfigError(model.ProtocolSPI, "bit_order", "must be msb or lsb, got %q", c.BitOrder)
	}
	if c.ChipSelect < 0 {
		return newConfigError(model.ProtocolSPI, "chip_select", "must be non-negative, got %d", c.ChipSelect)
	}
	return nil
}

// CANConfig configures a SocketCAN adapter.
type CANConfig struct {
	CommonConfig `yaml:",inline"`

	// Interface is the SocketCAN network interface, e.g. "can0", "vcan0".
	Interface string `yaml:"interface" json:"interface"`
	Bitrate   int    `yaml:"bitrate" json:"bitrate"`
	// FD raises the payload limit from 8 to 64 bytes.
	FD bool `yaml:"fd" json:"fd"`
	// Filters restricts reception to the listed arbitration IDs; empty
	// receives everything.
	Filters []uint32 `yaml:"filters" json:"filters"`
}

func (c CANConfig) Protocol() model.Protocol { return model.ProtocolCAN }

// MaxPayload is the physical frame limit for this configuration.
func (c CANConfig) MaxPayload() int {
	if c.FD {
		return MaxCANFDPayload
	}
	return MaxCANClassicPayload
}

func (c CANConfig) Validate() error {
	if c.Interface == "" {
		return newConfigError(model.ProtocolCAN, "interface", "must not be empty")
	}
	if c.Bitrate < 0 {
		return newConfigError(model.ProtocolCAN, "bitrate", "must be non-negative, got %d", c.Bitrate)
	}
	return nil
}

// EthernetConfig configures a TCP or UDP socket adapter.
type EthernetConfig struct {
	CommonConfig `yaml:",inline"`

	// Transport is "tcp" or "udp".
	Transport string `yaml:"transport" json:"transport"`
	// Role is "client" (dial) or "server" (listen).
	Role string `yaml:"role" json:"role"`
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

func (c EthernetConfig) Protocol() model.Protocol { return model.ProtocolEthernet }

func (c EthernetConfig) Validate() error {
	switch c.Transport {
	case "tcp", "udp":
	default:
		return newConfigError(model.ProtocolEthernet, "transport", "must be tcp or udp, got %q", c.Transport)
	}
	switch c.Role {
	case "", "client", "server":
	default:
		return newConfigError(model.ProtocolEthernet, "role", "must be client or server, got %q", c.Role)
	}
	if c.Role != "server" && c.Host == "" {
		return newConfigError(model.ProtocolEthernet, "host", "must not be empty for client role")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return newConfigError(model.ProtocolEthernet, "port", "must be in [1,65535], got %d", c.Port)
	}
	return nil
}

// MockConfig configures the simulated transport that backs the simulation
// engine and tests.
type MockConfig struct {
	CommonConfig `yaml:",inline"`

	// Name labels the adapter in logs and metadata.
	Name string `yaml:"name" json:"name"`

	// Injection knobs applied on top of per-device scripting.
	FailureRate    float64       `yaml:"failure_rate" json:"failure_rate"`
	PacketLossRate float64       `yaml:"packet_loss_rate" json:"packet_loss_rate"`
	ResponseDelay  time.Duration `yaml:"response_delay" json:"response_delay"`
	// BandwidthBPS throttles simulated throughput; zero is unlimited.
	BandwidthBPS int `yaml:"bandwidth_bps" json:"bandwidth_bps"`
	// MTU fragments responses larger than this; zero disables
	// fragmentation.
	MTU int `yaml:"mtu" json:"mtu"`

	// ConnectFailure makes Connect fail, for exercising error paths.
	ConnectFailure bool `yaml:"connect_failure" json:"connect_failure"`
}

func (c MockConfig) Protocol() model.Protocol { return model.ProtocolMock }

func (c MockConfig) Validate() error {
	if c.FailureRate < 0 || c.FailureRate > 1 {
		return newConfigError(model.ProtocolMock, "failure_rate", "must be in [0,1], got %v", c.FailureRate)
	}
	if c.PacketLossRate < 0 || c.PacketLossRate > 1 {
		return newConfigError(model.ProtocolMock, "packet_loss_rate", "must be in [0,1], got %v", c.PacketLossRate)
	}
	if c.BandwidthBPS < 0 {
		return newConfigError(model.ProtocolMock, "bandwidth_bps", "must be non-negative, got %d", c.BandwidthBPS)
	}
	if c.MTU < 0 {
		return newConfigError(model.ProtocolMock, "mtu", "must be non-negative, got %d", c.MTU)
	}
	return nil
}

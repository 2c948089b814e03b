package discovery

import (
	"strings"

	"github.com/wtyler2505/roverhal/model"
)

// serialPattern fingerprints a USB serial device from enumeration data.
// VID/PID narrow the vendor; the description substring narrows the board.
type serialPattern struct {
	VID         string // uppercase hex, empty matches any
	PID         string
	Description string // case-insensitive substring, empty matches any
	Name        string
	Class       model.DeviceClass
	Probe       string // identification command for read-back, empty disables
}

// Common rover peripherals seen over USB serial. Descriptions come from the
// USB product string, which holds steadier than the port name across hosts.
var serialPatterns = []serialPattern{
	{VID: "2341", PID: "0043", Description: "arduino uno", Name: "Arduino Uno", Class: model.ClassMotorController, Probe: "ID?\n"},
	{VID: "2341", PID: "0042", Description: "arduino mega", Name: "Arduino Mega", Class: model.ClassMotorController, Probe: "ID?\n"},
	{VID: "2341", Description: "arduino", Name: "Arduino", Class: model.ClassMotorController, Probe: "ID?\n"},
	{VID: "10C4", PID: "EA60", Description: "cp210", Name: "CP210x bridge", Class: model.ClassCommunication},
	{VID: "0403", PID: "6001", Description: "ft232", Name: "FT232 bridge", Class: model.ClassCommunication},
	{VID: "1546", Description: "u-blox", Name: "u-blox GNSS", Class: model.ClassGPS, Probe: "$PUBX,00*33\r\n"},
	{VID: "067B", PID: "2303", Description: "pl2303", Name: "PL2303 bridge", Class: model.ClassCommunication},
	{Description: "gps", Name: "NMEA GPS", Class: model.ClassGPS},
	{Description: "lidar", Name: "Serial lidar", Class: model.ClassSensor},
}

// matchSerial returns the best pattern for the port, or nil.
func matchSerial(vid, pid, product string) *serialPattern {
	vid = strings.ToUpper(vid)
	pid = strings.ToUpper(pid)
	product = strings.ToLower(product)

	for i := range serialPatterns {
		p := &serialPatterns[i]
		if p.VID != "" && p.VID != vid {
			continue
		}
		if p.PID != "" && p.PID != pid {
			continue
		}
		if p.Description != "" && !strings.Contains(product, p.Description) {
			continue
		}
		return p
	}
	return nil
}

// serialConfidence grades a pattern match by how specific it was.
func serialConfidence(p *serialPattern) float64 {
	switch {
	case p.Description != "" && p.VID != "":
		return ConfidenceDescription
	case p.VID != "":
		return ConfidenceVendor
	default:
		return ConfidenceAddress
	}
}

// i2cFingerprint classifies a 7-bit address that answered a probe.
type i2cFingerprint struct {
	Name  string
	Class model.DeviceClass
}

// Fixed or factory-default addresses of parts common on rover buses.
var i2cKnownAddresses = map[uint8]i2cFingerprint{
	0x1E: {Name: "HMC5883L magnetometer", Class: model.ClassIMU},
	0x29: {Name: "VL53L0X rangefinder", Class: model.ClassSensor},
	0x40: {Name: "INA219 power monitor", Class: model.ClassPowerManagement},
	0x48: {Name: "ADS1115 ADC", Class: model.ClassSensor},
	0x53: {Name: "ADXL345 accelerometer", Class: model.ClassIMU},
	0x5C: {Name: "AM2320 hygrometer", Class: model.ClassEnvironmental},
	0x68: {Name: "MPU-6050 IMU", Class: model.ClassIMU},
	0x76: {Name: "BMP280 barometer", Class: model.ClassEnvironmental},
	0x77: {Name: "BME680 environmental", Class: model.ClassEnvironmental},
}

// canIDRange classifies passively sniffed arbitration ids. Ranges follow the
// common convention of grouping subsystems by id block.
type canIDRange struct {
	Low, High uint32
	Name      string
	Class     model.DeviceClass
}

var canIDRanges = []canIDRange{
	{Low: 0x100, High: 0x1FF, Name: "motor controller", Class: model.ClassMotorController},
	{Low: 0x200, High: 0x2FF, Name: "sensor node", Class: model.ClassSensor},
	{Low: 0x300, High: 0x3FF, Name: "power node", Class: model.ClassPowerManagement},
	{Low: 0x400, High: 0x4FF, Name: "IMU node", Class: model.ClassIMU},
	{Low: 0x500, High: 0x5FF, Name: "comms node", Class: model.ClassCommunication},
}

func classifyCANID(id uint32) (canIDRange, bool) {
	for _, r := range canIDRanges {
		if id >= r.Low && id <= r.High {
			return r, true
		}
	}
	return canIDRange{}, false
}

package wire

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// ActuatorType is a bit-set of actuator capabilities.
// A single actuator carries exactly one bit; a device carries the union of
// its actuators.
type ActuatorType uint32

const (
	ActuatorUnknown   ActuatorType = 0
	ActuatorVibrate   ActuatorType = 1 << 0
	ActuatorRotate    ActuatorType = 1 << 1
	ActuatorOscillate ActuatorType = 1 << 2
	ActuatorConstrict ActuatorType = 1 << 3
	ActuatorInflate   ActuatorType = 1 << 4
	ActuatorPosition  ActuatorType = 1 << 5
)

var actuatorNames = []struct {
	bit  ActuatorType
	name string
}{
	{ActuatorVibrate, "Vibrate"},
	{ActuatorRotate, "Rotate"},
	{ActuatorOscillate, "Oscillate"},
	{ActuatorConstrict, "Constrict"},
	{ActuatorInflate, "Inflate"},
	{ActuatorPosition, "Position"},
}

// Union returns the bit-wise union of a and o.
func (a ActuatorType) Union(o ActuatorType) ActuatorType {
	return a | o
}

// Contains reports whether every bit of o is set in a.
// Unknown is never contained.
func (a ActuatorType) Contains(o ActuatorType) bool {
	return o != ActuatorUnknown && a&o == o
}

// Single reports whether exactly one capability bit is set.
func (a ActuatorType) Single() bool {
	return bits.OnesCount32(uint32(a)) == 1
}

// String returns the protocol name, or a comma-joined list for unions.
func (a ActuatorType) String() string {
	if a == ActuatorUnknown {
		return "Unknown"
	}
	var parts []string
	for _, n := range actuatorNames {
		if a&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("ActuatorType(%d)", uint32(a))
	}
	return strings.Join(parts, ",")
}

// ParseActuatorType parses a protocol name (case-insensitive).
// Unrecognized names map to ActuatorUnknown.
func ParseActuatorType(s string) ActuatorType {
	var out ActuatorType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		for _, n := range actuatorNames {
			if strings.EqualFold(part, n.name) {
				out |= n.bit
			}
		}
	}
	return out
}

// MarshalJSON encodes the type as its protocol string.
func (a ActuatorType) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a protocol string. Unknown names decode leniently.
func (a *ActuatorType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("actuator type: %w", err)
	}
	*a = ParseActuatorType(s)
	return nil
}

// SensorType is a bit-set of sensor capabilities.
type SensorType uint32

const (
	SensorUnknown  SensorType = 0
	SensorBattery  SensorType = 1 << 0
	SensorRSSI     SensorType = 1 << 1
	SensorButton   SensorType = 1 << 2
	SensorPressure SensorType = 1 << 3
)

var sensorNames = []struct {
	bit  SensorType
	name string
}{
	{SensorBattery, "Battery"},
	{SensorRSSI, "RSSI"},
	{SensorButton, "Button"},
	{SensorPressure, "Pressure"},
}

// Union returns the bit-wise union of s and o.
func (s SensorType) Union(o SensorType) SensorType {
	return s | o
}

// Contains reports whether every bit of o is set in s.
func (s SensorType) Contains(o SensorType) bool {
	return o != SensorUnknown && s&o == o
}

// String returns the protocol name, or a comma-joined list for unions.
func (s SensorType) String() string {
	if s == SensorUnknown {
		return "Unknown"
	}
	var parts []string
	for _, n := range sensorNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("SensorType(%d)", uint32(s))
	}
	return strings.Join(parts, ",")
}

// ParseSensorType parses a protocol name (case-insensitive).
func ParseSensorType(str string) SensorType {
	var out SensorType
	for _, part := range strings.Split(str, ",") {
		part = strings.TrimSpace(part)
		for _, n := range sensorNames {
			if strings.EqualFold(part, n.name) {
				out |= n.bit
			}
		}
	}
	return out
}

// MarshalJSON encodes the type as its protocol string.
func (s SensorType) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a protocol string. Unknown names decode leniently.
func (s *SensorType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("sensor type: %w", err)
	}
	*s = ParseSensorType(str)
	return nil
}

// ErrorCode is the error class carried by an Error message.
type ErrorCode int

const (
	ErrorCodeUnknown ErrorCode = 0
	ErrorCodeInit    ErrorCode = 1
	ErrorCodePing    ErrorCode = 2
	ErrorCodeMsg     ErrorCode = 3
	ErrorCodeDevice  ErrorCode = 4

	// ErrorCodeShapeMismatch is never sent by a server. It marks a reply
	// that arrived under the wrong name or could not be decoded.
	ErrorCodeShapeMismatch ErrorCode = 255
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeUnknown:
		return "ERROR_UNKNOWN"
	case ErrorCodeInit:
		return "ERROR_INIT"
	case ErrorCodePing:
		return "ERROR_PING"
	case ErrorCodeMsg:
		return "ERROR_MSG"
	case ErrorCodeDevice:
		return "ERROR_DEVICE"
	case ErrorCodeShapeMismatch:
		return "SHAPE_MISMATCH"
	default:
		return fmt.Sprintf("ERROR_%d", int(c))
	}
}

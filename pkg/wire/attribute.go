package wire

import "math"

// DeviceInfo describes one device as listed by the server.
type DeviceInfo struct {
	DeviceName             string         `json:"DeviceName"`
	DeviceIndex            uint32         `json:"DeviceIndex"`
	DeviceMessageTimingGap uint32         `json:"DeviceMessageTimingGap,omitempty"`
	DeviceDisplayName      string         `json:"DeviceDisplayName,omitempty"`
	DeviceMessages         DeviceMessages `json:"DeviceMessages"`
}

// DeviceMessages lists the attributes of each command a device accepts.
// Raw endpoint commands are carried as data only.
type DeviceMessages struct {
	ScalarCmd          []DeviceAttribute `json:"ScalarCmd,omitempty"`
	RotateCmd          []DeviceAttribute `json:"RotateCmd,omitempty"`
	LinearCmd          []DeviceAttribute `json:"LinearCmd,omitempty"`
	SensorReadCmd      []DeviceAttribute `json:"SensorReadCmd,omitempty"`
	SensorSubscribeCmd []DeviceAttribute `json:"SensorSubscribeCmd,omitempty"`
	StopDeviceCmd      *struct{}         `json:"StopDeviceCmd,omitempty"`
	RawReadCmd         []DeviceAttribute `json:"RawReadCmd,omitempty"`
	RawWriteCmd        []DeviceAttribute `json:"RawWriteCmd,omitempty"`
	RawSubscribeCmd    []DeviceAttribute `json:"RawSubscribeCmd,omitempty"`
}

// DeviceAttribute describes one actuator, sensor or raw endpoint.
type DeviceAttribute struct {
	FeatureDescriptor string       `json:"FeatureDescriptor,omitempty"`
	StepCount         uint32       `json:"StepCount,omitempty"`
	ActuatorType      ActuatorType `json:"ActuatorType,omitempty"`
	SensorType        SensorType   `json:"SensorType,omitempty"`
	SensorRange       [][2]int32   `json:"SensorRange,omitempty"`
	Endpoints         []string     `json:"Endpoints,omitempty"`
}

// Quantize snaps v to the nearest multiple of 1/steps.
// A step count of zero leaves v unchanged.
func Quantize(v float64, steps uint32) float64 {
	if steps == 0 {
		return v
	}
	n := float64(steps)
	return math.Round(v*n) / n
}

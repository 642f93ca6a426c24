package wire

import (
	"reflect"
	"strings"
)

// EventID is the id carried by unsolicited server events.
const EventID uint32 = 0

// MessageVersion is the protocol version announced during the handshake.
const MessageVersion uint32 = 3

// Message is implemented by every protocol message body.
type Message interface {
	MessageID() uint32
	SetMessageID(id uint32)
}

// Header carries the correlation id shared by all messages.
type Header struct {
	ID uint32 `json:"Id"`
}

// MessageID returns the correlation id.
func (h *Header) MessageID() uint32 { return h.ID }

// SetMessageID sets the correlation id.
func (h *Header) SetMessageID(id uint32) { h.ID = id }

// DeviceHeader is the header of messages addressed to a single device.
type DeviceHeader struct {
	Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// Device returns the target device index.
func (h *DeviceHeader) Device() uint32 { return h.DeviceIndex }

// SetDevice sets the target device index.
func (h *DeviceHeader) SetDevice(index uint32) { h.DeviceIndex = index }

// DeviceMessage is implemented by messages addressed to one device.
type DeviceMessage interface {
	Message
	Device() uint32
	SetDevice(index uint32)
}

// NameOf returns the protocol name of msg: its type name with any
// "Buttplug" prefix removed.
func NameOf(msg Message) string {
	t := reflect.TypeOf(msg)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.TrimPrefix(t.Name(), "Buttplug")
}

// Handshake

// RequestServerInfo opens a session.
type RequestServerInfo struct {
	Header
	ClientName     string `json:"ClientName"`
	MessageVersion uint32 `json:"MessageVersion"`
}

// ServerInfo is the handshake reply. MaxPingTime is in milliseconds; zero
// disables keep-alive.
type ServerInfo struct {
	Header
	ServerName     string `json:"ServerName"`
	MessageVersion uint32 `json:"MessageVersion"`
	MaxPingTime    uint32 `json:"MaxPingTime"`
}

// Status

// Ok acknowledges a request.
type Ok struct {
	Header
}

// Error reports a failed request, or an unsolicited server fault when the
// id is zero.
type Error struct {
	Header
	ErrorMessage string    `json:"ErrorMessage"`
	ErrorCode    ErrorCode `json:"ErrorCode"`
}

// Ping keeps the session alive.
type Ping struct {
	Header
}

// Enumeration

type StartScanning struct {
	Header
}

type StopScanning struct {
	Header
}

type ScanningFinished struct {
	Header
}

type RequestDeviceList struct {
	Header
}

// DeviceList is the reply to RequestDeviceList.
type DeviceList struct {
	Header
	Devices []DeviceInfo `json:"Devices"`
}

// DeviceAdded announces a newly attached device.
type DeviceAdded struct {
	Header
	DeviceInfo
}

// DeviceRemoved announces a detached device.
type DeviceRemoved struct {
	Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// Generic commands

type StopDeviceCmd struct {
	DeviceHeader
}

type StopAllDevices struct {
	Header
}

// Actuator commands

// Scalar sets one graduated actuator.
type Scalar struct {
	Index        uint32       `json:"Index"`
	Scalar       float64      `json:"Scalar"`
	ActuatorType ActuatorType `json:"ActuatorType"`
}

type ScalarCmd struct {
	DeviceHeader
	Scalars []Scalar `json:"Scalars"`
}

// Vector moves one linear actuator to Position over Duration milliseconds.
type Vector struct {
	Index    uint32  `json:"Index"`
	Duration uint32  `json:"Duration"`
	Position float64 `json:"Position"`
}

type LinearCmd struct {
	DeviceHeader
	Vectors []Vector `json:"Vectors"`
}

// Rotation sets the speed and direction of one rotator.
type Rotation struct {
	Index     uint32  `json:"Index"`
	Speed     float64 `json:"Speed"`
	Clockwise bool    `json:"Clockwise"`
}

type RotateCmd struct {
	DeviceHeader
	Rotations []Rotation `json:"Rotations"`
}

// Sensor commands

type SensorReadCmd struct {
	DeviceHeader
	SensorIndex uint32     `json:"SensorIndex"`
	SensorType  SensorType `json:"SensorType"`
}

type SensorSubscribeCmd struct {
	DeviceHeader
	SensorIndex uint32     `json:"SensorIndex"`
	SensorType  SensorType `json:"SensorType"`
}

type SensorUnsubscribeCmd struct {
	DeviceHeader
	SensorIndex uint32     `json:"SensorIndex"`
	SensorType  SensorType `json:"SensorType"`
}

// SensorReading is both the reply to SensorReadCmd and, with id 0, a
// subscription update.
type SensorReading struct {
	DeviceHeader
	SensorIndex uint32     `json:"SensorIndex"`
	SensorType  SensorType `json:"SensorType"`
	Data        []int32    `json:"Data"`
}

package log

import (
	"time"

	"github.com/buttbee/buttbee-go/pkg/wire"
)

// Event is one captured protocol event. CBOR encoding uses integer keys.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`

	// ServerURL is the websocket endpoint of the session.
	ServerURL string `cbor:"6,keyasint,omitempty"`

	// DeviceIndex is set for events concerning a single device.
	DeviceIndex *uint32 `cbor:"7,keyasint,omitempty"`

	// Exactly one of these is set.
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport sees websocket fragments and reassembled text.
	LayerTransport Layer = 0
	// LayerWire sees decoded envelopes.
	LayerWire Layer = 1
	// LayerClient sees session and device lifecycle.
	LayerClient Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw transport data.
type FrameEvent struct {
	// Size is the full size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data may be truncated for large frames.
	Data      []byte `cbor:"2,keyasint,omitempty"`
	Truncated bool   `cbor:"3,keyasint,omitempty"`

	// Final is false for all but the last fragment of a message.
	Final bool `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures one decoded envelope.
type MessageEvent struct {
	Type      MessageType `cbor:"1,keyasint"`
	MessageID uint32      `cbor:"2,keyasint"`
	Name      string      `cbor:"3,keyasint"`

	// Body is the JSON message object.
	Body []byte `cbor:"4,keyasint,omitempty"`

	// ErrorCode is set for Error messages.
	ErrorCode *wire.ErrorCode `cbor:"5,keyasint,omitempty"`

	// RoundTrip is the time from request write to reply (responses only).
	RoundTrip *time.Duration `cbor:"6,keyasint,omitempty"`
}

// MessageType distinguishes requests, replies and unsolicited events.
type MessageType uint8

const (
	MessageTypeRequest  MessageType = 0
	MessageTypeResponse MessageType = 1
	MessageTypeEvent    MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypeEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection and device lifecycle events.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntityDevice     StateEntity = 1
	StateEntityScanning   StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDevice:
		return "DEVICE"
	case StateEntityScanning:
		return "SCANNING"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures keep-alive and close traffic.
type ControlMsgEvent struct {
	Type ControlMsgType `cbor:"1,keyasint"`

	// Latency is the ping round trip (pong only).
	Latency *time.Duration `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	ControlMsgPing  ControlMsgType = 0
	ControlMsgPong  ControlMsgType = 1
	ControlMsgClose ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Code is the protocol error code, if any.
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what was being done.
	Context string `cbor:"4,keyasint,omitempty"`
}

package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Peer indicates whether the remote endpoint is a display device or a
	// mobile app (populated once the connection has identified itself).
	Peer Peer `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// DeviceID is the device's stable identifier (populated after registration).
	DeviceID string `cbor:"8,keyasint,omitempty"`

	// AppID is the mobile app identifier (populated after authorization).
	AppID string `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded envelope)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/listener state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ping/pong/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
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

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw WebSocket frames).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded JSON envelopes).
	LayerWire Layer = 1
	// LayerService is the application/service layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (envelope).
	CategoryMessage Category = 0
	// CategoryControl indicates a control frame (ping/pong/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
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

// Peer indicates what kind of client is on the remote end of a connection.
type Peer uint8

const (
	// PeerUnknown indicates the connection has not identified itself yet.
	PeerUnknown Peer = 0
	// PeerDevice indicates a display device.
	PeerDevice Peer = 1
	// PeerApp indicates a companion mobile app.
	PeerApp Peer = 2
)

// String returns the peer name.
func (p Peer) String() string {
	switch p {
	case PeerUnknown:
		return "UNKNOWN"
	case PeerDevice:
		return "DEVICE"
	case PeerApp:
		return "APP"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Opcode is the WebSocket frame opcode.
	Opcode uint8 `cbor:"1,keyasint"`

	// Size is the payload size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw payload bytes (may be truncated for large frames).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures a decoded message envelope at the wire layer.
type MessageEvent struct {
	// Type is the canonical envelope type string.
	Type string `cbor:"1,keyasint"`

	// Version is the protocol version declared by the peer (may be empty).
	Version string `cbor:"2,keyasint,omitempty"`

	// Size is the envelope size in bytes.
	Size int `cbor:"3,keyasint,omitempty"`

	// Handled indicates whether a registered handler processed the message.
	// False for unknown types routed through the fallback path.
	Handled bool `cbor:"4,keyasint,omitempty"`

	// ProcessingTime is the duration spent in the handler (nanoseconds).
	ProcessingTime *time.Duration `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures connection and listener lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityListener indicates a listener state change.
	StateEntityListener StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityListener:
		return "LISTENER"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures transport-level control frames.
type ControlMsgEvent struct {
	// Type of control frame.
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseCode is the close status code (close frames only).
	CloseCode uint16 `cbor:"2,keyasint,omitempty"`

	// CloseReason is the close reason text (close frames only).
	CloseReason string `cbor:"3,keyasint,omitempty"`
}

// ControlMsgType identifies a control frame.
type ControlMsgType uint8

const (
	// ControlMsgPing is a ping frame.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong is a pong frame.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose is a close frame.
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

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context gives additional context, such as the message type being
	// dispatched or the handshake step that failed.
	Context string `cbor:"3,keyasint,omitempty"`
}

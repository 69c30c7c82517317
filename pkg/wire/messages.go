package wire

import (
	"encoding/json"
	"time"
)

// Canonical message types. Device types flow between the server and fleet
// displays; app types between the server and companion mobile apps.
const (
	// Device → server
	TypeRegister             = "Register"
	TypeHeartbeat            = "Heartbeat"
	TypeStatusReport         = "StatusReport"
	TypeScreenshot           = "Screenshot"
	TypeLog                  = "Log"
	TypeUpdateConfigResponse = "UpdateConfigResponse"

	// Server → device
	TypeRegistrationResponse = "RegistrationResponse"
	TypeDisplayUpdate        = "DisplayUpdate"
	TypeCommand              = "Command"
	TypeUpdateConfig         = "UpdateConfig"
	TypeLayoutAssigned       = "LayoutAssigned"
	TypeDataUpdate           = "DataUpdate"

	// Mobile app → server
	TypeAppRegister       = "AppRegister"
	TypeAppHeartbeat      = "AppHeartbeat"
	TypeRequestClientList = "RequestClientList"
	TypeSendCommand       = "SendCommand"
	TypeAssignLayout      = "AssignLayout"
	TypeRequestScreenshot = "RequestScreenshot"
	TypeRequestLayoutList = "RequestLayoutList"

	// Server → mobile app
	TypeAppAuthorizationRequired = "AppAuthorizationRequired"
	TypeAppAuthorized            = "AppAuthorized"
	TypeAppRejected              = "AppRejected"
	TypeClientListUpdate         = "ClientListUpdate"
	TypeClientStatusChanged      = "ClientStatusChanged"
	TypeScreenshotResponse       = "ScreenshotResponse"
	TypeLayoutListResponse       = "LayoutListResponse"
	TypeCommandResult            = "CommandResult"

	// Either direction
	TypeError = "Error"
)

// DeviceOriginTypes is the set of message types a fleet display sends.
var DeviceOriginTypes = map[string]struct{}{
	TypeRegister:             {},
	TypeHeartbeat:            {},
	TypeStatusReport:         {},
	TypeScreenshot:           {},
	TypeLog:                  {},
	TypeUpdateConfigResponse: {},
	TypeCommandResult:        {},
}

// AppOriginTypes is the set of message types a mobile app sends.
var AppOriginTypes = map[string]struct{}{
	TypeAppRegister:       {},
	TypeAppHeartbeat:      {},
	TypeRequestClientList: {},
	TypeSendCommand:       {},
	TypeAssignLayout:      {},
	TypeRequestScreenshot: {},
	TypeRequestLayoutList: {},
}

// IsAppOrigin returns true for message types sent by mobile apps.
func IsAppOrigin(canonicalType string) bool {
	_, ok := AppOriginTypes[canonicalType]
	return ok
}

// IsDeviceOrigin returns true for message types sent by fleet displays.
func IsDeviceOrigin(canonicalType string) bool {
	_, ok := DeviceOriginTypes[canonicalType]
	return ok
}

// RegisterMessage announces a display device and its stable identity.
type RegisterMessage struct {
	Envelope
	DeviceID        string `json:"deviceId"`
	Name            string `json:"name,omitempty"`
	Model           string `json:"model,omitempty"`
	Firmware        string `json:"firmware,omitempty"`
	EnrollmentToken string `json:"enrollmentToken,omitempty"`
}

// RegistrationResponse answers a RegisterMessage.
type RegistrationResponse struct {
	Envelope
	Accepted   bool      `json:"accepted"`
	DeviceID   string    `json:"deviceId"`
	Reason     string    `json:"reason,omitempty"`
	ServerTime time.Time `json:"serverTime"`
}

// HeartbeatMessage is a periodic device liveness report.
type HeartbeatMessage struct {
	Envelope
	DeviceID      string `json:"deviceId"`
	UptimeSeconds int64  `json:"uptimeSeconds,omitempty"`
}

// StatusReportMessage carries the device's current playback state.
type StatusReportMessage struct {
	Envelope
	DeviceID      string `json:"deviceId"`
	Status        string `json:"status"`
	CurrentLayout string `json:"currentLayout,omitempty"`
	FreeStorageMB int64  `json:"freeStorageMb,omitempty"`
	TemperatureC  *int   `json:"temperatureC,omitempty"`
}

// ScreenshotMessage carries a captured screen image from a device.
type ScreenshotMessage struct {
	Envelope
	DeviceID  string `json:"deviceId"`
	RequestID string `json:"requestId,omitempty"`
	Format    string `json:"format"`
	ImageData []byte `json:"imageData"`
}

// LogMessage forwards a device-side log record.
type LogMessage struct {
	Envelope
	DeviceID  string    `json:"deviceId"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// UpdateConfigResponseMessage acknowledges an UpdateConfig push.
type UpdateConfigResponseMessage struct {
	Envelope
	DeviceID string `json:"deviceId"`
	Applied  bool   `json:"applied"`
	Error    string `json:"error,omitempty"`
}

// DisplayUpdateMessage instructs a device to refresh its display content.
type DisplayUpdateMessage struct {
	Envelope
	LayoutID string          `json:"layoutId,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// CommandMessage instructs a device to run a named command.
type CommandMessage struct {
	Envelope
	RequestID string            `json:"requestId,omitempty"`
	Name      string            `json:"name"`
	Args      map[string]string `json:"args,omitempty"`
}

// UpdateConfigMessage pushes new configuration values to a device.
type UpdateConfigMessage struct {
	Envelope
	HeartbeatIntervalSeconds int    `json:"heartbeatIntervalSeconds,omitempty"`
	Orientation              string `json:"orientation,omitempty"`
	Brightness               *int   `json:"brightness,omitempty"`
}

// LayoutAssignedMessage tells a device which layout it should render.
type LayoutAssignedMessage struct {
	Envelope
	LayoutID   string `json:"layoutId"`
	LayoutName string `json:"layoutName,omitempty"`
	ScheduleID string `json:"scheduleId,omitempty"`
}

// DataUpdateMessage pushes refreshed data-source content to a device.
type DataUpdateMessage struct {
	Envelope
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

// AppRegisterMessage announces a mobile app connection. Returning apps
// present the bearer token issued on a previous authorization.
type AppRegisterMessage struct {
	Envelope
	AppID    string `json:"appId"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Token    string `json:"token,omitempty"`
}

// AppHeartbeatMessage is a periodic app liveness report.
type AppHeartbeatMessage struct {
	Envelope
	AppID string `json:"appId,omitempty"`
}

// RequestClientListMessage asks for the current fleet roster.
type RequestClientListMessage struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
}

// SendCommandMessage relays a command from an app to a target device.
type SendCommandMessage struct {
	Envelope
	RequestID string            `json:"requestId,omitempty"`
	TargetID  string            `json:"targetId"`
	Name      string            `json:"name"`
	Args      map[string]string `json:"args,omitempty"`
}

// AssignLayoutMessage assigns a layout to a target device.
type AssignLayoutMessage struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
	TargetID  string `json:"targetId"`
	LayoutID  string `json:"layoutId"`
}

// RequestScreenshotMessage asks a target device for a screen capture.
type RequestScreenshotMessage struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
	TargetID  string `json:"targetId"`
}

// RequestLayoutListMessage asks for the available layouts.
type RequestLayoutListMessage struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
}

// AppAuthorizationRequiredMessage tells an app it must be authorized by an
// operator before it can control the fleet.
type AppAuthorizationRequiredMessage struct {
	Envelope
	Reason string `json:"reason,omitempty"`
}

// AppAuthorizedMessage carries the issued bearer token and permissions.
type AppAuthorizedMessage struct {
	Envelope
	Token       string   `json:"token"`
	Permissions []string `json:"permissions"`
}

// AppRejectedMessage tells an app its registration was refused.
type AppRejectedMessage struct {
	Envelope
	Reason string `json:"reason,omitempty"`
}

// ClientInfo describes one fleet device in a roster update.
type ClientInfo struct {
	DeviceID string    `json:"deviceId"`
	Name     string    `json:"name,omitempty"`
	Status   string    `json:"status,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// ClientListUpdateMessage carries the current fleet roster.
type ClientListUpdateMessage struct {
	Envelope
	RequestID string       `json:"requestId,omitempty"`
	Clients   []ClientInfo `json:"clients"`
}

// ClientStatusChangedMessage notifies apps that one device changed state.
type ClientStatusChangedMessage struct {
	Envelope
	DeviceID string `json:"deviceId"`
	Status   string `json:"status,omitempty"`
	Online   bool   `json:"online"`
}

// ScreenshotResponseMessage relays a captured screenshot to the requesting app.
type ScreenshotResponseMessage struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
	DeviceID  string `json:"deviceId"`
	Format    string `json:"format,omitempty"`
	ImageData []byte `json:"imageData,omitempty"`
	Error     string `json:"error,omitempty"`
}

// LayoutInfo describes one available layout.
type LayoutInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LayoutListResponseMessage carries the available layouts.
type LayoutListResponseMessage struct {
	Envelope
	RequestID string       `json:"requestId,omitempty"`
	Layouts   []LayoutInfo `json:"layouts"`
}

// CommandResultMessage relays the outcome of a SendCommand to the app.
type CommandResultMessage struct {
	Envelope
	RequestID string `json:"requestId,omitempty"`
	TargetID  string `json:"targetId"`
	Success   bool   `json:"success"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorMessage reports a protocol-level error to the peer. For version
// mismatches both versions are included so the client can self-diagnose.
type ErrorMessage struct {
	Envelope
	Code          string `json:"code"`
	Message       string `json:"message"`
	ServerVersion string `json:"serverVersion,omitempty"`
	ClientVersion string `json:"clientVersion,omitempty"`
}

// Error codes used in ErrorMessage.
const (
	ErrorCodeVersionMismatch = "VERSION_MISMATCH"
	ErrorCodeUnauthorized    = "UNAUTHORIZED"
	ErrorCodeInternal        = "INTERNAL_ERROR"
)

// payloadFactories maps canonical types to payload constructors.
var payloadFactories = map[string]func() any{
	TypeRegister:             func() any { return &RegisterMessage{} },
	TypeHeartbeat:            func() any { return &HeartbeatMessage{} },
	TypeStatusReport:         func() any { return &StatusReportMessage{} },
	TypeScreenshot:           func() any { return &ScreenshotMessage{} },
	TypeLog:                  func() any { return &LogMessage{} },
	TypeUpdateConfigResponse: func() any { return &UpdateConfigResponseMessage{} },

	TypeRegistrationResponse: func() any { return &RegistrationResponse{} },
	TypeDisplayUpdate:        func() any { return &DisplayUpdateMessage{} },
	TypeCommand:              func() any { return &CommandMessage{} },
	TypeUpdateConfig:         func() any { return &UpdateConfigMessage{} },
	TypeLayoutAssigned:       func() any { return &LayoutAssignedMessage{} },
	TypeDataUpdate:           func() any { return &DataUpdateMessage{} },

	TypeAppRegister:       func() any { return &AppRegisterMessage{} },
	TypeAppHeartbeat:      func() any { return &AppHeartbeatMessage{} },
	TypeRequestClientList: func() any { return &RequestClientListMessage{} },
	TypeSendCommand:       func() any { return &SendCommandMessage{} },
	TypeAssignLayout:      func() any { return &AssignLayoutMessage{} },
	TypeRequestScreenshot: func() any { return &RequestScreenshotMessage{} },
	TypeRequestLayoutList: func() any { return &RequestLayoutListMessage{} },

	TypeAppAuthorizationRequired: func() any { return &AppAuthorizationRequiredMessage{} },
	TypeAppAuthorized:            func() any { return &AppAuthorizedMessage{} },
	TypeAppRejected:              func() any { return &AppRejectedMessage{} },
	TypeClientListUpdate:         func() any { return &ClientListUpdateMessage{} },
	TypeClientStatusChanged:      func() any { return &ClientStatusChangedMessage{} },
	TypeScreenshotResponse:       func() any { return &ScreenshotResponseMessage{} },
	TypeLayoutListResponse:       func() any { return &LayoutListResponseMessage{} },
	TypeCommandResult:            func() any { return &CommandResultMessage{} },

	TypeError: func() any { return &ErrorMessage{} },
}

// NewEnvelope builds an envelope header for an outgoing message of the
// given canonical type, stamped with the given protocol version.
func NewEnvelope(canonicalType, protocolVersion string) Envelope {
	return Envelope{Type: canonicalType, Version: protocolVersion}
}

// NewVersionMismatchError builds the error envelope sent to a peer before
// closing a version-incompatible connection.
func NewVersionMismatchError(serverVersion, clientVersion string) *ErrorMessage {
	return &ErrorMessage{
		Envelope:      NewEnvelope(TypeError, serverVersion),
		Code:          ErrorCodeVersionMismatch,
		Message:       "incompatible protocol version",
		ServerVersion: serverVersion,
		ClientVersion: clientVersion,
	}
}

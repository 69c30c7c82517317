package service

import (
	"errors"
	"log/slog"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/transport"
)

// Service errors.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrAlreadyStarted = errors.New("service already started")
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrDeviceOffline  = errors.New("device not connected")
	ErrAppNotPending  = errors.New("app has no pending authorization")
	ErrUnauthorized   = errors.New("unauthorized")
)

// ServiceState represents the service state.
type ServiceState uint8

const (
	// StateIdle - service created but not started.
	StateIdle ServiceState = iota

	// StateStarting - service is starting up.
	StateStarting

	// StateRunning - service is running normally.
	StateRunning

	// StateStopping - service is shutting down.
	StateStopping

	// StateStopped - service has stopped.
	StateStopped
)

// String returns the state name.
func (s ServiceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Service.
type Config struct {
	// Host is the listen address (empty = all interfaces).
	Host string

	// Port is the preferred listen port. Zero binds an ephemeral port
	// chosen by the kernel; read it back via Server().Addr().
	Port int

	// FallbackPorts are tried in order when Port is taken.
	FallbackPorts []int

	// TLSConfig provides the server certificate.
	TLSConfig *transport.TLSConfig

	// MaxMessageSize caps reassembled message size in bytes.
	MaxMessageSize int

	// ShutdownTimeout bounds the drain phase during Stop.
	ShutdownTimeout time.Duration

	// KeepAlive configures the per-connection ping scheduler.
	KeepAlive transport.KeepAliveConfig

	// ProvisionalTimeout is how long a connection may stay unidentified
	// (no Register or AppRegister) before the reaper closes it.
	ProvisionalTimeout time.Duration

	// ReaperInterval is how often the stale connection reaper runs.
	ReaperInterval time.Duration

	// TokenSecret seeds app bearer-token derivation. Must be non-empty.
	TokenSecret []byte

	// EnrollmentToken, when set, must be presented by devices at
	// registration. Empty disables enrollment checking.
	EnrollmentToken string

	// AutoAuthorizeApps grants every connecting app a token without
	// operator approval. Intended for development setups.
	AutoAuthorizeApps bool

	// Layouts provides the layout catalogue. Defaults to an empty
	// in-memory store.
	Layouts LayoutStore

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// ProtocolLogger captures structured protocol events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:               transport.DefaultPort,
		FallbackPorts:      []int{9444, 9445},
		MaxMessageSize:     transport.DefaultMaxMessageSize,
		ShutdownTimeout:    transport.DefaultShutdownTimeout,
		KeepAlive:          transport.DefaultKeepAliveConfig(),
		ProvisionalTimeout: 30 * time.Second,
		ReaperInterval:     10 * time.Second,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return ErrInvalidConfig
	}
	if c.TLSConfig == nil {
		return ErrInvalidConfig
	}
	if len(c.TokenSecret) == 0 {
		return ErrInvalidConfig
	}
	return nil
}

// EventType identifies a service event.
type EventType uint8

const (
	// EventDeviceRegistered - a display completed registration.
	EventDeviceRegistered EventType = iota

	// EventDeviceDisconnected - a registered display dropped.
	EventDeviceDisconnected

	// EventDeviceStatus - a display reported new status.
	EventDeviceStatus

	// EventAppConnected - a mobile app registered (possibly unauthorized).
	EventAppConnected

	// EventAppAuthorized - a mobile app was granted a token.
	EventAppAuthorized

	// EventAppDisconnected - a mobile app dropped.
	EventAppDisconnected

	// EventUnhandledMessage - a message with no registered handler arrived.
	EventUnhandledMessage
)

// String returns the event type name.
func (e EventType) String() string {
	switch e {
	case EventDeviceRegistered:
		return "DEVICE_REGISTERED"
	case EventDeviceDisconnected:
		return "DEVICE_DISCONNECTED"
	case EventDeviceStatus:
		return "DEVICE_STATUS"
	case EventAppConnected:
		return "APP_CONNECTED"
	case EventAppAuthorized:
		return "APP_AUTHORIZED"
	case EventAppDisconnected:
		return "APP_DISCONNECTED"
	case EventUnhandledMessage:
		return "UNHANDLED_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Event represents a service event.
type Event struct {
	// Type is the event type.
	Type EventType

	// ConnID is the transport connection ID.
	ConnID string

	// DeviceID is set for device-related events.
	DeviceID string

	// AppID is set for app-related events.
	AppID string

	// MessageType is set for message-related events.
	MessageType string

	// Error is set if the event carries an error.
	Error error
}

// EventHandler handles service events.
type EventHandler func(Event)

package log

// Logger is the sink for KioskNet protocol events: frames, decoded
// messages, connection state changes, and errors across the transport,
// wire, and service layers. Pass nil or NoopLogger to disable capture.
type Logger interface {
	// Log records one protocol event. Implementations must be safe for
	// concurrent use and should return quickly; the transport calls
	// this on its read and write paths.
	Log(event Event)
}

// NoopLogger discards every event. Usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

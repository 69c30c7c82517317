package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// Dispatcher routes decoded messages to their registered handlers. The
// handler table is built once at startup and read-only afterwards, so
// dispatch needs no locking.
type Dispatcher struct {
	handlers map[string]Handler

	// origin classifies a connection as device, app, or not yet
	// identified. Messages whose type belongs to the other peer kind
	// are refused before any handler runs.
	origin func(connID string) log.Peer

	// onUnhandled observes messages with no registered handler.
	onUnhandled func(header *wire.Header, raw []byte, connID string)

	logger log.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a handler to the table. Registering two handlers for
// the same type is a programming error and fails loudly.
func (d *Dispatcher) Register(h Handler) error {
	typ := h.MessageType()
	if _, exists := d.handlers[typ]; exists {
		return fmt.Errorf("handler already registered for type %q", typ)
	}
	d.handlers[typ] = h
	return nil
}

// SetOrigin installs the connection classifier consulted before dispatch.
func (d *Dispatcher) SetOrigin(fn func(connID string) log.Peer) {
	d.origin = fn
}

// SetUnhandled installs the observer for messages with no handler.
func (d *Dispatcher) SetUnhandled(fn func(header *wire.Header, raw []byte, connID string)) {
	d.onUnhandled = fn
}

// HandlerCount returns the number of registered handlers.
func (d *Dispatcher) HandlerCount() int {
	return len(d.handlers)
}

// Dispatch routes one decoded message. A message whose type belongs to
// the other peer kind's origin set is refused outright. Unknown types
// are not an error: they are logged and passed to the unhandled
// observer so the protocol can grow without breaking older servers.
// Handler panics are contained here; the connection survives.
func (d *Dispatcher) Dispatch(ctx context.Context, header *wire.Header, raw []byte, connID string) (err error) {
	if d.origin != nil {
		peer := d.origin(connID)
		if (peer == log.PeerDevice && wire.IsAppOrigin(header.Type)) ||
			(peer == log.PeerApp && wire.IsDeviceOrigin(header.Type)) {
			err = fmt.Errorf("type %q not accepted from %s conn %s", header.Type, peer, connID)
			d.logError(connID, header.Type, err)
			return err
		}
	}

	handler, ok := d.handlers[header.Type]
	if !ok {
		d.logMessage(connID, header, len(raw), false, 0)
		if d.onUnhandled != nil {
			d.onUnhandled(header, raw, connID)
		}
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic for type %q on conn %s: %v", header.Type, connID, r)
			d.logError(connID, header.Type, err)
		}
	}()

	start := time.Now()
	err = handler.Handle(ctx, header, raw, connID)
	elapsed := time.Since(start)
	if err != nil {
		d.logError(connID, header.Type, err)
	}
	d.logMessage(connID, header, len(raw), true, elapsed)
	return err
}

func (d *Dispatcher) logMessage(connID string, header *wire.Header, size int, handled bool, elapsed time.Duration) {
	msg := &log.MessageEvent{
		Type:    header.Type,
		Version: header.Version,
		Size:    size,
		Handled: handled,
	}
	if handled {
		msg.ProcessingTime = &elapsed
	}
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Message:      msg,
	})
}

func (d *Dispatcher) logError(connID, msgType string, err error) {
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerService,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Context: msgType,
		},
	})
}

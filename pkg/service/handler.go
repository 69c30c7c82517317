package service

import (
	"context"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// Handler processes one canonical message type. Handlers receive the
// decoded envelope header plus the raw message bytes and decode the
// full payload themselves.
type Handler interface {
	// MessageType returns the canonical type this handler accepts.
	MessageType() string

	// Handle processes one message from the connection identified by
	// connID. Returned errors are logged at the dispatch boundary; they
	// do not terminate the connection.
	Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error
}

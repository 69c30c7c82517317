package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// stubHandler is a configurable Handler for dispatcher tests.
type stubHandler struct {
	msgType string
	fn      func(ctx context.Context, env *wire.Header, raw []byte, connID string) error
	calls   int
}

func (h *stubHandler) MessageType() string { return h.msgType }

func (h *stubHandler) Handle(ctx context.Context, env *wire.Header, raw []byte, connID string) error {
	h.calls++
	if h.fn != nil {
		return h.fn(ctx, env, raw, connID)
	}
	return nil
}

func dispatchRaw(t *testing.T, d *Dispatcher, raw string, connID string) error {
	t.Helper()
	header, err := wire.DecodeHeader([]byte(raw))
	require.NoError(t, err)
	return d.Dispatch(context.Background(), header, []byte(raw), connID)
}

func TestDispatcherRoutesByType(t *testing.T) {
	d := NewDispatcher(nil)
	h := &stubHandler{msgType: wire.TypeHeartbeat}
	require.NoError(t, d.Register(h))

	require.NoError(t, dispatchRaw(t, d, `{"type":"heartbeat","deviceId":"k1"}`, "conn-1"))
	assert.Equal(t, 1, h.calls)
}

func TestDispatcherDuplicateRegistration(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(&stubHandler{msgType: wire.TypeHeartbeat}))
	assert.Error(t, d.Register(&stubHandler{msgType: wire.TypeHeartbeat}))
}

func TestDispatcherUnknownTypeNonFatal(t *testing.T) {
	d := NewDispatcher(nil)

	var observedType, observedConn string
	d.SetUnhandled(func(header *wire.Header, raw []byte, connID string) {
		observedType = header.Type
		observedConn = connID
	})

	err := dispatchRaw(t, d, `{"type":"FutureThing","x":1}`, "conn-2")
	assert.NoError(t, err, "unknown types must not be an error")
	assert.Equal(t, "FutureThing", observedType)
	assert.Equal(t, "conn-2", observedConn)
}

func TestDispatcherContainsHandlerPanic(t *testing.T) {
	d := NewDispatcher(nil)
	require.NoError(t, d.Register(&stubHandler{
		msgType: wire.TypeHeartbeat,
		fn: func(context.Context, *wire.Header, []byte, string) error {
			panic("handler bug")
		},
	}))

	err := dispatchRaw(t, d, `{"type":"Heartbeat"}`, "conn-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler bug")
	assert.Contains(t, err.Error(), wire.TypeHeartbeat)
	assert.Contains(t, err.Error(), "conn-3")
}

func TestDispatcherHandlerErrorPropagates(t *testing.T) {
	d := NewDispatcher(nil)
	wantErr := errors.New("handler failed")
	require.NoError(t, d.Register(&stubHandler{
		msgType: wire.TypeHeartbeat,
		fn: func(context.Context, *wire.Header, []byte, string) error {
			return wantErr
		},
	}))

	err := dispatchRaw(t, d, `{"type":"Heartbeat"}`, "conn-4")
	assert.ErrorIs(t, err, wantErr)
}

func TestDispatcherEnforcesMessageOrigin(t *testing.T) {
	d := NewDispatcher(nil)
	d.SetOrigin(func(connID string) log.Peer {
		switch connID {
		case "conn-dev":
			return log.PeerDevice
		case "conn-app":
			return log.PeerApp
		default:
			return log.PeerUnknown
		}
	})

	command := &stubHandler{msgType: wire.TypeSendCommand}
	heartbeat := &stubHandler{msgType: wire.TypeHeartbeat}
	require.NoError(t, d.Register(command))
	require.NoError(t, d.Register(heartbeat))

	// A registered device must not speak app-origin types.
	err := dispatchRaw(t, d, `{"type":"SendCommand","targetId":"kiosk-1"}`, "conn-dev")
	require.Error(t, err)
	assert.Equal(t, 0, command.calls)

	// An app must not speak device-origin types.
	err = dispatchRaw(t, d, `{"type":"Heartbeat"}`, "conn-app")
	require.Error(t, err)
	assert.Equal(t, 0, heartbeat.calls)

	// Matching origins pass through.
	require.NoError(t, dispatchRaw(t, d, `{"type":"SendCommand"}`, "conn-app"))
	require.NoError(t, dispatchRaw(t, d, `{"type":"Heartbeat"}`, "conn-dev"))
	assert.Equal(t, 1, command.calls)
	assert.Equal(t, 1, heartbeat.calls)
}

func TestDispatcherUnidentifiedConnUnrestricted(t *testing.T) {
	d := NewDispatcher(nil)
	d.SetOrigin(func(string) log.Peer { return log.PeerUnknown })

	register := &stubHandler{msgType: wire.TypeRegister}
	appRegister := &stubHandler{msgType: wire.TypeAppRegister}
	require.NoError(t, d.Register(register))
	require.NoError(t, d.Register(appRegister))

	require.NoError(t, dispatchRaw(t, d, `{"type":"Register","deviceId":"kiosk-7"}`, "conn-7"))
	require.NoError(t, dispatchRaw(t, d, `{"type":"AppRegister","appId":"app-7"}`, "conn-7"))
	assert.Equal(t, 1, register.calls)
	assert.Equal(t, 1, appRegister.calls)
}

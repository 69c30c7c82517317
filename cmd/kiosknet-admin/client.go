package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/transport"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
	"github.com/kiosknet-protocol/kiosknet-go/pkg/wire"
)

// Client errors.
var (
	// ErrRejected indicates the server refused this app's registration.
	ErrRejected = errors.New("registration rejected")

	// ErrRequestTimeout indicates no response arrived in time.
	ErrRequestTimeout = errors.New("request timed out")
)

// defaultRequestTimeout bounds how long a console command waits for its
// response. Screenshots get longer since the device has to capture first.
const (
	defaultRequestTimeout    = 10 * time.Second
	screenshotRequestTimeout = 30 * time.Second
)

// authState is the outcome of an AppRegister exchange.
type authState struct {
	Token   string
	Pending bool
	Reason  string
}

// fleetClient speaks the mobile-app side of the fleet protocol. It owns
// the receive loop: responses are matched to waiting commands by request
// ID, and unsolicited broadcasts (roster updates, status changes) are
// printed to out.
type fleetClient struct {
	conn  *transport.ClientConn
	appID string
	out   io.Writer

	mu         sync.Mutex
	waiters    map[string]chan any
	authCh     chan authState
	token      string
	authorized bool

	done    chan struct{}
	readErr error
}

// dialFleet connects to a coordinator.
func dialFleet(ctx context.Context, address string, insecure bool) (*transport.ClientConn, error) {
	return transport.Dial(ctx, address, transport.ClientConfig{
		TLSConfig: &transport.TLSConfig{InsecureSkipVerify: insecure},
		Path:      "/",
	})
}

// newFleetClient wraps a connection and starts the receive loop.
func newFleetClient(conn *transport.ClientConn, appID string, out io.Writer) *fleetClient {
	c := &fleetClient{
		conn:    conn,
		appID:   appID,
		out:     out,
		waiters: make(map[string]chan any),
		authCh:  make(chan authState, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Register announces the app, presenting a previously issued token if
// available, and waits for the server's authorization decision.
func (c *fleetClient) Register(token string) (authState, error) {
	msg := &wire.AppRegisterMessage{
		Envelope: wire.NewEnvelope(wire.TypeAppRegister, version.Current),
		AppID:    c.appID,
		Name:     "KioskNet Admin Console",
		Platform: "cli",
		Token:    token,
	}
	if err := c.send(msg); err != nil {
		return authState{}, err
	}

	select {
	case state := <-c.authCh:
		if state.Token != "" {
			c.mu.Lock()
			c.token = state.Token
			c.authorized = true
			c.mu.Unlock()
		}
		return state, nil
	case <-c.done:
		return authState{}, c.closeErr()
	case <-time.After(defaultRequestTimeout):
		return authState{}, ErrRequestTimeout
	}
}

// WaitAuthorized blocks until a deferred operator approval arrives.
func (c *fleetClient) WaitAuthorized(ctx context.Context) (authState, error) {
	select {
	case state := <-c.authCh:
		if state.Token != "" {
			c.mu.Lock()
			c.token = state.Token
			c.authorized = true
			c.mu.Unlock()
		}
		return state, nil
	case <-c.done:
		return authState{}, c.closeErr()
	case <-ctx.Done():
		return authState{}, ctx.Err()
	}
}

// Token returns the bearer token issued by the server, if any.
func (c *fleetClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Authorized reports whether the server granted fleet access.
func (c *fleetClient) Authorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

// ClientList fetches the current fleet roster.
func (c *fleetClient) ClientList() ([]wire.ClientInfo, error) {
	requestID := uuid.NewString()
	reply, err := c.request(requestID, &wire.RequestClientListMessage{
		Envelope:  wire.NewEnvelope(wire.TypeRequestClientList, version.Current),
		RequestID: requestID,
	}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	update, ok := reply.(*wire.ClientListUpdateMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", reply)
	}
	return update.Clients, nil
}

// Layouts fetches the available layout catalogue.
func (c *fleetClient) Layouts() ([]wire.LayoutInfo, error) {
	requestID := uuid.NewString()
	reply, err := c.request(requestID, &wire.RequestLayoutListMessage{
		Envelope:  wire.NewEnvelope(wire.TypeRequestLayoutList, version.Current),
		RequestID: requestID,
	}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*wire.LayoutListResponseMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", reply)
	}
	return resp.Layouts, nil
}

// SendCommand relays a named command to a device and waits for its result.
func (c *fleetClient) SendCommand(targetID, name string, args map[string]string) (*wire.CommandResultMessage, error) {
	requestID := uuid.NewString()
	reply, err := c.request(requestID, &wire.SendCommandMessage{
		Envelope:  wire.NewEnvelope(wire.TypeSendCommand, version.Current),
		RequestID: requestID,
		TargetID:  targetID,
		Name:      name,
		Args:      args,
	}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	result, ok := reply.(*wire.CommandResultMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", reply)
	}
	return result, nil
}

// AssignLayout assigns a layout to a device.
func (c *fleetClient) AssignLayout(targetID, layoutID string) (*wire.CommandResultMessage, error) {
	requestID := uuid.NewString()
	reply, err := c.request(requestID, &wire.AssignLayoutMessage{
		Envelope:  wire.NewEnvelope(wire.TypeAssignLayout, version.Current),
		RequestID: requestID,
		TargetID:  targetID,
		LayoutID:  layoutID,
	}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	result, ok := reply.(*wire.CommandResultMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", reply)
	}
	return result, nil
}

// Screenshot asks a device for a screen capture.
func (c *fleetClient) Screenshot(targetID string) (*wire.ScreenshotResponseMessage, error) {
	requestID := uuid.NewString()
	reply, err := c.request(requestID, &wire.RequestScreenshotMessage{
		Envelope:  wire.NewEnvelope(wire.TypeRequestScreenshot, version.Current),
		RequestID: requestID,
		TargetID:  targetID,
	}, screenshotRequestTimeout)
	if err != nil {
		return nil, err
	}
	resp, ok := reply.(*wire.ScreenshotResponseMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", reply)
	}
	return resp, nil
}

// Close closes the connection.
func (c *fleetClient) Close() error {
	return c.conn.Close()
}

// Done is closed when the receive loop exits.
func (c *fleetClient) Done() <-chan struct{} {
	return c.done
}

func (c *fleetClient) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return transport.ErrConnectionClosed
}

func (c *fleetClient) send(msg any) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.conn.Send(data)
}

// request sends a message and waits for the response carrying requestID.
func (c *fleetClient) request(requestID string, msg any, timeout time.Duration) (any, error) {
	ch := make(chan any, 1)
	c.mu.Lock()
	c.waiters[requestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, requestID)
		c.mu.Unlock()
	}()

	if err := c.send(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-c.done:
		return nil, c.closeErr()
	case <-time.After(timeout):
		return nil, ErrRequestTimeout
	}
}

// readLoop receives messages until the connection closes, routing
// responses to waiters and printing broadcasts.
func (c *fleetClient) readLoop() {
	defer close(c.done)

	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			c.mu.Lock()
			if !errors.Is(err, transport.ErrConnectionClosed) {
				c.readErr = err
			}
			c.mu.Unlock()
			return
		}

		header, err := wire.DecodeHeader(data)
		if err != nil || !header.Known {
			continue
		}
		payload, err := wire.DecodePayload(header.Type, data)
		if err != nil {
			fmt.Fprintf(c.out, "! undecodable %s message: %v\n", header.Type, err)
			continue
		}

		c.dispatch(header.Type, payload)
	}
}

func (c *fleetClient) dispatch(canonicalType string, payload any) {
	switch msg := payload.(type) {
	case *wire.AppAuthorizedMessage:
		select {
		case c.authCh <- authState{Token: msg.Token}:
		default:
		}

	case *wire.AppAuthorizationRequiredMessage:
		select {
		case c.authCh <- authState{Pending: true, Reason: msg.Reason}:
		default:
		}

	case *wire.AppRejectedMessage:
		c.mu.Lock()
		c.readErr = fmt.Errorf("%w: %s", ErrRejected, msg.Reason)
		c.mu.Unlock()
		_ = c.conn.Close()

	case *wire.ClientListUpdateMessage:
		if !c.deliver(msg.RequestID, msg) {
			// Unsolicited roster broadcast.
			fmt.Fprintf(c.out, "* fleet roster updated (%d devices)\n", len(msg.Clients))
		}

	case *wire.ClientStatusChangedMessage:
		state := "offline"
		if msg.Online {
			state = "online"
		}
		if msg.Status != "" {
			state += ", " + msg.Status
		}
		fmt.Fprintf(c.out, "* device %s is now %s\n", msg.DeviceID, state)

	case *wire.LayoutListResponseMessage:
		c.deliver(msg.RequestID, msg)

	case *wire.CommandResultMessage:
		if !c.deliver(msg.RequestID, msg) {
			fmt.Fprintf(c.out, "* command result from %s: success=%v\n", msg.TargetID, msg.Success)
		}

	case *wire.ScreenshotResponseMessage:
		c.deliver(msg.RequestID, msg)

	case *wire.ErrorMessage:
		fmt.Fprintf(c.out, "! server error %s: %s\n", msg.Code, msg.Message)

	default:
		fmt.Fprintf(c.out, "* unexpected %s message\n", canonicalType)
	}
}

// deliver hands a response to the waiter registered for its request ID.
func (c *fleetClient) deliver(requestID string, payload any) bool {
	if requestID == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.waiters[requestID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- payload:
	default:
	}
	return true
}

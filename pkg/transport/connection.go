package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
)

// Connection states.
type ConnState int32

const (
	// ConnStateOpen indicates an active, handshaked connection.
	ConnStateOpen ConnState = iota

	// ConnStateClosing indicates a close frame has been sent and the
	// connection is waiting for the peer's close acknowledgment.
	ConnStateClosing

	// ConnStateClosed indicates the connection is fully closed.
	ConnStateClosed
)

// String returns the connection state name.
func (s ConnState) String() string {
	switch s {
	case ConnStateOpen:
		return "OPEN"
	case ConnStateClosing:
		return "CLOSING"
	case ConnStateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection errors.
var (
	// ErrConnectionClosed is returned by operations on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Message is one complete data message, reassembled from continuation
// frames if the peer fragmented it.
type Message struct {
	Opcode  Opcode // OpcodeText or OpcodeBinary
	Payload []byte
}

// Conn owns one accepted, handshaked WebSocket connection. Frame reads are
// strictly ordered: only one ReceiveMessage call may be outstanding at a
// time (the connection's handling goroutine is the sole receiver). Sends
// are internally serialized and may come from any goroutine.
type Conn struct {
	id         string
	tlsConn    *tls.Conn
	reader     *FrameReader
	writer     *FrameWriter
	remoteAddr net.Addr
	createdAt  time.Time

	state     atomic.Int32
	closeOnce sync.Once

	// onPong is invoked for received pong frames (keep-alive accounting).
	onPong atomic.Pointer[func(payload []byte)]

	logger log.Logger
}

// newConn wraps an upgraded TLS connection. reader must be the buffered
// reader returned by Upgrade so that early client frames are not lost.
func newConn(id string, tlsConn *tls.Conn, reader io.Reader, logger log.Logger, maxMessageSize int) *Conn {
	fr := NewFrameReader(reader)
	fw := NewFrameWriter(tlsConn)
	if maxMessageSize > 0 {
		fr.SetMaxMessageSize(maxMessageSize)
		fw.SetMaxMessageSize(maxMessageSize)
	}
	if logger != nil {
		fr.SetLogger(logger, id)
		fw.SetLogger(logger, id)
	}

	c := &Conn{
		id:         id,
		tlsConn:    tlsConn,
		reader:     fr,
		writer:     fw,
		remoteAddr: tlsConn.RemoteAddr(),
		createdAt:  time.Now(),
		logger:     logger,
	}
	c.state.Store(int32(ConnStateOpen))
	return c
}

// ID returns the server-assigned connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// CreatedAt returns the time the connection completed its handshake.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// IsOpen returns true while the connection can send and receive.
func (c *Conn) IsOpen() bool {
	return c.State() == ConnStateOpen
}

// TLSState returns the TLS connection state.
func (c *Conn) TLSState() tls.ConnectionState {
	return c.tlsConn.ConnectionState()
}

// SetPongHandler installs a callback invoked for each received pong frame.
func (c *Conn) SetPongHandler(fn func(payload []byte)) {
	c.onPong.Store(&fn)
}

// SendText sends a single text frame. Concurrent callers are serialized;
// frames are never interleaved on the wire.
func (c *Conn) SendText(payload []byte) error {
	return c.SendFrame(OpcodeText, payload)
}

// SendFrame sends a single frame with the given opcode.
func (c *Conn) SendFrame(opcode Opcode, payload []byte) error {
	if c.State() == ConnStateClosed {
		return ErrConnectionClosed
	}
	if err := c.writer.WriteFrame(opcode, payload); err != nil {
		return fmt.Errorf("send on %s: %w", c.id, err)
	}
	return nil
}

// SetReadDeadline bounds the next frame read. Zero clears the deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.tlsConn.SetReadDeadline(t)
}

// ReceiveMessage blocks until a complete data message is available, the
// peer closes, or a transport error occurs. Control frames are handled
// inline: pings are answered with pongs, pongs are routed to the pong
// handler, and a close frame is acknowledged before ErrConnectionClosed is
// returned. Calling ReceiveMessage on a closed connection returns
// ErrConnectionClosed immediately; it never hangs.
func (c *Conn) ReceiveMessage() (*Message, error) {
	if c.State() == ConnStateClosed {
		return nil, ErrConnectionClosed
	}

	var (
		opcode    Opcode
		payload   []byte
		assembled bool
	)

	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if c.State() != ConnStateOpen || err == io.EOF {
				c.ForceClose()
				return nil, ErrConnectionClosed
			}
			c.ForceClose()
			return nil, err
		}

		if frame.Opcode.IsControl() {
			if closed := c.handleControlFrame(frame); closed {
				return nil, ErrConnectionClosed
			}
			continue
		}

		switch frame.Opcode {
		case OpcodeContinuation:
			if !assembled {
				c.ForceClose()
				return nil, fmt.Errorf("%w: continuation without initial frame", ErrMalformedFrame)
			}
			payload = append(payload, frame.Payload...)
		case OpcodeText, OpcodeBinary:
			if assembled {
				c.ForceClose()
				return nil, fmt.Errorf("%w: new data frame inside fragmented message", ErrMalformedFrame)
			}
			assembled = true
			opcode = frame.Opcode
			payload = frame.Payload
		default:
			c.ForceClose()
			return nil, fmt.Errorf("%w: opcode %s", ErrMalformedFrame, frame.Opcode)
		}

		if len(payload) > c.reader.maxMessageSize {
			c.ForceClose()
			return nil, fmt.Errorf("%w: reassembled message %d > %d",
				ErrMessageTooLarge, len(payload), c.reader.maxMessageSize)
		}

		if frame.Fin {
			return &Message{Opcode: opcode, Payload: payload}, nil
		}
	}
}

// handleControlFrame processes a control frame. Returns true if the frame
// closed the connection.
func (c *Conn) handleControlFrame(frame *Frame) bool {
	switch frame.Opcode {
	case OpcodePing:
		c.logControl(log.ControlMsgPing, log.DirectionIn, 0, "")
		// Echo the application data per RFC 6455 §5.5.3.
		_ = c.SendFrame(OpcodePong, frame.Payload)
		c.logControl(log.ControlMsgPong, log.DirectionOut, 0, "")
		return false

	case OpcodePong:
		c.logControl(log.ControlMsgPong, log.DirectionIn, 0, "")
		if fn := c.onPong.Load(); fn != nil {
			(*fn)(frame.Payload)
		}
		return false

	case OpcodeClose:
		code, reason := DecodeClosePayload(frame.Payload)
		c.logControl(log.ControlMsgClose, log.DirectionIn, code, reason)
		if c.State() == ConnStateOpen {
			// Peer-initiated close: acknowledge before tearing down.
			_ = c.SendFrame(OpcodeClose, EncodeClosePayload(code, ""))
			c.logControl(log.ControlMsgClose, log.DirectionOut, code, "")
		}
		c.ForceClose()
		return true

	default:
		return false
	}
}

// Close performs a graceful close: it sends a close frame with the given
// status code and reason, then closes the underlying socket. Safe to call
// from any goroutine and idempotent.
func (c *Conn) Close(code uint16, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(ConnStateClosing))
		_ = c.writer.WriteFrame(OpcodeClose, EncodeClosePayload(code, reason))
		c.logControl(log.ControlMsgClose, log.DirectionOut, code, reason)
		c.state.Store(int32(ConnStateClosed))
		err = c.tlsConn.Close()
	})
	return err
}

// ForceClose immediately closes the socket without a close frame exchange.
func (c *Conn) ForceClose() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(ConnStateClosed))
		_ = c.tlsConn.Close()
	})
	c.state.Store(int32(ConnStateClosed))
}

// logControl logs a control frame event.
func (c *Conn) logControl(msgType log.ControlMsgType, direction log.Direction, code uint16, reason string) {
	if c.logger == nil {
		return
	}
	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		RemoteAddr:   c.remoteAddr.String(),
		ControlMsg: &log.ControlMsgEvent{
			Type: msgType,
		},
	}
	if msgType == log.ControlMsgClose {
		event.ControlMsg.CloseCode = code
		event.ControlMsg.CloseReason = reason
	}
	c.logger.Log(event)
}

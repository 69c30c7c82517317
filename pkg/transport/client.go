package transport

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Client errors.
var (
	// ErrBadHandshakeResponse indicates the server's upgrade response was
	// not a valid 101 with a matching Sec-WebSocket-Accept.
	ErrBadHandshakeResponse = errors.New("bad handshake response")
)

// ClientConfig configures a KioskNet client connection. The client side is
// used by the admin console and by tests; fleet devices implement the same
// wire protocol in firmware.
type ClientConfig struct {
	// TLSConfig contains TLS settings.
	TLSConfig *TLSConfig

	// Path is the request path for the upgrade request (default "/").
	Path string

	// MaxMessageSize is the maximum message size (default: 1MB).
	MaxMessageSize int

	// ConnectTimeout is the connection timeout (default: 30s).
	ConnectTimeout time.Duration
}

// ClientConn is a client-side WebSocket connection. Outgoing frames are
// masked as RFC 6455 requires of clients.
type ClientConn struct {
	conn   *tls.Conn
	reader *FrameReader
	writer *FrameWriter

	closed    atomic.Bool
	closeOnce sync.Once
}

// Dial connects to a KioskNet server: TCP, TLS handshake, then the
// WebSocket upgrade exchange.
func Dial(ctx context.Context, address string, config ClientConfig) (*ClientConn, error) {
	if config.TLSConfig == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if config.Path == "" {
		config.Path = "/"
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	tlsConf, err := NewClientTLSConfig(config.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	if tlsConf.ServerName == "" {
		host, _, splitErr := net.SplitHostPort(address)
		if splitErr == nil {
			tlsConf.ServerName = host
		}
	}

	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	tlsConn := tls.Client(rawConn, tlsConf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	reader, err := clientHandshake(tlsConn, address, config.Path)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}

	fr := NewClientFrameReader(reader)
	fr.SetMaxMessageSize(config.MaxMessageSize)
	fw := NewMaskedFrameWriter(tlsConn)
	fw.SetMaxMessageSize(config.MaxMessageSize)

	return &ClientConn{
		conn:   tlsConn,
		reader: fr,
		writer: fw,
	}, nil
}

// clientHandshake sends the upgrade request and validates the response.
func clientHandshake(rw io.ReadWriter, address, path string) (*bufio.Reader, error) {
	var keyBytes [16]byte
	if _, err := rand.Read(keyBytes[:]); err != nil {
		return nil, fmt.Errorf("failed to generate handshake key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(keyBytes[:])

	request := "GET " + path + " HTTP/1.1\r\n" +
		"Host: " + address + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := rw.Write([]byte(request)); err != nil {
		return nil, fmt.Errorf("failed to write handshake request: %w", err)
	}

	reader := bufio.NewReader(rw)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("%w: status %s", ErrBadHandshakeResponse, resp.Status)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != AcceptKey(key) {
		return nil, fmt.Errorf("%w: Sec-WebSocket-Accept mismatch", ErrBadHandshakeResponse)
	}

	return reader, nil
}

// Send sends a single masked text frame.
func (c *ClientConn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.writer.WriteFrame(OpcodeText, data)
}

// SendFrame sends a single masked frame with the given opcode.
func (c *ClientConn) SendFrame(opcode Opcode, payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.writer.WriteFrame(opcode, payload)
}

// Receive blocks until a complete data message arrives. Pings are answered
// automatically; a server close frame is acknowledged and surfaces as
// ErrConnectionClosed.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	var payload []byte
	assembled := false
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if err == io.EOF {
				c.forceClose()
				return nil, ErrConnectionClosed
			}
			return nil, err
		}

		switch frame.Opcode {
		case OpcodePing:
			_ = c.writer.WriteFrame(OpcodePong, frame.Payload)
		case OpcodePong:
			// No client-side keep-alive accounting.
		case OpcodeClose:
			if !c.closed.Load() {
				code, _ := DecodeClosePayload(frame.Payload)
				_ = c.writer.WriteFrame(OpcodeClose, EncodeClosePayload(code, ""))
			}
			c.forceClose()
			return nil, ErrConnectionClosed
		case OpcodeContinuation:
			if !assembled {
				return nil, fmt.Errorf("%w: continuation without initial frame", ErrMalformedFrame)
			}
			payload = append(payload, frame.Payload...)
			if frame.Fin {
				return payload, nil
			}
		case OpcodeText, OpcodeBinary:
			if assembled {
				return nil, fmt.Errorf("%w: new data frame inside fragmented message", ErrMalformedFrame)
			}
			assembled = true
			payload = frame.Payload
			if frame.Fin {
				return payload, nil
			}
		}
	}
}

// Close sends a close frame and closes the socket.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.writer.WriteFrame(OpcodeClose, EncodeClosePayload(CloseNormal, ""))
		err = c.conn.Close()
	})
	return err
}

func (c *ClientConn) forceClose() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.conn.Close()
	})
	c.closed.Store(true)
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

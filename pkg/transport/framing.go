package transport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/log"
)

// Framing constants.
const (
	// DefaultMaxMessageSize is the default maximum message size (1 MB).
	DefaultMaxMessageSize = 1 << 20

	// MaxControlPayload is the maximum control frame payload per RFC 6455.
	MaxControlPayload = 125

	// MaxLogFrameDataSize is the maximum frame payload size to include in
	// logs (4 KB). Larger frames are truncated in log events.
	MaxLogFrameDataSize = 4096

	// payload length markers in the second header byte
	payloadLen16 = 126
	payloadLen64 = 127

	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80
)

// Opcode identifies a WebSocket frame type.
type Opcode uint8

// Frame opcodes per RFC 6455.
const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
)

// IsControl returns true for close, ping, and pong opcodes.
func (o Opcode) IsControl() bool {
	return o >= OpcodeClose
}

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "CONTINUATION"
	case OpcodeText:
		return "TEXT"
	case OpcodeBinary:
		return "BINARY"
	case OpcodeClose:
		return "CLOSE"
	case OpcodePing:
		return "PING"
	case OpcodePong:
		return "PONG"
	default:
		return fmt.Sprintf("OPCODE(%#x)", uint8(o))
	}
}

// Framing errors.
var (
	// ErrMessageTooLarge indicates the message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrFrameTruncated indicates the stream ended inside a frame.
	ErrFrameTruncated = errors.New("frame truncated")

	// ErrMalformedFrame indicates a frame that violates RFC 6455 framing
	// rules (reserved bits set, bad length encoding, oversized or
	// fragmented control frame).
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnmaskedFrame indicates a client frame arrived without the
	// mandatory mask.
	ErrUnmaskedFrame = errors.New("client frame not masked")
)

// Frame is one decoded WebSocket frame. Frames are ephemeral: constructed
// per receive and never persisted.
type Frame struct {
	Opcode  Opcode
	Fin     bool
	Payload []byte
}

// FrameWriter writes WebSocket frames to an underlying writer.
// Server-to-client frames are unmasked; set mask for client use.
type FrameWriter struct {
	w              io.Writer
	maxMessageSize int
	mask           bool
	mu             sync.Mutex

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameWriter creates a frame writer producing unmasked server frames.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// NewMaskedFrameWriter creates a frame writer producing masked client frames.
func NewMaskedFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxMessageSize: DefaultMaxMessageSize,
		mask:           true,
	}
}

// SetMaxMessageSize updates the maximum outgoing payload size.
func (fw *FrameWriter) SetMaxMessageSize(size int) {
	fw.maxMessageSize = size
}

// SetLogger configures logging for this writer.
// Pass nil to disable logging.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes a single frame with FIN set.
// Thread-safe: concurrent callers never interleave frame bytes.
func (fw *FrameWriter) WriteFrame(opcode Opcode, payload []byte) error {
	if len(payload) > fw.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, len(payload), fw.maxMessageSize)
	}
	if opcode.IsControl() && len(payload) > MaxControlPayload {
		return fmt.Errorf("%w: control payload %d > %d", ErrMalformedFrame, len(payload), MaxControlPayload)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	header := make([]byte, 2, 14)
	header[0] = finBit | byte(opcode)

	switch {
	case len(payload) <= 125:
		header[1] = byte(len(payload))
	case len(payload) <= 0xFFFF:
		header[1] = payloadLen16
		header = binary.BigEndian.AppendUint16(header, uint16(len(payload)))
	default:
		header[1] = payloadLen64
		header = binary.BigEndian.AppendUint64(header, uint64(len(payload)))
	}

	body := payload
	if fw.mask {
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			return fmt.Errorf("failed to generate mask key: %w", err)
		}
		header[1] |= maskBit
		header = append(header, key[:]...)

		body = make([]byte, len(payload))
		for i, b := range payload {
			body[i] = b ^ key[i%4]
		}
	}

	if _, err := fw.w.Write(header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if len(body) > 0 {
		if _, err := fw.w.Write(body); err != nil {
			return fmt.Errorf("failed to write frame payload: %w", err)
		}
	}

	if fw.logger != nil {
		fw.logger.Log(makeFrameEvent(fw.connID, opcode, payload, log.DirectionOut))
	}

	return nil
}

// FrameReader reads WebSocket frames from an underlying reader.
type FrameReader struct {
	r              io.Reader
	maxMessageSize int
	requireMask    bool
	headerBuf      [8]byte

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameReader creates a frame reader for server use: incoming client
// frames must be masked per RFC 6455.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: DefaultMaxMessageSize,
		requireMask:    true,
	}
}

// NewClientFrameReader creates a frame reader for client use: incoming
// server frames are unmasked.
func NewClientFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		r:              r,
		maxMessageSize: DefaultMaxMessageSize,
	}
}

// SetMaxMessageSize updates the maximum incoming payload size.
func (fr *FrameReader) SetMaxMessageSize(size int) {
	fr.maxMessageSize = size
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame reads one frame, unmasking the payload if a mask is present.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.headerBuf[:2]); err != nil {
		return nil, mapReadErr(err, "frame header")
	}

	b0, b1 := fr.headerBuf[0], fr.headerBuf[1]
	if b0&rsvBits != 0 {
		return nil, fmt.Errorf("%w: reserved bits set", ErrMalformedFrame)
	}

	frame := &Frame{
		Fin:    b0&finBit != 0,
		Opcode: Opcode(b0 & 0x0F),
	}
	masked := b1&maskBit != 0
	length := uint64(b1 & 0x7F)

	if frame.Opcode.IsControl() {
		if !frame.Fin {
			return nil, fmt.Errorf("%w: fragmented control frame", ErrMalformedFrame)
		}
		if length > MaxControlPayload {
			return nil, fmt.Errorf("%w: control payload length %d", ErrMalformedFrame, length)
		}
	}

	switch length {
	case payloadLen16:
		if _, err := io.ReadFull(fr.r, fr.headerBuf[:2]); err != nil {
			return nil, mapReadErr(err, "extended length")
		}
		length = uint64(binary.BigEndian.Uint16(fr.headerBuf[:2]))
	case payloadLen64:
		if _, err := io.ReadFull(fr.r, fr.headerBuf[:8]); err != nil {
			return nil, mapReadErr(err, "extended length")
		}
		length = binary.BigEndian.Uint64(fr.headerBuf[:8])
		if length&(1<<63) != 0 {
			return nil, fmt.Errorf("%w: 64-bit length with high bit set", ErrMalformedFrame)
		}
	}

	if length > uint64(fr.maxMessageSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, fr.maxMessageSize)
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(fr.r, maskKey[:]); err != nil {
			return nil, mapReadErr(err, "mask key")
		}
	} else if fr.requireMask {
		return nil, ErrUnmaskedFrame
	}

	frame.Payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, frame.Payload); err != nil {
			return nil, mapReadErr(err, "payload")
		}
		if masked {
			for i := range frame.Payload {
				frame.Payload[i] ^= maskKey[i%4]
			}
		}
	}

	if fr.logger != nil {
		fr.logger.Log(makeFrameEvent(fr.connID, frame.Opcode, frame.Payload, log.DirectionIn))
	}

	return frame, nil
}

// mapReadErr converts stream read errors into framing errors. A clean EOF at
// a frame boundary is passed through so callers can detect peer close.
func mapReadErr(err error, what string) error {
	if err == io.EOF {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrFrameTruncated
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}

// makeFrameEvent creates a log event for a frame.
func makeFrameEvent(connID string, opcode Opcode, payload []byte, direction log.Direction) log.Event {
	frameData := payload
	truncated := false
	if len(payload) > MaxLogFrameDataSize {
		frameData = payload[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Opcode:    uint8(opcode),
			Size:      len(payload),
			Data:      frameData,
			Truncated: truncated,
		},
	}
}

// EncodeClosePayload builds a close frame payload from a status code and
// an optional reason.
func EncodeClosePayload(code uint16, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	if len(payload) > MaxControlPayload {
		payload = payload[:MaxControlPayload]
	}
	return payload
}

// DecodeClosePayload parses a close frame payload. An empty payload yields
// CloseNoStatus.
func DecodeClosePayload(payload []byte) (code uint16, reason string) {
	if len(payload) < 2 {
		return CloseNoStatus, ""
	}
	return binary.BigEndian.Uint16(payload[:2]), string(payload[2:])
}

// Close status codes per RFC 6455 §7.4.1.
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseNoStatus        uint16 = 1005
	CloseInternalError   uint16 = 1011
)

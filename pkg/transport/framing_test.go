package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

func TestFrameRoundTripLengthTiers(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "Empty", size: 0},
		{name: "Tiny", size: 1},
		{name: "MaxShort", size: 125},
		{name: "MinExtended16", size: 126},
		{name: "Extended16", size: 4096},
		{name: "MaxExtended16", size: 0xFFFF},
		{name: "MinExtended64", size: 0x10000},
		{name: "Extended64", size: 200_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{0xAB}, tt.size)

			var buf bytes.Buffer
			fw := NewFrameWriter(&buf)
			if err := fw.WriteFrame(OpcodeBinary, payload); err != nil {
				t.Fatalf("WriteFrame() error: %v", err)
			}

			fr := NewClientFrameReader(&buf)
			frame, err := fr.ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame() error: %v", err)
			}
			if frame.Opcode != OpcodeBinary {
				t.Errorf("Opcode = %v, want BINARY", frame.Opcode)
			}
			if !frame.Fin {
				t.Error("Fin should be set")
			}
			if !bytes.Equal(frame.Payload, payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(frame.Payload), len(payload))
			}
		})
	}
}

func TestFrameHeaderEncoding(t *testing.T) {
	tests := []struct {
		size       int
		wantLen7   byte
		wantExtLen int
	}{
		{size: 0, wantLen7: 0, wantExtLen: 0},
		{size: 125, wantLen7: 125, wantExtLen: 0},
		{size: 126, wantLen7: 126, wantExtLen: 2},
		{size: 0xFFFF, wantLen7: 126, wantExtLen: 2},
		{size: 0x10000, wantLen7: 127, wantExtLen: 8},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		fw := NewFrameWriter(&buf)
		if err := fw.WriteFrame(OpcodeText, make([]byte, tt.size)); err != nil {
			t.Fatalf("WriteFrame(%d bytes): %v", tt.size, err)
		}

		raw := buf.Bytes()
		if raw[0] != finBit|byte(OpcodeText) {
			t.Errorf("size %d: first byte = %#x, want FIN|TEXT", tt.size, raw[0])
		}
		if raw[1]&maskBit != 0 {
			t.Errorf("size %d: server frame must not be masked", tt.size)
		}
		if raw[1]&0x7F != tt.wantLen7 {
			t.Errorf("size %d: len7 = %d, want %d", tt.size, raw[1]&0x7F, tt.wantLen7)
		}
		switch tt.wantExtLen {
		case 2:
			if got := binary.BigEndian.Uint16(raw[2:4]); got != uint16(tt.size) {
				t.Errorf("size %d: extended16 = %d", tt.size, got)
			}
		case 8:
			if got := binary.BigEndian.Uint64(raw[2:10]); got != uint64(tt.size) {
				t.Errorf("size %d: extended64 = %d", tt.size, got)
			}
		}
	}
}

func TestMaskedFrameRoundTrip(t *testing.T) {
	payload := []byte("Hello, fleet!")

	var buf bytes.Buffer
	fw := NewMaskedFrameWriter(&buf)
	if err := fw.WriteFrame(OpcodeText, payload); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}

	raw := buf.Bytes()
	if raw[1]&maskBit == 0 {
		t.Fatal("client frame must carry the mask bit")
	}
	// Masked payload bytes must differ from the plaintext unless the
	// random key happens to contain zeros; check the mask was applied by
	// decoding instead.
	fr := NewFrameReader(&buf)
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("payload = %q, want %q", frame.Payload, payload)
	}
}

func TestServerRejectsUnmaskedClientFrame(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf) // unmasked
	if err := fw.WriteFrame(OpcodeText, []byte("naked")); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}

	fr := NewFrameReader(&buf) // server side requires mask
	if _, err := fr.ReadFrame(); !errors.Is(err, ErrUnmaskedFrame) {
		t.Errorf("ReadFrame() error = %v, want ErrUnmaskedFrame", err)
	}
}

func TestReadFrameMalformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		wantErr error
	}{
		{
			name:    "reserved bits set",
			raw:     []byte{finBit | 0x40 | byte(OpcodeText), 0x00},
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "fragmented control frame",
			raw:     []byte{byte(OpcodePing), 0x00},
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "oversized control length",
			raw:     []byte{finBit | byte(OpcodePing), 126, 0x00, 0xFF},
			wantErr: ErrMalformedFrame,
		},
		{
			name: "64-bit length high bit set",
			raw: append([]byte{finBit | byte(OpcodeBinary), 127},
				0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF),
			wantErr: ErrMalformedFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := NewClientFrameReader(bytes.NewReader(tt.raw))
			if _, err := fr.ReadFrame(); !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	if err := fw.WriteFrame(OpcodeBinary, bytes.Repeat([]byte{1}, 300)); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}

	// Cut the stream inside the payload.
	raw := buf.Bytes()[:buf.Len()-50]
	fr := NewClientFrameReader(bytes.NewReader(raw))
	if _, err := fr.ReadFrame(); !errors.Is(err, ErrFrameTruncated) {
		t.Errorf("ReadFrame() error = %v, want ErrFrameTruncated", err)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	fr := NewClientFrameReader(bytes.NewReader(nil))
	if _, err := fr.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame() on empty stream = %v, want io.EOF", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	if err := fw.WriteFrame(OpcodeBinary, make([]byte, 2048)); err != nil {
		t.Fatalf("WriteFrame() error: %v", err)
	}

	fr := NewClientFrameReader(&buf)
	fr.SetMaxMessageSize(1024)
	if _, err := fr.ReadFrame(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("ReadFrame() error = %v, want ErrMessageTooLarge", err)
	}
}

func TestWriteFrameControlTooLarge(t *testing.T) {
	fw := NewFrameWriter(io.Discard)
	err := fw.WriteFrame(OpcodePing, make([]byte, MaxControlPayload+1))
	if !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("WriteFrame() error = %v, want ErrMalformedFrame", err)
	}
}

func TestConcurrentWritersNeverInterleave(t *testing.T) {
	var buf bytes.Buffer
	var bufMu sync.Mutex
	// Serialize the underlying writer only at the byte level; the frame
	// writer's own mutex must keep whole frames contiguous.
	lockedWriter := writerFunc(func(p []byte) (int, error) {
		bufMu.Lock()
		defer bufMu.Unlock()
		return buf.Write(p)
	})

	fw := NewFrameWriter(lockedWriter)

	const writers = 8
	const perWriter = 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			payload := []byte(strings.Repeat(string(rune('a'+w)), 64))
			for i := 0; i < perWriter; i++ {
				if err := fw.WriteFrame(OpcodeText, payload); err != nil {
					t.Errorf("WriteFrame: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	// Decode the whole stream back; every frame must be intact and
	// uniform in content.
	fr := NewClientFrameReader(&buf)
	frames := 0
	for {
		frame, err := fr.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame() error after %d frames: %v", frames, err)
		}
		if len(frame.Payload) != 64 {
			t.Fatalf("frame %d: payload length %d, want 64", frames, len(frame.Payload))
		}
		for _, b := range frame.Payload {
			if b != frame.Payload[0] {
				t.Fatalf("frame %d: interleaved payload %q", frames, frame.Payload)
			}
		}
		frames++
	}
	if frames != writers*perWriter {
		t.Errorf("decoded %d frames, want %d", frames, writers*perWriter)
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestClosePayloadRoundTrip(t *testing.T) {
	payload := EncodeClosePayload(CloseGoingAway, "server shutting down")
	code, reason := DecodeClosePayload(payload)
	if code != CloseGoingAway {
		t.Errorf("code = %d, want %d", code, CloseGoingAway)
	}
	if reason != "server shutting down" {
		t.Errorf("reason = %q", reason)
	}

	code, reason = DecodeClosePayload(nil)
	if code != CloseNoStatus || reason != "" {
		t.Errorf("empty payload = (%d, %q), want (%d, \"\")", code, reason, CloseNoStatus)
	}

	// Overlong reasons are clipped to the control frame limit.
	long := EncodeClosePayload(CloseNormal, strings.Repeat("x", 200))
	if len(long) > MaxControlPayload {
		t.Errorf("close payload length %d exceeds control limit", len(long))
	}
}

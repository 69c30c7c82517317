package transport

import (
	"bufio"
	"bytes"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestAcceptKey(t *testing.T) {
	// Known vector from RFC 6455 §1.3.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("AcceptKey() = %q, want %q", got, want)
	}
}

// duplexBuffer is an io.ReadWriter with separate read and write sides.
type duplexBuffer struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (d *duplexBuffer) Read(p []byte) (int, error)  { return d.in.Read(p) }
func (d *duplexBuffer) Write(p []byte) (int, error) { return d.out.Write(p) }

func upgradeRequest(lines ...string) *duplexBuffer {
	base := []string{
		"GET /fleet HTTP/1.1",
		"Host: server.local",
	}
	base = append(base, lines...)
	raw := strings.Join(base, "\r\n") + "\r\n\r\n"
	return &duplexBuffer{in: bytes.NewBufferString(raw), out: &bytes.Buffer{}}
}

func TestUpgradeSuccess(t *testing.T) {
	rw := upgradeRequest(
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
		"Sec-WebSocket-Version: 13",
	)

	reader, req, err := Upgrade(rw)
	if err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}
	if reader == nil {
		t.Fatal("Upgrade() returned nil reader")
	}
	if req.Path != "/fleet" {
		t.Errorf("Path = %q, want /fleet", req.Path)
	}
	if req.Host != "server.local" {
		t.Errorf("Host = %q", req.Host)
	}

	response := rw.out.String()
	if !strings.HasPrefix(response, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Errorf("response = %q, want 101", response)
	}
	if !strings.Contains(response, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n") {
		t.Errorf("response missing accept key: %q", response)
	}
}

func TestUpgradeAbsentVersionTolerated(t *testing.T) {
	rw := upgradeRequest(
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
	)
	if _, _, err := Upgrade(rw); err != nil {
		t.Errorf("Upgrade() without version header: %v", err)
	}
}

func TestUpgradeConnectionTokenList(t *testing.T) {
	rw := upgradeRequest(
		"Upgrade: websocket",
		"Connection: keep-alive, Upgrade",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
	)
	if _, _, err := Upgrade(rw); err != nil {
		t.Errorf("Upgrade() with token list Connection header: %v", err)
	}
}

func TestUpgradeFailures(t *testing.T) {
	tests := []struct {
		name       string
		request    string
		wantErr    error
		wantStatus string
	}{
		{
			name: "missing upgrade header",
			request: "GET /fleet HTTP/1.1\r\nHost: h\r\n" +
				"Connection: Upgrade\r\nSec-WebSocket-Key: abc\r\n\r\n",
			wantErr:    ErrNotWebSocketUpgrade,
			wantStatus: "426 Upgrade Required",
		},
		{
			name: "missing connection header",
			request: "GET /fleet HTTP/1.1\r\nHost: h\r\n" +
				"Upgrade: websocket\r\nSec-WebSocket-Key: abc\r\n\r\n",
			wantErr:    ErrNotWebSocketUpgrade,
			wantStatus: "426 Upgrade Required",
		},
		{
			name: "missing key",
			request: "GET /fleet HTTP/1.1\r\nHost: h\r\n" +
				"Upgrade: websocket\r\nConnection: Upgrade\r\n\r\n",
			wantErr:    ErrMissingWebSocketKey,
			wantStatus: "400 Bad Request",
		},
		{
			name: "wrong version",
			request: "GET /fleet HTTP/1.1\r\nHost: h\r\n" +
				"Upgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Key: abc\r\nSec-WebSocket-Version: 8\r\n\r\n",
			wantErr:    ErrNotWebSocketUpgrade,
			wantStatus: "426 Upgrade Required",
		},
		{
			name: "wrong method",
			request: "POST /fleet HTTP/1.1\r\nHost: h\r\n" +
				"Upgrade: websocket\r\nConnection: Upgrade\r\n" +
				"Sec-WebSocket-Key: abc\r\nContent-Length: 0\r\n\r\n",
			wantErr:    ErrNotWebSocketUpgrade,
			wantStatus: "426 Upgrade Required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rw := &duplexBuffer{in: bytes.NewBufferString(tt.request), out: &bytes.Buffer{}}
			_, _, err := Upgrade(rw)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Upgrade() error = %v, want %v", err, tt.wantErr)
			}
			if !strings.HasPrefix(rw.out.String(), "HTTP/1.1 "+tt.wantStatus) {
				t.Errorf("response = %q, want status %s", rw.out.String(), tt.wantStatus)
			}
		})
	}
}

func TestUpgradeReaderKeepsBufferedBytes(t *testing.T) {
	// A client may send its first frame immediately after the handshake;
	// those bytes must come back out of the returned reader.
	rw := upgradeRequest(
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
	)

	var early bytes.Buffer
	mw := NewMaskedFrameWriter(&early)
	if err := mw.WriteFrame(OpcodeText, []byte("early bird")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	rw.in.Write(early.Bytes())

	reader, _, err := Upgrade(rw)
	if err != nil {
		t.Fatalf("Upgrade() error: %v", err)
	}

	fr := NewFrameReader(reader)
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error: %v", err)
	}
	if string(frame.Payload) != "early bird" {
		t.Errorf("payload = %q", frame.Payload)
	}
}

func TestHeaderContainsToken(t *testing.T) {
	tests := []struct {
		value string
		token string
		want  bool
	}{
		{"Upgrade", "upgrade", true},
		{"keep-alive, Upgrade", "upgrade", true},
		{"keep-alive", "upgrade", false},
		{"", "upgrade", false},
		{"UPGRADE", "upgrade", true},
	}
	for _, tt := range tests {
		if got := headerContainsToken(tt.value, tt.token); got != tt.want {
			t.Errorf("headerContainsToken(%q, %q) = %v, want %v", tt.value, tt.token, got, tt.want)
		}
	}
}

// Guard against accidental reliance on http.ReadRequest normalization.
func TestValidateUpgradeCaseInsensitive(t *testing.T) {
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(
		"GET / HTTP/1.1\r\nHost: h\r\nupgrade: WebSocket\r\nconnection: upgrade\r\n" +
			"Sec-WebSocket-Key: abc\r\n\r\n")))
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if err := validateUpgrade(req); err != nil {
		t.Errorf("validateUpgrade() = %v, want nil", err)
	}
}

package transport

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// websocketGUID is the magic GUID from RFC 6455 §1.3 used to compute the
// Sec-WebSocket-Accept response header.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Handshake errors.
var (
	// ErrNotWebSocketUpgrade indicates the HTTP request is not a valid
	// WebSocket upgrade request.
	ErrNotWebSocketUpgrade = errors.New("not a WebSocket upgrade request")

	// ErrMissingWebSocketKey indicates the upgrade request lacks a
	// Sec-WebSocket-Key header.
	ErrMissingWebSocketKey = errors.New("missing Sec-WebSocket-Key header")
)

// UpgradeRequest holds the fields of an accepted upgrade request that the
// server cares about after the handshake.
type UpgradeRequest struct {
	// Path is the request path, e.g. "/fleet".
	Path string

	// Host is the Host header.
	Host string

	// Key is the client's Sec-WebSocket-Key.
	Key string
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// base64(SHA-1(key + GUID)) per RFC 6455 §4.2.2.
func AcceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, websocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Upgrade reads the client's HTTP upgrade request from rw (already TLS
// wrapped), validates it, and writes the 101 Switching Protocols response.
// On success the returned bufio.Reader must be used for all subsequent
// reads: it may hold frame bytes the client sent immediately after the
// handshake. On failure an HTTP error response is written and the caller
// must close the connection.
func Upgrade(rw io.ReadWriter) (*bufio.Reader, *UpgradeRequest, error) {
	reader := bufio.NewReader(rw)

	req, err := http.ReadRequest(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read upgrade request: %w", err)
	}

	if err := validateUpgrade(req); err != nil {
		writeHandshakeError(rw, err)
		return nil, nil, err
	}

	key := req.Header.Get("Sec-WebSocket-Key")
	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n" +
		"\r\n"
	if _, err := rw.Write([]byte(response)); err != nil {
		return nil, nil, fmt.Errorf("failed to write handshake response: %w", err)
	}

	return reader, &UpgradeRequest{
		Path: req.URL.Path,
		Host: req.Host,
		Key:  key,
	}, nil
}

// validateUpgrade checks that the request is a well-formed WebSocket
// upgrade per RFC 6455 §4.2.1.
func validateUpgrade(req *http.Request) error {
	if req.Method != http.MethodGet {
		return fmt.Errorf("%w: method %s", ErrNotWebSocketUpgrade, req.Method)
	}
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return fmt.Errorf("%w: Upgrade header %q", ErrNotWebSocketUpgrade, req.Header.Get("Upgrade"))
	}
	if !headerContainsToken(req.Header.Get("Connection"), "upgrade") {
		return fmt.Errorf("%w: Connection header %q", ErrNotWebSocketUpgrade, req.Header.Get("Connection"))
	}
	if req.Header.Get("Sec-WebSocket-Key") == "" {
		return ErrMissingWebSocketKey
	}
	// Version 13 is the only one the fleet firmware ever sent; accept an
	// absent header for the oldest units.
	if v := req.Header.Get("Sec-WebSocket-Version"); v != "" && v != "13" {
		return fmt.Errorf("%w: Sec-WebSocket-Version %q", ErrNotWebSocketUpgrade, v)
	}
	return nil
}

// headerContainsToken reports whether a comma-separated header value
// contains the given token, case-insensitively.
func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// writeHandshakeError writes an HTTP error response for a failed handshake.
func writeHandshakeError(w io.Writer, err error) {
	status := "400 Bad Request"
	if errors.Is(err, ErrNotWebSocketUpgrade) {
		status = "426 Upgrade Required"
	}
	body := err.Error()
	response := "HTTP/1.1 " + status + "\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		fmt.Sprintf("Content-Length: %d\r\n", len(body)) +
		"Connection: close\r\n" +
		"\r\n" +
		body
	_, _ = w.Write([]byte(response))
}

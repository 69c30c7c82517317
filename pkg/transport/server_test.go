package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/cert"
)

var (
	loopbackCertOnce sync.Once
	loopbackCertPair tls.Certificate
	loopbackCertErr  error
)

// loopbackCert returns a self-signed certificate for 127.0.0.1, generated
// once and shared by every integration test in the package.
func loopbackCert(t *testing.T) tls.Certificate {
	t.Helper()
	loopbackCertOnce.Do(func() {
		loopbackCertPair, loopbackCertErr = cert.GenerateSelfSigned("kiosknet-test", []string{"127.0.0.1"})
	})
	if loopbackCertErr != nil {
		t.Fatalf("failed to generate test certificate: %v", loopbackCertErr)
	}
	return loopbackCertPair
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

type received struct {
	conn *Conn
	msg  *Message
}

// serverHarness runs a real Server on a loopback TLS listener and funnels
// its callbacks into channels the tests can wait on.
type serverHarness struct {
	server       *Server
	connected    chan *Conn
	disconnected chan *Conn
	messages     chan received
	errs         chan error
}

func startServer(t *testing.T, mutate func(*ServerConfig)) *serverHarness {
	t.Helper()

	h := &serverHarness{
		connected:    make(chan *Conn, 4),
		disconnected: make(chan *Conn, 4),
		messages:     make(chan received, 16),
		errs:         make(chan error, 4),
	}

	config := ServerConfig{
		TLSConfig:       &TLSConfig{Certificate: loopbackCert(t)},
		Host:            "127.0.0.1",
		Port:            freePort(t),
		ShutdownTimeout: 2 * time.Second,
		OnConnect:       func(c *Conn) { h.connected <- c },
		OnDisconnect:    func(c *Conn) { h.disconnected <- c },
		OnMessage:       func(c *Conn, m *Message) { h.messages <- received{c, m} },
		OnError: func(c *Conn, err error) {
			select {
			case h.errs <- err:
			default:
			}
		},
	}
	if mutate != nil {
		mutate(&config)
	}

	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	h.server = server
	return h
}

func (h *serverHarness) addr() string {
	return h.server.Addr().String()
}

func dialTest(t *testing.T, address string) *ClientConn {
	t.Helper()
	client, err := Dial(context.Background(), address, ClientConfig{
		TLSConfig:      &TLSConfig{InsecureSkipVerify: true},
		ConnectTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitConn(t *testing.T, ch chan *Conn, what string) *Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServerClientRoundTrip(t *testing.T) {
	h := startServer(t, nil)
	client := dialTest(t, h.addr())

	conn := waitConn(t, h.connected, "OnConnect")
	if !conn.IsOpen() {
		t.Error("connection should be open after handshake")
	}
	if got := h.server.ConnectionCount(); got != 1 {
		t.Errorf("ConnectionCount = %d, want 1", got)
	}
	if _, ok := h.server.Connection(conn.ID()); !ok {
		t.Errorf("Connection(%q) not found", conn.ID())
	}

	payload := []byte(`{"type":"heartbeat","deviceId":"kiosk-1"}`)
	if err := client.Send(payload); err != nil {
		t.Fatalf("client Send: %v", err)
	}

	var rcv received
	select {
	case rcv = <-h.messages:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnMessage")
	}
	if rcv.msg.Opcode != OpcodeText {
		t.Errorf("opcode = %v, want text", rcv.msg.Opcode)
	}
	if !bytes.Equal(rcv.msg.Payload, payload) {
		t.Errorf("payload = %q, want %q", rcv.msg.Payload, payload)
	}
	if rcv.conn.ID() != conn.ID() {
		t.Errorf("message arrived on connection %q, want %q", rcv.conn.ID(), conn.ID())
	}

	// Echo it back over the server-side connection.
	if err := conn.SendText(rcv.msg.Payload); err != nil {
		t.Fatalf("server SendText: %v", err)
	}
	echo, err := client.Receive(2 * time.Second)
	if err != nil {
		t.Fatalf("client Receive: %v", err)
	}
	if !bytes.Equal(echo, payload) {
		t.Errorf("echo = %q, want %q", echo, payload)
	}

	client.Close()
	waitConn(t, h.disconnected, "OnDisconnect")
	waitFor(t, "connection count to drop", func() bool {
		return h.server.ConnectionCount() == 0
	})
}

func TestServerInitiatedClose(t *testing.T) {
	h := startServer(t, nil)
	client := dialTest(t, h.addr())
	conn := waitConn(t, h.connected, "OnConnect")

	if err := conn.Close(CloseNormal, "maintenance"); err != nil {
		t.Fatalf("server Close: %v", err)
	}

	if _, err := client.Receive(2 * time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Receive after server close = %v, want ErrConnectionClosed", err)
	}
	// The connection stays rejected once closed.
	if _, err := client.Receive(time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("second Receive = %v, want ErrConnectionClosed", err)
	}
	if err := client.Send([]byte("late")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send after close = %v, want ErrConnectionClosed", err)
	}

	waitConn(t, h.disconnected, "OnDisconnect")
	waitFor(t, "connection to leave open state", func() bool {
		return !conn.IsOpen()
	})
}

func TestServerPingPong(t *testing.T) {
	h := startServer(t, nil)
	client := dialTest(t, h.addr())
	conn := waitConn(t, h.connected, "OnConnect")

	pongs := make(chan []byte, 1)
	conn.SetPongHandler(func(payload []byte) {
		select {
		case pongs <- payload:
		default:
		}
	})

	// The client answers pings from inside Receive, so park it there.
	done := make(chan error, 1)
	go func() {
		_, err := client.Receive(2 * time.Second)
		done <- err
	}()

	if err := conn.SendFrame(OpcodePing, EncodePingPayload(7)); err != nil {
		t.Fatalf("SendFrame ping: %v", err)
	}

	select {
	case payload := <-pongs:
		if seq := DecodePingPayload(payload); seq != 7 {
			t.Errorf("pong sequence = %d, want 7", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}

	// Release the parked Receive.
	if err := conn.SendText([]byte("done")); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("client Receive: %v", err)
	}
}

// writeMaskedRaw writes one masked frame with explicit FIN control, for
// payloads small enough for the 7-bit length encoding.
func writeMaskedRaw(t *testing.T, w io.Writer, fin bool, opcode Opcode, payload []byte) {
	t.Helper()
	if len(payload) > 125 {
		t.Fatalf("writeMaskedRaw payload too large: %d", len(payload))
	}

	header := []byte{byte(opcode), 0x80 | byte(len(payload))}
	if fin {
		header[0] |= 0x80
	}
	key := []byte{0x1f, 0x2e, 0x3d, 0x4c}

	frame := append(header, key...)
	for i, b := range payload {
		frame = append(frame, b^key[i%4])
	}
	if _, err := w.Write(frame); err != nil {
		t.Fatalf("raw frame write: %v", err)
	}
}

func TestServerReassemblesFragmentedMessage(t *testing.T) {
	h := startServer(t, nil)

	tlsConn, err := tls.Dial("tcp", h.addr(), &tls.Config{
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	})
	if err != nil {
		t.Fatalf("tls.Dial: %v", err)
	}
	defer tlsConn.Close()

	if _, err := clientHandshake(tlsConn, h.addr(), "/"); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	waitConn(t, h.connected, "OnConnect")

	writeMaskedRaw(t, tlsConn, false, OpcodeText, []byte(`{"type":`))
	writeMaskedRaw(t, tlsConn, false, OpcodeContinuation, []byte(`"heart`))
	writeMaskedRaw(t, tlsConn, true, OpcodeContinuation, []byte(`beat"}`))

	select {
	case rcv := <-h.messages:
		want := `{"type":"heartbeat"}`
		if string(rcv.msg.Payload) != want {
			t.Errorf("reassembled payload = %q, want %q", rcv.msg.Payload, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reassembled message")
	}
}

func TestServerStopClosesConnections(t *testing.T) {
	h := startServer(t, nil)

	first := dialTest(t, h.addr())
	second := dialTest(t, h.addr())
	waitConn(t, h.connected, "first OnConnect")
	waitConn(t, h.connected, "second OnConnect")

	if err := h.server.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := first.Receive(2 * time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("first client Receive = %v, want ErrConnectionClosed", err)
	}
	if _, err := second.Receive(2 * time.Second); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("second client Receive = %v, want ErrConnectionClosed", err)
	}

	if got := h.server.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount after Stop = %d, want 0", got)
	}
	if got := h.server.State(); got != ServerStopped {
		t.Errorf("State after Stop = %v, want STOPPED", got)
	}

	// Stop is idempotent.
	if err := h.server.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestServerStartWhileRunning(t *testing.T) {
	h := startServer(t, nil)
	if err := h.server.Start(context.Background()); !errors.Is(err, ErrServerRunning) {
		t.Errorf("Start on running server = %v, want ErrServerRunning", err)
	}
}

func TestServerPortFallback(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer occupied.Close()
	takenPort := occupied.Addr().(*net.TCPAddr).Port
	fallback := freePort(t)

	h := startServer(t, func(c *ServerConfig) {
		c.Port = takenPort
		c.FallbackPorts = []int{fallback}
	})

	if got := h.server.Addr().(*net.TCPAddr).Port; got != fallback {
		t.Errorf("listening on port %d, want fallback %d", got, fallback)
	}

	// The fallback listener accepts connections as usual.
	dialTest(t, h.addr())
	waitConn(t, h.connected, "OnConnect")
}

func TestServerEphemeralPort(t *testing.T) {
	h := startServer(t, func(c *ServerConfig) {
		c.Port = 0
		c.FallbackPorts = nil
	})

	if got := h.server.Addr().(*net.TCPAddr).Port; got == 0 {
		t.Fatal("Addr still reports port 0 after binding an ephemeral port")
	}

	dialTest(t, h.addr())
	waitConn(t, h.connected, "OnConnect")
}

func TestServerBindFailure(t *testing.T) {
	first, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer first.Close()
	second, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to occupy port: %v", err)
	}
	defer second.Close()

	server, err := NewServer(ServerConfig{
		TLSConfig:     &TLSConfig{Certificate: loopbackCert(t)},
		Host:          "127.0.0.1",
		Port:          first.Addr().(*net.TCPAddr).Port,
		FallbackPorts: []int{second.Addr().(*net.TCPAddr).Port},
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	if err := server.Start(context.Background()); !errors.Is(err, ErrBindFailed) {
		t.Fatalf("Start = %v, want ErrBindFailed", err)
	}
	if got := server.State(); got != ServerStopped {
		t.Errorf("State after failed Start = %v, want STOPPED", got)
	}
}

func TestServerReportsHandshakeFailures(t *testing.T) {
	h := startServer(t, nil)

	// A client that refuses the self-signed certificate aborts the TLS
	// handshake with an alert; the server classifies it.
	_, err := Dial(context.Background(), h.addr(), ClientConfig{
		TLSConfig:      &TLSConfig{},
		ConnectTimeout: 2 * time.Second,
	})
	if err == nil {
		t.Fatal("Dial without trust anchors should fail")
	}

	select {
	case srvErr := <-h.errs:
		if !errors.Is(srvErr, ErrPeerRejectedCertificate) && !errors.Is(srvErr, ErrTLSHandshake) {
			t.Errorf("server error = %v, want a classified TLS handshake error", srvErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side handshake error")
	}

	if got := h.server.ConnectionCount(); got != 0 {
		t.Errorf("ConnectionCount = %d, want 0 after failed handshake", got)
	}
}

func TestDialRequiresTLSConfig(t *testing.T) {
	if _, err := Dial(context.Background(), "127.0.0.1:9443", ClientConfig{}); err == nil {
		t.Fatal("Dial without TLSConfig should fail")
	}
}
